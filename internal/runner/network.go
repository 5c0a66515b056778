package runner

import (
	"time"

	"github.com/valyala/fasthttp"
)

// httpDeliverer posts mutated bytes as the body of an HTTP request against
// a long-lived target HTTP server, the network-http delivery flavor.
type httpDeliverer struct {
	client  *fasthttp.Client
	url     string
	timeout time.Duration
}

func newHTTPDeliverer(addr string, timeout time.Duration) *httpDeliverer {
	return &httpDeliverer{
		client: &fasthttp.Client{
			MaxConnsPerHost: 8,
		},
		url:     addr,
		timeout: timeout,
	}
}

// Deliver sends input as a POST body; the response is discarded, since
// this flavor's crash detection relies entirely on the target process's
// own exit status, not on the HTTP response.
func (d *httpDeliverer) Deliver(input []byte) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(d.url)
	req.Header.SetMethod("POST")
	req.SetBody(input)

	return d.client.DoTimeout(req, resp, d.timeout)
}

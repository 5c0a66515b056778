package mutator

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/gjson"
)

// Dict holds the dictionary tokens loaded via --dict, used by the havoc
// dictionary-insertion stage.
type Dict struct {
	tokens [][]byte
}

// LoadDict reads path as a dictionary file. The line-based format (one
// token per line, blank lines and "#" comments ignored) is the default; a
// file whose first non-blank byte is '[' or '{' is instead parsed with
// gjson as a JSON array of string tokens, an ergonomic alternate format
// the havoc dictionary stage treats identically once loaded.
func LoadDict(path string) (*Dict, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load dict %s: %w", path, err)
	}

	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '{') {
		return parseJSONDict(raw)
	}
	return parseLineDict(raw), nil
}

func parseLineDict(raw []byte) *Dict {
	d := &Dict{}
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		d.tokens = append(d.tokens, []byte(line))
	}
	return d
}

func parseJSONDict(raw []byte) (*Dict, error) {
	result := gjson.ParseBytes(raw)
	if !result.IsArray() {
		return nil, fmt.Errorf("dict JSON must be an array of strings")
	}

	d := &Dict{}
	var parseErr error
	result.ForEach(func(_, value gjson.Result) bool {
		if value.Type != gjson.String {
			parseErr = fmt.Errorf("dict JSON entries must be strings, got %s", value.Type)
			return false
		}
		d.tokens = append(d.tokens, []byte(value.String()))
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return d, nil
}

// RandomToken returns a random token, or nil if the dictionary is empty.
func (d *Dict) RandomToken() []byte {
	if d == nil || len(d.tokens) == 0 {
		return nil
	}
	return d.tokens[secureRandomInt(len(d.tokens))]
}

// Len reports the number of loaded tokens.
func (d *Dict) Len() int {
	if d == nil {
		return 0
	}
	return len(d.tokens)
}

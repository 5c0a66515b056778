package worker

import "testing"

func TestGenerateNameFormat(t *testing.T) {
	got := GenerateName(1000, 2, 55, "seed.bin")
	want := "manul-1000-2-55_seed.bin"
	if got != want {
		t.Fatalf("GenerateName = %q, want %q", got, want)
	}
}

func TestGenerateNameStripsPriorTag(t *testing.T) {
	reentrant := "manul-1000-2-55_seed.bin"
	got := GenerateName(2000, 3, 99, reentrant)
	want := "manul-2000-3-99_seed.bin"
	if got != want {
		t.Fatalf("GenerateName = %q, want %q (prior tag not stripped)", got, want)
	}
}

func TestStripPriorTagLeavesUnrelatedUnderscoresAlone(t *testing.T) {
	name := "manul-not-a-timestamp_payload"
	got := stripPriorTag(name)
	if got != name {
		t.Fatalf("stripPriorTag(%q) = %q, want unchanged", name, got)
	}
}

func TestStripPriorTagIgnoresNonPrefixedNames(t *testing.T) {
	if got := stripPriorTag("seed.bin"); got != "seed.bin" {
		t.Fatalf("stripPriorTag(%q) = %q, want unchanged", "seed.bin", got)
	}
}

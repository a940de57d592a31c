package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := `{"msg":"invalid to","to":"+1 (555) 123-9876","owner":"sam@example.com","card":"4242 4242 4242 4242"}`
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
	if strings.Contains(out, "9876") {
		t.Fatalf("output still contains phone digits: %q", out)
	}
}

func TestRedactPIILeavesCleanText(t *testing.T) {
	out, changed := RedactPII("call placed")
	if changed || out != "call placed" {
		t.Fatalf("RedactPII() = %q, %v, want unchanged", out, changed)
	}
}

func TestMaskPhone(t *testing.T) {
	cases := map[string]string{
		"+919876543210":  "+********3210",
		"(555) 123-9876": "******9876",
		"1234":           "****",
		"":               "",
		"unknown":        "[REDACTED_PHONE]",
	}
	for in, want := range cases {
		if got := MaskPhone(in); got != want {
			t.Fatalf("MaskPhone(%q) = %q, want %q", in, got, want)
		}
	}
}

package middleware

import (
	"strings"
	"testing"
)

func TestRedact_TokenQueryParam(t *testing.T) {
	in := "token=a1b2c3d4e5f6a7b8a1b2c3d4e5f6a7b8a1b2c3d4e5f6a7b8a1b2c3d4e5f6a7b8&x=1"
	out := redact(in)
	if strings.Contains(out, "a1b2c3d4") {
		t.Fatalf("token value leaked: %q", out)
	}
	if !strings.Contains(out, "token=[REDACTED:token]") {
		t.Fatalf("token param not masked: %q", out)
	}
	if !strings.Contains(out, "x=1") {
		t.Fatalf("unrelated params must survive: %q", out)
	}
}

func TestRedact_BareHexToken(t *testing.T) {
	tok := strings.Repeat("ab", 32)
	out := redact("presented " + tok + " here")
	if strings.Contains(out, tok) {
		t.Fatalf("bare token leaked: %q", out)
	}
}

func TestRedact_EmailAndUUID(t *testing.T) {
	out := redact("order for reader@example.com id 123e4567-e89b-12d3-a456-426614174000")
	if strings.Contains(out, "reader@example.com") {
		t.Fatalf("email leaked: %q", out)
	}
	if strings.Contains(out, "123e4567") {
		t.Fatalf("uuid leaked: %q", out)
	}
}

func TestRedact_PlainTextUntouched(t *testing.T) {
	in := "days=30&order=asc"
	if out := redact(in); out != in {
		t.Fatalf("harmless input mangled: %q -> %q", in, out)
	}
}

package sanitize

import "testing"

func TestStringRawAndBase64(t *testing.T) {
	secret := "ghp_AAAABBBBCCCCDDDD"
	input := "token=ghp_AAAABBBBCCCCDDDD&b64=Z2hwX0FBQUFCQkJCQ0NDQ0RERERcomma"
	out := String(input, []string{secret})

	if contains := wantNotContains(out, secret); !contains {
		t.Fatalf("expected raw secret scrubbed, got %q", out)
	}
	if !wantNotContains(out, "Z2hwX0FBQUFCQkJCQ0NDQ0RERER") {
		t.Fatalf("expected base64 form scrubbed, got %q", out)
	}
}

func wantNotContains(s, sub string) bool {
	return !containsSubstring(s, sub)
}

func containsSubstring(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func TestStringSkipsShortSecrets(t *testing.T) {
	out := String("the pin is 123", []string{"123"})
	if out != "the pin is 123" {
		t.Fatalf("expected secrets shorter than 4 chars to be left alone, got %q", out)
	}
}

func TestStringIdempotent(t *testing.T) {
	secrets := []string{"s3cr3t-value", "anoth3r-s3cret"}
	input := "value=s3cr3t-value other=anoth3r-s3cret"
	once := String(input, secrets)
	twice := String(once, secrets)
	if once != twice {
		t.Fatalf("expected idempotent output, got %q then %q", once, twice)
	}
}

func TestStringLongestSecretFirst(t *testing.T) {
	// "password123" contains "pass" as a substring; scrubbing the shorter
	// secret first would leave a mangled remainder of the longer one.
	secrets := []string{"pass", "password123"}
	out := String("login with password123 please", secrets)
	if containsSubstring(out, "password123") {
		t.Fatalf("expected longer secret fully replaced, got %q", out)
	}
	if out != "login with "+Marker+" please" {
		t.Fatalf("expected single clean replacement, got %q", out)
	}
}

func TestStringMultipleEncodingsAllScrubbed(t *testing.T) {
	secret := "swordfish9"
	forms := encodingsOf(secret)
	for _, f := range forms {
		out := String("prefix "+f+" suffix", []string{secret})
		if containsSubstring(out, f) && f != Marker {
			t.Fatalf("encoding form %q was not scrubbed: %q", f, out)
		}
	}
}

func TestHeaders(t *testing.T) {
	secret := "tok_abcdef1234567890"
	h := map[string][]string{
		"X-Upstream-Token": {secret},
		"Content-Type":      {"application/json"},
	}
	out := Headers(h, []string{secret})
	if out["X-Upstream-Token"][0] != Marker {
		t.Fatalf("expected header value scrubbed, got %q", out["X-Upstream-Token"][0])
	}
	if out["Content-Type"][0] != "application/json" {
		t.Fatalf("expected unrelated header untouched, got %q", out["Content-Type"][0])
	}
}

func TestPercentEncodeUnreservedOnly(t *testing.T) {
	out := percentEncode("a b/c")
	if out != "a%20b%2Fc" {
		t.Fatalf("expected RFC3986 unreserved-only escaping, got %q", out)
	}
}

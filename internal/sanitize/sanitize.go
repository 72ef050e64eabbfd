// Package sanitize rewrites secret material out of proxy responses before
// they cross back to the agent, covering six encoded forms of each secret.
package sanitize

import (
	"encoding/base64"
	"encoding/hex"
	"sort"
	"strings"
)

// Marker replaces every detected occurrence of a secret.
const Marker = "[REDACTED]"

// minSecretLen is the shortest secret the sanitizer will scrub; shorter
// values produce too many false positives to be worth masking.
const minSecretLen = 4

// encodingsOf returns every encoded form of secret the sanitizer checks,
// skipping forms that happen to equal each other so the replacer doesn't
// do redundant work.
func encodingsOf(secret string) []string {
	raw := []byte(secret)
	forms := []string{
		secret,
		base64.StdEncoding.EncodeToString(raw),
		base64.RawStdEncoding.EncodeToString(raw),
		base64.URLEncoding.EncodeToString(raw),
		base64.RawURLEncoding.EncodeToString(raw),
		percentEncode(secret),
		hex.EncodeToString(raw),
		strings.ToUpper(hex.EncodeToString(raw)),
	}
	seen := map[string]bool{}
	out := out0(forms, seen)
	return out
}

func out0(forms []string, seen map[string]bool) []string {
	var out []string
	for _, f := range forms {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// percentEncode applies RFC 3986 unreserved-only percent-encoding: every
// byte outside A-Z a-z 0-9 - _ . ~ is escaped as %XX (uppercase hex).
func percentEncode(s string) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_' || c == '.' || c == '~':
		return true
	default:
		return false
	}
}

// String returns a sanitized copy of s, replacing every encoded occurrence of any
// secret in secrets with Marker. Secrets shorter than minSecretLen are
// skipped. Secrets are processed longest-first so a short secret can never
// mask part of a longer one that contains it. The result is idempotent.
func String(s string, secrets []string) string {
	if s == "" || len(secrets) == 0 {
		return s
	}

	ordered := make([]string, 0, len(secrets))
	for _, sec := range secrets {
		if len(sec) >= minSecretLen {
			ordered = append(ordered, sec)
		}
	}
	if len(ordered) == 0 {
		return s
	}
	sort.Slice(ordered, func(i, j int) bool { return len(ordered[i]) > len(ordered[j]) })

	var needles []string
	for _, sec := range ordered {
		needles = append(needles, encodingsOf(sec)...)
	}
	// Longer needles must still be tried before shorter ones even across
	// different secrets' encodings, so one secret's raw form can't eat into
	// a longer secret's encoded form that happens to contain it.
	sort.SliceStable(needles, func(i, j int) bool { return len(needles[i]) > len(needles[j]) })

	out := s
	for _, n := range needles {
		if n == "" {
			continue
		}
		out = strings.ReplaceAll(out, n, Marker)
	}
	return out
}

// Strings sanitizes every element of ss, returning a new slice.
func Strings(ss []string, secrets []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = String(s, secrets)
	}
	return out
}

// Headers sanitizes every value of an HTTP-style header map, leaving keys
// untouched.
func Headers(h map[string][]string, secrets []string) map[string][]string {
	if h == nil {
		return nil
	}
	out := make(map[string][]string, len(h))
	for k, vs := range h {
		out[k] = Strings(vs, secrets)
	}
	return out
}

package util

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// Matches "Bearer <token>" (JWTs and opaque tokens). Keep it broad: tokens show up
	// in logs via downstream libraries and HTTP error messages.
	bearerTokenRe = regexp.MustCompile(`(?i)\bBearer\s+[^\s"']+`)

	// Common key=value formats that sometimes leak in error strings.
	apiKeyKVRe = regexp.MustCompile(`(?i)\b(api[_-]?key|gemini[_-]?api[_-]?key|access[_-]?key|secret[_-]?key|password)\b\s*[:=]\s*[^\s"'&]+`)

	// Access codes in URLs or form dumps, e.g. "pin=482913" or "?code=AB12".
	pinKVRe = regexp.MustCompile(`(?i)\b(pin|passcode|otp|access[_-]?code|code)=[^\s"'&]+`)
)

// RedactSecrets removes obvious secret-bearing substrings from error/log strings.
//
// This is intentionally conservative: it should be safe to call on any message,
// including user-provided inputs and upstream error strings.
func RedactSecrets(s string) string {
	if s == "" {
		return ""
	}
	out := s
	out = bearerTokenRe.ReplaceAllString(out, "Bearer <redacted>")
	out = apiKeyKVRe.ReplaceAllString(out, "<redacted_kv>")
	out = pinKVRe.ReplaceAllString(out, "${1}=<redacted>")
	return strings.TrimSpace(out)
}

// RedactValue replaces every occurrence of a known secret, such as an extracted PIN.
func RedactValue(s, secret string) string {
	secret = strings.TrimSpace(secret)
	if s == "" || secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "<redacted>")
}

// Truncate shortens s to at most n bytes, appending "..." when it cut anything.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return CutUTF8(s, n) + "..."
}

// CutUTF8 returns at most the first n bytes of s without splitting a multi-byte rune.
func CutUTF8(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

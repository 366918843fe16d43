package joblog

import (
	"strings"
	"unicode"
)

const Redacted = "***REDACTED***"

var sensitivePrefixes = []string{"pass", "secret", "token", "auth", "credential", "private"}

// IsSensitiveKey reports whether a context key names a secret. Keys are split
// into words on separators and camel case, so "db_root_pass", "apiKey" and
// "X-Auth-Token" all match while "monkey" or "keyboard" do not.
func IsSensitiveKey(key string) bool {
	for _, w := range splitWords(key) {
		if w == "key" || w == "keys" || w == "apikey" || w == "pwd" {
			return true
		}
		for _, p := range sensitivePrefixes {
			if strings.HasPrefix(w, p) {
				return true
			}
		}
	}
	return false
}

// Redact returns a deep copy of ctx where the value of every sensitive key is
// replaced by Redacted. Nested maps and slices are walked.
func Redact(ctx map[string]any) map[string]any {
	if ctx == nil {
		return nil
	}
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		if IsSensitiveKey(k) {
			out[k] = Redacted
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Redact(t)
	case map[string]string:
		m := make(map[string]any, len(t))
		for k, s := range t {
			m[k] = s
		}
		return Redact(m)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = redactValue(t[i])
		}
		return out
	default:
		return v
	}
}

// MaskValues replaces every occurrence of the given secret values in s.
func MaskValues(s string, secrets ...string) string {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, Redacted)
	}
	return s
}

// maskContext masks secret values inside the string values of an already
// redacted context. ctx is modified in place.
func maskContext(ctx map[string]any, secrets []string) map[string]any {
	if len(secrets) == 0 {
		return ctx
	}
	for k, v := range ctx {
		ctx[k] = maskValue(v, secrets)
	}
	return ctx
}

func maskValue(v any, secrets []string) any {
	switch t := v.(type) {
	case string:
		return MaskValues(t, secrets...)
	case map[string]any:
		return maskContext(t, secrets)
	case []any:
		for i := range t {
			t[i] = maskValue(t[i], secrets)
		}
		return t
	default:
		return v
	}
}

func splitWords(key string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	runes := []rune(key)
	for i, r := range runes {
		switch {
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			flush()
		case unicode.IsUpper(r) && i > 0 && unicode.IsLower(runes[i-1]):
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return words
}

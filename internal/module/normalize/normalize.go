// Package normalize extracts a canonical image payload (URL or data-URI)
// from heterogeneous provider response envelopes.
//
// Providers, and the same provider under different request parameters,
// return images in materially different shapes. Extraction runs a strict
// priority order of strategies and returns on first match; the contract is
// total (an image or nothing) and side-effect-free.
package normalize

import (
	"encoding/json"
	"strings"
)

// Image extracts the canonical image payload from a raw provider response
// body. It reports false when no image could be found anywhere in the
// payload; callers treat that the same as a provider error.
func Image(raw []byte) (string, bool) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", false
	}
	return FromMap(body)
}

// FromMap runs the extraction strategies over an already-decoded payload.
func FromMap(body map[string]any) (string, bool) {
	// 1. Top-level "images" field.
	if img, ok := fromImages(body["images"]); ok {
		return img, true
	}

	choices, _ := body["choices"].([]any)
	for _, c := range choices {
		choice, ok := c.(map[string]any)
		if !ok {
			continue
		}
		msg, ok := choice["message"].(map[string]any)
		if !ok {
			continue
		}

		// 2. Per-choice message "images" field.
		if img, ok := fromImages(msg["images"]); ok {
			return img, true
		}

		switch content := msg["content"].(type) {
		case []any:
			// 3. Structured content as a sequence of typed parts.
			if img, ok := fromParts(content); ok {
				return img, true
			}
		case map[string]any:
			// 4. Structured content as a single record.
			if img, ok := fromRecord(content); ok {
				return img, true
			}
		case string:
			// 5-7. Plain-text content.
			if img, ok := fromText(content); ok {
				return img, true
			}
		}
	}

	return "", false
}

// fromImages handles an "images" field: a non-empty sequence whose first
// element is either the payload itself or a record wrapping it.
func fromImages(v any) (string, bool) {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return "", false
	}
	return unwrap(list[0])
}

// unwrap resolves one level of list/record nesting around an image payload.
func unwrap(el any) (string, bool) {
	switch val := el.(type) {
	case string:
		if val != "" {
			return val, true
		}
	case []any:
		if len(val) > 0 {
			if s, ok := val[0].(string); ok && s != "" {
				return s, true
			}
		}
	case map[string]any:
		return fromRecord(val)
	}
	return "", false
}

// fromParts scans typed content parts for the first image-bearing one.
func fromParts(parts []any) (string, bool) {
	for _, p := range parts {
		part, ok := p.(map[string]any)
		if !ok {
			continue
		}
		typ, _ := part["type"].(string)
		if !strings.Contains(typ, "image") {
			continue
		}
		if img, ok := fromRecord(part); ok {
			return img, true
		}
	}
	return "", false
}

// fromRecord checks url, data, and nested image_url.url keys in that order.
func fromRecord(rec map[string]any) (string, bool) {
	if s, ok := rec["url"].(string); ok && s != "" {
		return s, true
	}
	if s, ok := rec["data"].(string); ok && s != "" {
		return s, true
	}
	if nested, ok := rec["image_url"].(map[string]any); ok {
		if s, ok := nested["url"].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// fromText applies the plain-text strategies: embedded data-URI, raw base64
// with a recognizable image signature, then an embedded https URL.
func fromText(text string) (string, bool) {
	// 5. Embedded data-URI.
	if idx := strings.Index(text, "data:image/"); idx >= 0 {
		return cutAtDelimiter(text[idx:]), true
	}

	// 6. Raw base64 with an image-format signature prefix.
	trimmed := strings.TrimSpace(text)
	if mime := sniffBase64MIME(trimmed); mime != "" {
		return "data:" + mime + ";base64," + trimmed, true
	}

	// 7. Embedded https URL.
	if idx := strings.Index(text, "https://"); idx >= 0 {
		return cutAtDelimiter(text[idx:]), true
	}

	return "", false
}

// cutAtDelimiter returns the prefix of s up to the first delimiter
// character: quote, whitespace, or closing bracket.
func cutAtDelimiter(s string) string {
	end := strings.IndexFunc(s, func(r rune) bool {
		switch r {
		case '"', '\'', '`', ')', ']', '}':
			return true
		}
		return r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if end < 0 {
		return s
	}
	return s[:end]
}

// base64 signature prefixes of common image formats.
var base64Signatures = []struct {
	prefix string
	mime   string
}{
	{"iVBORw0KGgo", "image/png"},
	{"/9j/", "image/jpeg"},
	{"R0lGOD", "image/gif"},
	{"UklGR", "image/webp"},
}

// sniffBase64MIME infers the MIME type of a raw base64 string from its
// signature prefix, or returns "" when it does not look like image data.
func sniffBase64MIME(s string) string {
	if len(s) < 16 {
		return ""
	}
	for _, sig := range base64Signatures {
		if strings.HasPrefix(s, sig.prefix) {
			return sig.mime
		}
	}
	return ""
}

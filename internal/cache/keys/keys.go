// Package keys builds cache keys for windowed feature pages.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const pagePrefix = "page"

// readable part of the layer segment; the hash carries uniqueness
const maxLayerTextLen = 96

// PageKey identifies one window of one layer: page:<layer>:<hash>:<start>:<count>.
func PageKey(layerURL string, start, count int) string {
	return fmt.Sprintf("%s%d:%d", LayerPrefix(layerURL), start, count)
}

// LayerPrefix is the shared prefix of every PageKey for layerURL. It never
// contains glob metacharacters, so it is safe in a SCAN MATCH pattern.
func LayerPrefix(layerURL string) string {
	u := normalizeURL(layerURL)
	layer := sanitizeLayer(stripScheme(u))
	if len(layer) > maxLayerTextLen {
		layer = layer[len(layer)-maxLayerTextLen:]
	}
	return fmt.Sprintf("%s:%s:%016x:", pagePrefix, layer, xxhash.Sum64String(u))
}

func normalizeURL(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), "/")
}

func stripScheme(s string) string {
	if i := strings.Index(s, "://"); i >= 0 {
		return s[i+3:]
	}
	return s
}

// keeps alphanumerics, '_' and '-'; other runs collapse to a single '-'
func sanitizeLayer(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r <= unicode.MaxASCII && unicode.IsDigit(r))
}

package keys

import (
	"regexp"
	"strings"
	"testing"
	"unicode"
)

const culverts = "https://arcgisservertest.maine.gov/arcgis/rest/services/mdot/MaineDOT_Dynamic_New/MapServer/3"

func TestDeterminism_SameInputsSameKey(t *testing.T) {
	k1 := PageKey(culverts, 250, 250)
	k2 := PageKey(culverts, 250, 250)
	if k1 != k2 {
		t.Fatalf("determinism failed:\n k1=%s\n k2=%s", k1, k2)
	}
}

func TestNormalization_TrailingSlashAndSpaces(t *testing.T) {
	k1 := PageKey("  "+culverts+"/ ", 0, 10)
	k2 := PageKey(culverts, 0, 10)
	if k1 != k2 {
		t.Fatalf("normalized keys differ:\n k1=%s\n k2=%s", k1, k2)
	}
	if !regexp.MustCompile(`^[A-Za-z0-9:_\-]+$`).MatchString(k1) {
		t.Fatalf("key contains disallowed characters: %s", k1)
	}
}

func TestDifference_WindowsAndLayersAreDistinct(t *testing.T) {
	tests := []struct {
		name string
		a, b string
	}{
		{"start", PageKey(culverts, 0, 10), PageKey(culverts, 10, 10)},
		{"count", PageKey(culverts, 0, 10), PageKey(culverts, 0, 100)},
		{"start/count split", PageKey(culverts, 1, 10), PageKey(culverts, 11, 0)},
		{"layer", PageKey(culverts, 0, 10), PageKey(strings.TrimSuffix(culverts, "3")+"4", 0, 10)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.a == tc.b {
				t.Fatalf("keys must differ: %s", tc.a)
			}
		})
	}
}

func TestLayerPrefix_PrefixesEveryPageKey(t *testing.T) {
	p := LayerPrefix(culverts)
	for _, k := range []string{PageKey(culverts, 0, 250), PageKey(culverts, 500, 10)} {
		if !strings.HasPrefix(k, p) {
			t.Fatalf("key %s lacks prefix %s", k, p)
		}
	}
	other := PageKey(culverts+"0", 0, 250)
	if strings.HasPrefix(other, p) {
		t.Fatalf("layer 30 key %s must not match layer 3 prefix %s", other, p)
	}
	if strings.ContainsAny(p, "*?[]") {
		t.Fatalf("prefix has glob metacharacters: %s", p)
	}
}

func TestUnicodeSafety_NoPanicAndHashPresent(t *testing.T) {
	k := PageKey("https://example.test/Göteborg/雪/MapServer/0", 0, 5)
	for _, r := range k {
		if r > unicode.MaxASCII {
			t.Fatalf("non-ASCII rune leaked into key: %q in %s", r, k)
		}
	}
	if !regexp.MustCompile(`:[0-9a-f]{16}:0:5$`).MatchString(k) {
		t.Fatalf("missing hash segment in key: %s", k)
	}
}

package anchor

import (
	"strings"
	"unicode"
)

// scriptRegions maps detected scripts to the prompt words that indicate the
// user actually asked for music from that region.
var scriptRegions = map[string][]string{
	"cjk":      {"japan", "japanese", "j-pop", "jpop", "china", "chinese", "c-pop", "mandarin", "cantonese", "korea", "korean", "k-pop", "kpop", "taiwan"},
	"arabic":   {"arabic", "arab", "middle east", "egypt", "lebanese", "morocco"},
	"hebrew":   {"hebrew", "israel", "israeli"},
	"thai":     {"thai", "thailand"},
	"cyrillic": {"russia", "russian", "ukraine", "ukrainian", "bulgarian", "serbian", "cyrillic"},
}

// detectScript returns the non-Latin script family of a name, or "" when the
// name is Latin-script.
func detectScript(name string) string {
	for _, r := range name {
		switch {
		case unicode.Is(unicode.Han, r), unicode.Is(unicode.Hiragana, r),
			unicode.Is(unicode.Katakana, r), unicode.Is(unicode.Hangul, r):
			return "cjk"
		case unicode.Is(unicode.Arabic, r):
			return "arabic"
		case unicode.Is(unicode.Hebrew, r):
			return "hebrew"
		case unicode.Is(unicode.Thai, r):
			return "thai"
		case unicode.Is(unicode.Cyrillic, r):
			return "cyrillic"
		}
	}
	return ""
}

// scriptMismatch reports whether a candidate's script is non-Latin while the
// prompt carries no indicator of the matching region.
func scriptMismatch(prompt string, names ...string) bool {
	script := ""
	for _, name := range names {
		if s := detectScript(name); s != "" {
			script = s
			break
		}
	}
	if script == "" {
		return false
	}
	lower := strings.ToLower(prompt)
	for _, indicator := range scriptRegions[script] {
		if strings.Contains(lower, indicator) {
			return false
		}
	}
	return true
}

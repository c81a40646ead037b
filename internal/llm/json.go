package llm

import (
	"fmt"
	"strings"
)

// ExtractJSON returns the first balanced {...} substring of a completion.
// Models frequently wrap JSON in prose or markdown fences; consumers decode the
// extracted object strictly and fall back on failure.
func ExtractJSON(completion string) (string, error) {
	start := strings.IndexByte(completion, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object in completion")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(completion); i++ {
		c := completion[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return completion[start : i+1], nil
				}
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object in completion")
}

// Package fuzzy provides track and artist name normalization and similarity
// scoring for deduplication and enrichment matching.
package fuzzy

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	featRegex       = regexp.MustCompile(`(?i)\s*[\(\[]?\s*(?:feat\.?|ft\.?|featuring)\s+[^\)\]]*[\)\]]?\s*`)
	featHyphenRegex = regexp.MustCompile(`(?i)\s+-\s+(?:feat\.?|ft\.?|featuring)\s+.*$`)
	versionRegex    = regexp.MustCompile(`(?i)\s*[\(\[]\s*(remaster(ed)?|deluxe|extended|radio edit|clean|explicit|mono|stereo)[^\)\]]*[\)\]]\s*`)
	versionHyphen   = regexp.MustCompile(`(?i)\s+-\s+(remaster(ed)?|deluxe|extended|radio edit|clean|explicit)\b.*$`)
	punctRegex      = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "of": true,
	"in": true, "on": true, "to": true, "for": true, "with": true,
}

type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// NormalizeTitle strips featuring credits and version suffixes, both the
// parenthesized and hyphenated forms, then lowercases.
func (n *Normalizer) NormalizeTitle(title string) string {
	title = featHyphenRegex.ReplaceAllString(title, "")
	title = versionHyphen.ReplaceAllString(title, "")
	title = featRegex.ReplaceAllString(title, " ")
	title = versionRegex.ReplaceAllString(title, " ")
	title = n.basicNormalize(title)
	return strings.TrimSpace(title)
}

func (n *Normalizer) NormalizeArtist(artist string) string {
	artist = n.basicNormalize(artist)

	artist = strings.ReplaceAll(artist, " and ", " & ")
	artist = strings.ReplaceAll(artist, " feat ", " feat. ")
	artist = strings.ReplaceAll(artist, " ft ", " ft. ")

	return artist
}

func (n *Normalizer) basicNormalize(text string) string {
	text = norm.NFKD.String(text)

	var result strings.Builder
	for _, r := range text {
		if !unicode.IsMark(r) {
			result.WriteRune(r)
		}
	}
	text = result.String()

	text = punctRegex.ReplaceAllString(text, " ")
	text = whitespaceRegex.ReplaceAllString(text, " ")

	text = strings.ToLower(text)
	text = strings.TrimSpace(text)

	return text
}

// CalculateSimilarity is an LCS-based similarity in [0,1].
func (n *Normalizer) CalculateSimilarity(s1, s2 string) float64 {
	if s1 == s2 {
		return 1.0
	}

	if len(s1) == 0 || len(s2) == 0 {
		return 0.0
	}

	return float64(n.longestCommonSubsequence(s1, s2)) / float64(maxInt(len(s1), len(s2)))
}

func (n *Normalizer) longestCommonSubsequence(s1, s2 string) int {
	m, l := len(s1), len(s2)
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, l+1)
	}

	for i := 1; i <= m; i++ {
		for j := 1; j <= l; j++ {
			if s1[i-1] == s2[j-1] {
				dp[i][j] = dp[i-1][j-1] + 1
			} else {
				dp[i][j] = maxInt(dp[i-1][j], dp[i][j-1])
			}
		}
	}

	return dp[m][l]
}

// TokenOverlap returns the share of non-stopword tokens of want that appear in
// got. Used to accept enrichment search results by artist-name overlap.
func (n *Normalizer) TokenOverlap(want, got string) float64 {
	wantTokens := n.significantTokens(want)
	if len(wantTokens) == 0 {
		return 0
	}

	gotSet := make(map[string]bool)
	for _, tok := range n.significantTokens(got) {
		gotSet[tok] = true
	}

	matched := 0
	for _, tok := range wantTokens {
		if gotSet[tok] {
			matched++
		}
	}

	return float64(matched) / float64(len(wantTokens))
}

func (n *Normalizer) significantTokens(s string) []string {
	var out []string
	for _, tok := range strings.Fields(n.basicNormalize(s)) {
		if !stopwords[tok] {
			out = append(out, tok)
		}
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Package text extracts track and artist mentions from free-text mood prompts.
package text

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	// "especially One More Time by Daft Punk" / "particularly X by Y"
	especiallyRegex = regexp.MustCompile(`(?i)(?:especially|particularly|specifically)\s+"?([^,".]+?)"?\s+by\s+"?([^,".]+?)"?(?:[,.]|$)`)
	// "like One More Time by Daft Punk" / "such as X by Y"
	likeByRegex = regexp.MustCompile(`(?i)(?:like|such as|including)\s+"?([^,".]+?)"?\s+by\s+"?([^,".]+?)"?(?:[,.]|$)`)
	// quoted title with by: `"One More Time" by Daft Punk`
	quotedByRegex = regexp.MustCompile(`"([^"]+)"\s+by\s+"?([^,".]+?)"?(?:[,.]|$)`)
	// bare "especially X" without an artist; " by " terminates the title so
	// the pair patterns keep ownership of "X by Y" phrases
	especiallyBareRegex = regexp.MustCompile(`(?i)(?:especially|particularly)\s+"?([^,".]+?)"?(?:\s+by\s|[,.]|$)`)
	// artist mentions: "artists like Justice", "stuff by Justice", "from Justice"
	artistRegex = regexp.MustCompile(`(?i)(?:artists?\s+like|stuff\s+by|music\s+by|songs?\s+by|tracks?\s+by|from)\s+"?([^,".]+?)"?(?:[,.]|$)`)

	spaceRegex = regexp.MustCompile(`\s+`)
)

// Mention is a track the prompt explicitly names; Artist may be empty.
type Mention struct {
	Title  string
	Artist string
}

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// ExtractTrackMentions scans the prompt for explicit track references. Results
// are ordered by appearance and deduplicated on (title, artist).
func (p *Parser) ExtractTrackMentions(prompt string) []Mention {
	prompt = p.normalize(prompt)

	type hit struct {
		pos     int
		mention Mention
	}
	var hits []hit

	collect := func(re *regexp.Regexp, withArtist bool) {
		for _, idx := range re.FindAllStringSubmatchIndex(prompt, -1) {
			m := Mention{Title: strings.TrimSpace(prompt[idx[2]:idx[3]])}
			if withArtist && idx[4] >= 0 {
				m.Artist = strings.TrimSpace(prompt[idx[4]:idx[5]])
			}
			if m.Title == "" {
				continue
			}
			hits = append(hits, hit{pos: idx[0], mention: m})
		}
	}

	collect(especiallyRegex, true)
	collect(likeByRegex, true)
	collect(quotedByRegex, true)
	collect(especiallyBareRegex, false)

	seen := make(map[string]bool)
	var out []Mention
	for _, h := range hits {
		key := strings.ToLower(h.mention.Title + "|" + h.mention.Artist)
		// A bare-title duplicate of an already captured title+artist pair is
		// the same mention seen by a weaker pattern.
		if seen[key] || (h.mention.Artist == "" && p.titleSeen(seen, h.mention.Title)) {
			continue
		}
		seen[key] = true
		out = append(out, h.mention)
	}

	return out
}

func (p *Parser) titleSeen(seen map[string]bool, title string) bool {
	prefix := strings.ToLower(title) + "|"
	for k := range seen {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

// ExtractArtistMentions returns artist names the prompt references directly.
func (p *Parser) ExtractArtistMentions(prompt string) []string {
	prompt = p.normalize(prompt)

	seen := make(map[string]bool)
	var out []string
	for _, m := range artistRegex.FindAllStringSubmatch(prompt, -1) {
		name := strings.TrimSpace(m[1])
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, name)
	}

	// Track mentions with artists also count as artist mentions.
	for _, tm := range p.ExtractTrackMentions(prompt) {
		if tm.Artist == "" {
			continue
		}
		key := strings.ToLower(tm.Artist)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tm.Artist)
	}

	return out
}

func (p *Parser) normalize(text string) string {
	text = strings.TrimSpace(text)
	text = norm.NFKC.String(text)
	text = spaceRegex.ReplaceAllString(text, " ")
	return text
}

package insight

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	maxPosts      = 2
	maxPostRunes  = 280
	minPostLength = 10
)

var postLineRe = regexp.MustCompile(`(?mi)^(?:post|tweet)\s*\d*\s*[:：]\s*(.+)$`)

// ExtractPosts pulls up to two social-post candidates out of the narrative.
// Lines outside the 10..280 rune window are dropped.
func ExtractPosts(narrative string) []string {
	var posts []string
	for _, m := range postLineRe.FindAllStringSubmatch(narrative, -1) {
		text := strings.Trim(strings.TrimSpace(m[1]), `"'`)
		n := utf8.RuneCountInString(text)
		if n <= minPostLength || n > maxPostRunes {
			continue
		}
		posts = append(posts, text)
		if len(posts) == maxPosts {
			break
		}
	}
	return posts
}

package chat

import (
	"regexp"

	"github.com/samber/lo"
)

var mentionPattern = regexp.MustCompile(`@(\w+)`)

// ExtractMentions scans content for @handle tokens and returns the handles
// in order of appearance. Duplicates are kept; the caller decides whether
// repetition matters.
//
// Mentions are extracted once at send time and stored as a snapshot. Editing
// a message does not recompute them, so the stored list can drift from the
// current content. Intentional simplification.
func ExtractMentions(content string) []string {
	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	return lo.Map(matches, func(m []string, _ int) string {
		return m[1]
	})
}

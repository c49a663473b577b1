package relay

import (
	"html"
	"strings"
)

const (
	maxCaptionTags = 50
	noTagsText     = "none"
	tagSeparator   = ", "
)

// FormatCaption renders the HTML caption for a post's tags. Only the first
// maxCaptionTags tags are shown and all tag text is escaped.
func FormatCaption(tags []string) string {
	text := noTagsText
	if len(tags) > 0 {
		text = strings.Join(tags[:min(len(tags), maxCaptionTags)], tagSeparator)
	}

	return "🔖 <b>Tags</b>: " + html.EscapeString(text)
}

package scheduler

import (
	"fmt"
	"html"

	"github.com/microcosm-cc/bluemonday"
)

var strict = bluemonday.StrictPolicy()

// FormatPost renders an article as a Telegram HTML message.
func FormatPost(title, link, summary string) string {
	return fmt.Sprintf("<b>%s</b> <a href='%s'>| Source</a>\n%s\n\n<i>AI-generated post</i>",
		strict.Sanitize(title), html.EscapeString(link), strict.Sanitize(summary))
}

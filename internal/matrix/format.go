// ABOUTME: Markdown to Matrix message content conversion
// ABOUTME: Plain body keeps the markdown source; formatted body is goldmark HTML

package matrix

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// renderHTML converts markdown to HTML. Raw HTML in the input is dropped by
// goldmark's default renderer, so remote output cannot inject markup.
func renderHTML(md string) (string, bool) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", false
	}
	return strings.TrimSpace(buf.String()), true
}

// textContent builds an m.text message, optionally as a reply to inReplyTo.
func textContent(text string, inReplyTo id.EventID) *event.MessageEventContent {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
	}
	if html, ok := renderHTML(text); ok && html != "<p>"+text+"</p>" {
		content.Format = event.FormatHTML
		content.FormattedBody = html
	}
	if inReplyTo != "" {
		content.RelatesTo = &event.RelatesTo{InReplyTo: &event.InReplyTo{EventID: inReplyTo}}
	}
	return content
}

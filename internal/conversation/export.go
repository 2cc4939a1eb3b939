package conversation

import (
	"bytes"
	"fmt"
	"html"
	"io"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

// RenderHTML writes msgs as a standalone HTML page. Assistant answers are
// treated as Markdown; user and error entries are escaped text.
func RenderHTML(w io.Writer, title string, msgs []Message) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "<!DOCTYPE html>\n<html>\n<head><meta charset=\"utf-8\"><title>%s</title></head>\n<body>\n", html.EscapeString(title))
	fmt.Fprintf(&buf, "<h1>%s</h1>\n", html.EscapeString(title))

	for _, m := range msgs {
		fmt.Fprintf(&buf, "<section class=\"%s\">\n", m.Role)
		fmt.Fprintf(&buf, "<p class=\"meta\">%s &middot; %s</p>\n", roleLabel(m.Role), m.Timestamp.Format("2006-01-02 15:04"))

		switch m.Role {
		case RoleAssistant:
			if err := md.Convert([]byte(m.Content), &buf); err != nil {
				return fmt.Errorf("rendering message %s: %w", m.ID, err)
			}
		default:
			fmt.Fprintf(&buf, "<p>%s</p>\n", html.EscapeString(m.Content))
		}

		if len(m.Sources) > 0 {
			buf.WriteString("<ul class=\"sources\">\n")
			for _, src := range m.Sources {
				fmt.Fprintf(&buf, "<li>%s</li>\n", html.EscapeString(src))
			}
			buf.WriteString("</ul>\n")
		}
		buf.WriteString("</section>\n")
	}

	buf.WriteString("</body>\n</html>\n")
	_, err := w.Write(buf.Bytes())
	return err
}

func roleLabel(r Role) string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return "Error"
	}
}

package tgui

import (
	"fmt"
	"html"
	"strings"
)

// ParseMode is the Telegram parse mode matching the markup produced here.
const ParseMode = "HTML"

// H is HTML that is already safe for Telegram's HTML parse mode.
type H string

func (h H) String() string { return string(h) }

// Esc escapes text for Telegram HTML parse mode.
func Esc(s string) H { return H(html.EscapeString(s)) }

func wrap(tag string, inner H) H { return H("<" + tag + ">" + inner.String() + "</" + tag + ">") }

func B(s string) H    { return wrap("b", Esc(s)) }
func Code(s string) H { return wrap("code", Esc(s)) }

// Link builds an anchor. Both the text and the href are escaped.
func Link(text, url string) H {
	return H(fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(url), html.EscapeString(text)))
}

// Lines joins non-empty parts with newlines.
func Lines(parts ...H) H {
	ss := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p.String()) == "" {
			continue
		}
		ss = append(ss, p.String())
	}
	return H(strings.Join(ss, "\n"))
}

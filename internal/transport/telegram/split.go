package telegram

import "strings"

// textLimit stays under Telegram's 4096 so re-balanced HTML chunks still fit.
const textLimit = 4000

// splitText splits long messages into chunks Telegram accepts. It prefers
// newline boundaries. In HTML parse mode it never cuts inside a tag, backs
// off to before an element that would be left open, and otherwise closes the
// open elements at the cut and reopens them in the next chunk.
func splitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(parseMode, "HTML")

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	var carry []htmlTag
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		// Prefer a newline near the end of the window, but not a tiny chunk.
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		if html && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start {
				end = lastOpen
			}
			for _, t := range scanTags(carry, rs, start, end) {
				if t.pos > start && t.pos-start >= limit/3 {
					end = t.pos
					break
				}
			}
		}

		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		if html {
			open := scanTags(carry, rs, start, end)
			chunk = openingTags(carry) + chunk + closingTags(open)
			carry = carry[:0:0]
			for _, t := range open {
				t.pos = -1
				carry = append(carry, t)
			}
			if strings.TrimSpace(stripTags(chunk)) != "" {
				out = append(out, chunk)
			}
		} else {
			out = append(out, chunk)
		}
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

type htmlTag struct {
	name string
	open string // opening tag as written, attributes included
	pos  int    // rune offset of '<', -1 when carried from an earlier chunk
}

// scanTags applies the complete tags in rs[from:to] to a copy of stack and
// returns the elements still open.
func scanTags(stack []htmlTag, rs []rune, from, to int) []htmlTag {
	stack = append([]htmlTag(nil), stack...)
	for i := from; i < to; i++ {
		if rs[i] != '<' {
			continue
		}
		j := i + 1
		for j < to && rs[j] != '>' {
			j++
		}
		if j >= to {
			break
		}
		tag := string(rs[i : j+1])
		inner := strings.TrimSpace(tag[1 : len(tag)-1])
		switch {
		case strings.HasPrefix(inner, "/"):
			name := tagName(inner[1:])
			for k := len(stack) - 1; k >= 0; k-- {
				if stack[k].name == name {
					stack = stack[:k]
					break
				}
			}
		case strings.HasSuffix(inner, "/"):
		default:
			stack = append(stack, htmlTag{name: tagName(inner), open: tag, pos: i})
		}
		i = j
	}
	return stack
}

func tagName(s string) string {
	if i := strings.IndexAny(s, " \t\n"); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(s)
}

func openingTags(stack []htmlTag) string {
	var b strings.Builder
	for _, t := range stack {
		b.WriteString(t.open)
	}
	return b.String()
}

func closingTags(stack []htmlTag) string {
	var b strings.Builder
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteString("</" + stack[i].name + ">")
	}
	return b.String()
}

func stripTags(s string) string {
	var b strings.Builder
	in := false
	for _, r := range s {
		switch {
		case r == '<':
			in = true
		case r == '>':
			in = false
		case !in:
			b.WriteRune(r)
		}
	}
	return b.String()
}

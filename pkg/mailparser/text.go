package mailparser

import (
	netmail "net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/araddon/dateparse"
	"github.com/emersion/go-message/mail"
	"golang.org/x/net/html"
)

var (
	bodyMessageID = regexp.MustCompile(`(?i)Message-ID:\s*<([^>\s]+)>`)
	bodyDateLine  = regexp.MustCompile(`(?mi)^[>\s]*\*?Date:\*?[ \t]*(.+?)[ \t]*\r?$`)
	atClock       = regexp.MustCompile(`(?i)\s+at\s+(\d{1,2}:\d{2})`)
)

// sentDate prefers the earliest date quoted in the body, which for
// forwarded mail is when the original was sent. The header date and then
// the clock are fallbacks.
func (p *Parser) sentDate(h mail.Header, raw []byte, text string) time.Time {
	var earliest time.Time
	body := string(raw)
	if i := strings.Index(body, "\r\n\r\n"); i >= 0 {
		body = body[i+4:]
	} else if i := strings.Index(body, "\n\n"); i >= 0 {
		body = body[i+2:]
	}
	for _, src := range []string{body, text} {
		for _, m := range bodyDateLine.FindAllStringSubmatch(src, -1) {
			t, ok := parseDate(m[1])
			if !ok {
				continue
			}
			if earliest.IsZero() || t.Before(earliest) {
				earliest = t
			}
		}
	}
	if !earliest.IsZero() {
		return earliest
	}
	if t, err := h.Date(); err == nil && !t.IsZero() {
		return t
	}
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := netmail.ParseDate(s); err == nil {
		return t, true
	}
	// "Mon, Jan 8, 2024 at 10:00 AM" as written by webmail forwards
	s = atClock.ReplaceAllString(s, " $1")
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// StripTags extracts the visible text of an HTML document.
func StripTags(doc string) string {
	if doc == "" {
		return ""
	}
	z := html.NewTokenizer(strings.NewReader(doc))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "head":
				skip++
			case "br", "p", "div", "tr", "li":
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "head":
				if skip > 0 {
					skip--
				}
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
				b.WriteByte(' ')
			}
		}
	}
}

// Preview collapses whitespace and keeps the first n characters.
func Preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return string(runes[:n])
}

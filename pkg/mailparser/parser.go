// Package mailparser turns raw RFC 5322 bytes into the normalized view the
// pipeline works with: a stable message id, the send date, bodies, a short
// preview and every attachment.
package mailparser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// ErrMalformed wraps every MIME parse failure.
var ErrMalformed = errors.New("malformed mime message")

const previewLength = 200

type Attachment struct {
	Filename    string
	ContentType string
	ContentID   string // without angle brackets
	Inline      bool
	Data        []byte
}

// IsMessage reports whether the attachment is itself an email.
func (a Attachment) IsMessage() bool {
	return strings.EqualFold(a.ContentType, "message/rfc822") ||
		strings.HasSuffix(strings.ToLower(a.Filename), ".eml")
}

type ParsedEmail struct {
	// ID is the sanitized thread-stable identifier, empty when none exists.
	ID          string
	MessageID   string
	Subject     string
	From        string
	FromName    string
	To          []string
	DeliveredTo string
	Date        time.Time
	Text        string
	HTML        string
	Preview     string
	Attachments []Attachment
}

// FindAttachmentByContentID matches a cid: reference against inline parts.
func (p *ParsedEmail) FindAttachmentByContentID(cid string) (*Attachment, bool) {
	cid = strings.Trim(strings.TrimSpace(cid), "<>")
	for i := range p.Attachments {
		if p.Attachments[i].ContentID != "" && strings.EqualFold(p.Attachments[i].ContentID, cid) {
			return &p.Attachments[i], true
		}
	}
	return nil, false
}

// PlainText returns the text body, or the tag-stripped HTML body when the
// message has no text part.
func (p *ParsedEmail) PlainText() string {
	if strings.TrimSpace(p.Text) != "" {
		return p.Text
	}
	return StripTags(p.HTML)
}

type Parser struct {
	Now func() time.Time
}

func New() *Parser {
	return &Parser{Now: time.Now}
}

func (p *Parser) Parse(raw []byte) (*ParsedEmail, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer mr.Close()

	parsed := &ParsedEmail{}
	h := mr.Header
	parsed.Subject, _ = h.Subject()
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		parsed.From = from[0].Address
		parsed.FromName = from[0].Name
	} else {
		parsed.From = extractAddress(h.Get("From"))
	}
	if to, err := h.AddressList("To"); err == nil {
		for _, a := range to {
			parsed.To = append(parsed.To, a.Address)
		}
	}
	for _, key := range []string{"X-Original-To", "Delivered-To"} {
		if v := extractAddress(h.Get(key)); v != "" {
			parsed.DeliveredTo = v
			break
		}
	}
	parsed.MessageID, _ = h.MessageID()

	if err := p.readParts(mr, parsed); err != nil {
		return nil, err
	}

	text := parsed.PlainText()
	parsed.Preview = Preview(text, previewLength)
	parsed.ID = SanitizeID(p.threadID(h, text))
	parsed.Date = p.sentDate(h, raw, text)
	return parsed, nil
}

func (p *Parser) readParts(mr *mail.Reader, parsed *ParsedEmail) error {
	var texts, htmls []string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}

		body, err := io.ReadAll(part.Body)
		if err != nil {
			return fmt.Errorf("%w: read part: %v", ErrMalformed, err)
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			switch {
			case ct == "text/html":
				htmls = append(htmls, string(body))
			case ct == "" || strings.HasPrefix(ct, "text/"):
				texts = append(texts, string(body))
			default:
				parsed.Attachments = append(parsed.Attachments, Attachment{
					Filename:    inlineFilename(h),
					ContentType: ct,
					ContentID:   strings.Trim(h.Get("Content-ID"), "<> "),
					Inline:      true,
					Data:        body,
				})
			}
		case *mail.AttachmentHeader:
			ct, _, _ := h.ContentType()
			filename, _ := h.Filename()
			parsed.Attachments = append(parsed.Attachments, Attachment{
				Filename:    filename,
				ContentType: ct,
				ContentID:   strings.Trim(h.Get("Content-ID"), "<> "),
				Inline:      h.Get("Content-ID") != "",
				Data:        body,
			})
		}
	}
	parsed.Text = strings.Join(texts, "\n")
	parsed.HTML = strings.Join(htmls, "\n")
	return nil
}

func inlineFilename(h *mail.InlineHeader) string {
	_, params, _ := h.ContentDisposition()
	if name := params["filename"]; name != "" {
		return name
	}
	_, params, _ = h.ContentType()
	return params["name"]
}

// threadID picks the identifier that ties this message to its thread:
// first References entry, then In-Reply-To, then a Message-ID quoted in the
// body (forwarded mail), then the message's own Message-ID.
func (p *Parser) threadID(h mail.Header, body string) string {
	if refs, err := h.MsgIDList("References"); err == nil && len(refs) > 0 {
		return refs[0]
	}
	if irt, err := h.MsgIDList("In-Reply-To"); err == nil && len(irt) > 0 {
		return irt[0]
	}
	if m := bodyMessageID.FindStringSubmatch(body); m != nil {
		return m[1]
	}
	id, _ := h.MessageID()
	return id
}

// SanitizeID makes a message id safe for use as an object key segment.
func SanitizeID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.NewReplacer("<", "", ">", "", "@", "_", ".", "_", "/", "_", " ", "").Replace(id)
	return id
}

func extractAddress(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(v); err == nil {
		return addr.Address
	}
	if list, err := mail.ParseAddressList(v); err == nil && len(list) > 0 {
		return list[0].Address
	}
	return strings.Trim(v, "<> ")
}

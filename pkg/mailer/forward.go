package mailer

import (
	"bytes"
	"strings"
)

// RewriteForForward readdresses a raw message for re-sending. From and
// Return-Path are replaced by sender, To by recipient, and every
// DKIM-Signature is dropped since the rewritten headers would fail
// verification. Folded continuation lines follow their header. The body is
// left untouched.
func RewriteForForward(raw []byte, sender, recipient string) []byte {
	headerEnd, sep := splitHeader(raw)
	header := raw[:headerEnd]
	body := raw[headerEnd:]

	eol := "\r\n"
	if sep == "\n\n" {
		eol = "\n"
	}

	replacements := map[string]string{
		"from":        "From: " + sender,
		"to":          "To: " + recipient,
		"return-path": "Return-Path: <" + sender + ">",
	}
	written := make(map[string]bool, len(replacements))

	var out bytes.Buffer
	out.Grow(len(raw))
	skipping := false
	for _, line := range splitLinesKeepEOL(header) {
		if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
			if !skipping {
				out.Write(line)
			}
			continue
		}
		skipping = false

		name := strings.ToLower(strings.TrimSpace(headerName(line)))
		if name == "dkim-signature" {
			skipping = true
			continue
		}
		if repl, ok := replacements[name]; ok {
			skipping = true
			if !written[name] {
				out.WriteString(repl + eol)
				written[name] = true
			}
			continue
		}
		out.Write(line)
	}

	var missing bytes.Buffer
	for _, name := range []string{"return-path", "from", "to"} {
		if !written[name] {
			missing.WriteString(replacements[name] + eol)
		}
	}

	result := make([]byte, 0, missing.Len()+out.Len()+len(body))
	result = append(result, missing.Bytes()...)
	result = append(result, out.Bytes()...)
	return append(result, body...)
}

// splitHeader returns the offset where the header block ends, including
// the line that terminates it, and the separator found.
func splitHeader(raw []byte) (int, string) {
	crlf := bytes.Index(raw, []byte("\r\n\r\n"))
	lf := bytes.Index(raw, []byte("\n\n"))
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return crlf + 2, "\r\n\r\n"
	case lf >= 0:
		return lf + 1, "\n\n"
	default:
		return len(raw), ""
	}
}

func splitLinesKeepEOL(b []byte) [][]byte {
	var lines [][]byte
	for len(b) > 0 {
		i := bytes.IndexByte(b, '\n')
		if i < 0 {
			lines = append(lines, b)
			break
		}
		lines = append(lines, b[:i+1])
		b = b[i+1:]
	}
	return lines
}

func headerName(line []byte) string {
	i := bytes.IndexByte(line, ':')
	if i < 0 {
		return ""
	}
	return string(line[:i])
}

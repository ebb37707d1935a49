package email

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"
)

// ParseRawMessage decodes an RFC 5322 message into its text and HTML
// bodies. Nested multiparts are walked depth-first; the first text/plain
// and text/html parts win.
func ParseRawMessage(raw []byte) (*IncomingMessage, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	out := &IncomingMessage{
		MessageID:  strings.Trim(msg.Header.Get("Message-ID"), "<>"),
		Subject:    decodeHeader(msg.Header.Get("Subject")),
		ReceivedAt: time.Now(),
	}
	if date, err := msg.Header.Date(); err == nil {
		out.ReceivedAt = date
	}
	if addr, err := mail.ParseAddress(msg.Header.Get("From")); err == nil {
		out.From = addr.Address
	} else {
		out.From = strings.TrimSpace(msg.Header.Get("From"))
	}

	contentType := msg.Header.Get("Content-Type")
	encoding := msg.Header.Get("Content-Transfer-Encoding")
	if err := walkPart(msg.Body, contentType, encoding, out); err != nil {
		return nil, err
	}
	return out, nil
}

func walkPart(body io.Reader, contentType, encoding string, out *IncomingMessage) error {
	mediaType := "text/plain"
	var params map[string]string
	if contentType != "" {
		var err error
		mediaType, params, err = mime.ParseMediaType(contentType)
		if err != nil {
			mediaType = "text/plain"
		}
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return fmt.Errorf("multipart message without boundary")
		}
		mr := multipart.NewReader(body, boundary)
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to read multipart: %w", err)
			}
			err = walkPart(part,
				part.Header.Get("Content-Type"),
				part.Header.Get("Content-Transfer-Encoding"), out)
			part.Close()
			if err != nil {
				return err
			}
		}
	}

	switch mediaType {
	case "text/plain":
		if out.BodyText != "" {
			return nil
		}
		text, err := decodeBody(body, encoding)
		if err != nil {
			return err
		}
		out.BodyText = strings.TrimSpace(text)
	case "text/html":
		if out.BodyHTML != "" {
			return nil
		}
		html, err := decodeBody(body, encoding)
		if err != nil {
			return err
		}
		out.BodyHTML = strings.TrimSpace(html)
	}
	return nil
}

func decodeBody(r io.Reader, encoding string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, &whitespaceStripper{r: r})
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to decode body: %w", err)
	}
	return string(data), nil
}

func decodeHeader(s string) string {
	dec := new(mime.WordDecoder)
	decoded, err := dec.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

// whitespaceStripper removes line breaks so base64 decoding sees one
// contiguous stream.
type whitespaceStripper struct {
	r io.Reader
}

func (w *whitespaceStripper) Read(p []byte) (int, error) {
	n, err := w.r.Read(p)
	kept := 0
	for i := 0; i < n; i++ {
		if p[i] == '\r' || p[i] == '\n' {
			continue
		}
		p[kept] = p[i]
		kept++
	}
	if kept == 0 && n > 0 && err == nil {
		return w.Read(p)
	}
	return kept, err
}

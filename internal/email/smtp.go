package email

import (
	"context"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"strconv"
	"strings"
)

// Send dispatches one message over SMTP with STARTTLS. When the message
// carries an HTML body, a multipart/alternative envelope is built so older
// clients fall back to the plain text part.
func (t *MailTransport) Send(ctx context.Context, msg *OutgoingMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	addr := net.JoinHostPort(t.cfg.SMTPHost, strconv.Itoa(t.cfg.SMTPPort))
	auth := smtp.PlainAuth("", t.cfg.SMTPUsername, t.cfg.SMTPPassword, t.cfg.SMTPHost)

	payload, err := BuildMIMEMessage(t.cfg.SantaName, t.cfg.SantaAddress, msg)
	if err != nil {
		return err
	}

	if err := smtp.SendMail(addr, auth, t.cfg.SantaAddress, []string{msg.To}, payload); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	t.log.Info("email sent", "to", msg.To, "subject", msg.Subject)
	return nil
}

// BuildMIMEMessage assembles the wire form of an outgoing message.
func BuildMIMEMessage(fromName, fromAddr string, msg *OutgoingMessage) ([]byte, error) {
	var b strings.Builder
	from := fromAddr
	if fromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", fromName), fromAddr)
	}
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")

	if msg.BodyHTML == "" {
		b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
		b.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
		if err := writeQuotedPrintable(&b, msg.BodyText); err != nil {
			return nil, err
		}
		return []byte(b.String()), nil
	}

	const boundary = "np-alt-boundary"
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
	if err := writeQuotedPrintable(&b, msg.BodyText); err != nil {
		return nil, err
	}

	fmt.Fprintf(&b, "\r\n--%s\r\n", boundary)
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	b.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
	if err := writeQuotedPrintable(&b, msg.BodyHTML); err != nil {
		return nil, err
	}
	fmt.Fprintf(&b, "\r\n--%s--\r\n", boundary)

	return []byte(b.String()), nil
}

func writeQuotedPrintable(b *strings.Builder, body string) error {
	w := quotedprintable.NewWriter(b)
	if _, err := w.Write([]byte(body)); err != nil {
		return fmt.Errorf("failed to encode body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to encode body: %w", err)
	}
	return nil
}

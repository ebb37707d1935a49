package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"

	"northpole/internal/config"
	"northpole/internal/logger"
)

// MailTransport is the POP3/SMTP implementation of Transport.
type MailTransport struct {
	cfg *config.MailSettings
	log *logger.Logger
}

func NewMailTransport(cfg *config.MailSettings, log *logger.Logger) *MailTransport {
	return &MailTransport{cfg: cfg, log: log}
}

// FetchNewMessages drains the POP3 inbox. Each message is deleted after a
// successful download, so the mailbox never grows; deduplication across
// crashes between RETR and DELE relies on the stored message IDs.
func (t *MailTransport) FetchNewMessages(ctx context.Context) ([]*IncomingMessage, error) {
	addr := net.JoinHostPort(t.cfg.POP3Host, strconv.Itoa(t.cfg.POP3Port))

	var conn net.Conn
	var err error
	dialer := &net.Dialer{}
	if t.cfg.POP3UseSSL {
		conn, err = (&tls.Dialer{NetDialer: dialer}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to POP3 server: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	p := textproto.NewConn(conn)
	defer p.Close()

	if _, err := readPOP3Line(p); err != nil {
		return nil, fmt.Errorf("POP3 greeting failed: %w", err)
	}
	if err := pop3Cmd(p, "USER %s", t.cfg.POP3Username); err != nil {
		return nil, err
	}
	if err := pop3Cmd(p, "PASS %s", t.cfg.POP3Password); err != nil {
		return nil, err
	}

	statLine, err := pop3CmdLine(p, "STAT")
	if err != nil {
		return nil, err
	}
	count := parseStatCount(statLine)

	var messages []*IncomingMessage
	for i := 1; i <= count; i++ {
		if err := ctx.Err(); err != nil {
			return messages, err
		}
		raw, err := pop3Retr(p, i)
		if err != nil {
			t.log.Warn("failed to retrieve message, skipping", "index", i, "error", err)
			continue
		}
		msg, err := ParseRawMessage(raw)
		if err != nil {
			t.log.Warn("failed to parse message, skipping", "index", i, "error", err)
			continue
		}
		if err := pop3Cmd(p, "DELE %d", i); err != nil {
			return messages, fmt.Errorf("failed to delete message %d: %w", i, err)
		}
		messages = append(messages, msg)
	}

	if err := pop3Cmd(p, "QUIT"); err != nil {
		// Deletions only commit on QUIT; a failure here means the whole
		// batch will be seen again next fetch, which dedup absorbs.
		return messages, fmt.Errorf("POP3 QUIT failed: %w", err)
	}
	return messages, nil
}

func pop3Cmd(p *textproto.Conn, format string, args ...any) error {
	if err := p.PrintfLine(format, args...); err != nil {
		return fmt.Errorf("failed to send POP3 command: %w", err)
	}
	_, err := readPOP3Line(p)
	return err
}

func pop3CmdLine(p *textproto.Conn, format string, args ...any) (string, error) {
	if err := p.PrintfLine(format, args...); err != nil {
		return "", fmt.Errorf("failed to send POP3 command: %w", err)
	}
	return readPOP3Line(p)
}

func pop3Retr(p *textproto.Conn, index int) ([]byte, error) {
	if err := p.PrintfLine("RETR %d", index); err != nil {
		return nil, fmt.Errorf("failed to send RETR: %w", err)
	}
	if _, err := readPOP3Line(p); err != nil {
		return nil, err
	}
	return p.ReadDotBytes()
}

func readPOP3Line(p *textproto.Conn) (string, error) {
	line, err := p.ReadLine()
	if err != nil {
		return "", fmt.Errorf("failed to read POP3 response: %w", err)
	}
	if !strings.HasPrefix(line, "+OK") {
		return "", fmt.Errorf("POP3 server error: %s", line)
	}
	return line, nil
}

func parseStatCount(statLine string) int {
	// "+OK <count> <octets>"
	fields := strings.Fields(statLine)
	if len(fields) < 2 {
		return 0
	}
	n, _ := strconv.Atoi(fields[1])
	return n
}

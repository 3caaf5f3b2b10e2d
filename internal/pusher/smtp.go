package pusher

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
)

// SMTP mails the digest to a fixed recipient. It makes a single attempt.
type SMTP struct {
	host     string
	port     int
	username string
	password string
	useTLS   bool
	from     string
	to       string
	logger   *slog.Logger
	now      func() time.Time
}

// NewSMTP creates an SMTP channel. An empty from falls back to username.
func NewSMTP(host string, port int, username, password string, useTLS bool, from, to string, logger *slog.Logger) *SMTP {
	if from == "" {
		from = username
	}
	return &SMTP{
		host:     host,
		port:     port,
		username: username,
		password: password,
		useTLS:   useTLS,
		from:     from,
		to:       to,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *SMTP) Name() string { return "smtp" }

func (s *SMTP) Push(ctx context.Context, title, body string) Outcome {
	if s.to == "" || s.from == "" {
		return Outcome{Message: "smtp sender or recipient not configured"}
	}

	msg, err := composeDigest(s.from, s.to, title, body, s.now())
	if err != nil {
		return Outcome{Message: fmt.Sprintf("compose message: %v", err)}
	}

	if err := s.send(ctx, msg); err != nil {
		s.logger.Error("smtp push failed", "host", s.host, "to", s.to, "error", err)
		return Outcome{Message: err.Error()}
	}
	return Outcome{Success: true, Message: "push succeeded"}
}

func (s *SMTP) send(ctx context.Context, msg []byte) error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if s.useTLS {
		conn = tls.Client(conn, &tls.Config{ServerName: s.host})
	}

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer client.Close()

	if !s.useTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
				return fmt.Errorf("smtp STARTTLS: %w", err)
			}
		}
	}

	if s.username != "" && s.password != "" {
		auth := smtp.PlainAuth("", s.username, s.password, s.host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(s.from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := client.Rcpt(s.to); err != nil {
		return fmt.Errorf("smtp RCPT TO: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}

	return client.Quit()
}

// composeDigest renders a quoted-printable text/plain message.
func composeDigest(from, to, title, body string, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	h.SetSubject(title)
	h.Set("X-Mailer", "maildigest")
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	if err := h.GenerateMessageID(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

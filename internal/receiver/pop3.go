package receiver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-message/mail"
	pop3client "github.com/knadh/go-pop3"
)

// POP3Source reads messages from a POP3/POP3S maildrop.
type POP3Source struct {
	host     string
	port     int
	username string
	password string
	useTLS   bool
	logger   *slog.Logger

	conn *pop3client.Conn
}

// NewPOP3 creates a new POP3 source.
func NewPOP3(host string, port int, username, password string, useTLS bool, logger *slog.Logger) *POP3Source {
	return &POP3Source{
		host:     host,
		port:     port,
		username: username,
		password: password,
		useTLS:   useTLS,
		logger:   logger,
	}
}

func (r *POP3Source) Connect(_ context.Context) error {
	addr := net.JoinHostPort(r.host, fmt.Sprintf("%d", r.port))

	client := pop3client.New(pop3client.Opt{
		Host:       r.host,
		Port:       r.port,
		TLSEnabled: r.useTLS,
	})
	conn, err := client.NewConn()
	if err != nil {
		return fmt.Errorf("pop3 connect %s: %w", addr, err)
	}

	if err := conn.Auth(r.username, r.password); err != nil {
		conn.Quit()
		return fmt.Errorf("pop3 auth %s: %w", r.username, err)
	}

	r.conn = conn
	r.logger.Info("pop3 connected", "host", r.host)
	return nil
}

// Items retrieves every message in the maildrop; POP3 has no server-side
// date search, so since is left to the caller.
func (r *POP3Source) Items(ctx context.Context, _ time.Time) ([]Item, error) {
	if r.conn == nil {
		return nil, errors.New("pop3: not connected")
	}

	msgs, err := r.conn.Uidl(0)
	if err != nil {
		r.logger.Debug("pop3 UIDL unavailable, falling back to LIST", "error", err)
		if msgs, err = r.conn.List(0); err != nil {
			return nil, fmt.Errorf("pop3 list: %w", err)
		}
	}
	r.logger.Info("fetched message list", "count", len(msgs))

	items := make([]Item, 0, len(msgs))
	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return items, err
		}

		rawBuf, err := r.conn.RetrRaw(msg.ID)
		if err != nil {
			r.logger.Warn("pop3 retrieve failed", "msg_num", msg.ID, "error", err)
			continue
		}
		raw := rawBuf.Bytes()

		msgID, date := extractHeader(raw)
		id := msg.UID
		if id == "" {
			id = msgID
		}
		if id == "" {
			id = fmt.Sprintf("pop3-%d-%s", msg.ID, r.username)
		}

		items = append(items, Item{
			ID:         id,
			ReceivedAt: date,
			MessageID:  msgID,
			Raw:        raw,
		})
	}
	return items, nil
}

func (r *POP3Source) Close() error {
	if r.conn == nil {
		return nil
	}
	conn := r.conn
	r.conn = nil
	return conn.Quit()
}

// extractHeader parses Message-ID and Date from raw email bytes.
// Unparseable values come back empty.
func extractHeader(raw []byte) (messageID string, date time.Time) {
	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return "", time.Time{}
	}
	defer reader.Close()

	messageID, _ = reader.Header.MessageID()
	date, err = reader.Header.Date()
	if err != nil {
		return messageID, time.Time{}
	}
	return messageID, date
}

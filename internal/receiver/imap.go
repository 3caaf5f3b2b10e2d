package receiver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// IMAPSource reads messages from one IMAP/IMAPS folder.
type IMAPSource struct {
	host     string
	port     int
	username string
	password string
	useTLS   bool
	folder   string
	logger   *slog.Logger

	client      *imapclient.Client
	uidValidity uint32
}

// NewIMAP creates a new IMAP source.
func NewIMAP(host string, port int, username, password string, useTLS bool, folder string, logger *slog.Logger) *IMAPSource {
	if folder == "" {
		folder = "INBOX"
	}
	return &IMAPSource{
		host:     host,
		port:     port,
		username: username,
		password: password,
		useTLS:   useTLS,
		folder:   folder,
		logger:   logger,
	}
}

func (r *IMAPSource) Connect(_ context.Context) error {
	addr := net.JoinHostPort(r.host, fmt.Sprintf("%d", r.port))

	var client *imapclient.Client
	var err error

	if r.useTLS {
		client, err = imapclient.DialTLS(addr, &imapclient.Options{
			TLSConfig: &tls.Config{ServerName: r.host},
		})
	} else {
		client, err = imapclient.DialInsecure(addr, nil)
	}
	if err != nil {
		return fmt.Errorf("imap connect %s: %w", addr, err)
	}

	if err := client.Login(r.username, r.password).Wait(); err != nil {
		client.Close()
		return fmt.Errorf("imap login %s: %w", r.username, err)
	}

	selected, err := client.Select(r.folder, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		_ = client.Logout().Wait()
		client.Close()
		return fmt.Errorf("imap select %s: %w", r.folder, err)
	}

	r.client = client
	r.uidValidity = selected.UIDValidity
	r.logger.Info("imap connected", "host", r.host, "folder", r.folder, "messages", selected.NumMessages)
	return nil
}

func (r *IMAPSource) Items(_ context.Context, since time.Time) ([]Item, error) {
	if r.client == nil {
		return nil, errors.New("imap: not connected")
	}

	searchData, err := r.client.UIDSearch(&imap.SearchCriteria{Since: since}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		r.logger.Info("no messages found in date range")
		return nil, nil
	}
	r.logger.Info("found messages in date range", "count", len(uids))

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOptions := &imap.FetchOptions{
		UID:          true,
		Envelope:     true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	}

	buffers, err := r.client.Fetch(imap.UIDSetNum(uids...), fetchOptions).Collect()
	if err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}

	items := make([]Item, 0, len(buffers))
	for _, buf := range buffers {
		item := Item{
			ID:         fmt.Sprintf("%s:%d:%d", r.folder, r.uidValidity, buf.UID),
			ReceivedAt: buf.InternalDate,
			Raw:        buf.FindBodySection(bodySection),
		}
		if env := buf.Envelope; env != nil {
			item.Subject = env.Subject
			item.MessageID = env.MessageID
			if item.ReceivedAt.IsZero() {
				item.ReceivedAt = env.Date
			}
			if len(env.From) > 0 {
				item.SenderName = env.From[0].Name
				item.SenderAddress = env.From[0].Addr()
			}
			for _, to := range env.To {
				item.Recipients = append(item.Recipients, to.Addr())
			}
		}
		items = append(items, item)
	}
	return items, nil
}

func (r *IMAPSource) Close() error {
	if r.client == nil {
		return nil
	}
	client := r.client
	r.client = nil
	if err := client.Logout().Wait(); err != nil {
		r.logger.Debug("imap logout failed", "error", err)
	}
	return client.Close()
}

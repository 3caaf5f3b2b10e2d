package receiver

import (
	"context"
	"time"
)

// Item is one message as handed over by a mail source. Header fields
// left empty are filled from Raw during normalization.
type Item struct {
	ID         string    // stable source-assigned identifier
	ReceivedAt time.Time // zero when the source has no timestamp

	Subject       string
	SenderName    string
	SenderAddress string
	Recipients    []string
	MessageID     string

	Body     string // plain text body, if the source provides one
	HTMLBody string
	Raw      []byte // RFC 5322 message bytes, optional
}

// Source is a read-only mail store.
type Source interface {
	// Connect acquires the connection. It must succeed before Items.
	Connect(ctx context.Context) error

	// Items returns candidate messages received at or after since.
	// Sources may return older items as well; ordering is not guaranteed.
	Items(ctx context.Context, since time.Time) ([]Item, error)

	// Close releases any resources held by the source. It is safe to call
	// after a failed Connect.
	Close() error
}

package model

import "time"

// UnknownSender is used when a message carries neither a display name
// nor an address for its sender.
const UnknownSender = "Unknown"

// Record is one normalized message. Records are built by the fetcher
// and never modified afterwards.
type Record struct {
	ID                string
	Subject           string
	Sender            string
	Recipients        []string
	Body              string
	RawBody           string
	ReceivedAt        time.Time
	ExternalMessageID string
}

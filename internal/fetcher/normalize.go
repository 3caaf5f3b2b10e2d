package fetcher

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/tracyhatemice/maildigest/internal/model"
	"github.com/tracyhatemice/maildigest/internal/receiver"
)

var errMissingID = errors.New("message has no identifier")

// parsed holds what could be read from a raw RFC 5322 message.
type parsed struct {
	subject       string
	senderName    string
	senderAddress string
	recipients    []string
	messageID     string
	text          string
	html          string
}

// normalize converts a source item into a Record. Fields the source set
// explicitly take precedence over values parsed from the raw message.
func normalize(item receiver.Item) (model.Record, error) {
	if item.ID == "" {
		return model.Record{}, errMissingID
	}

	var p parsed
	if len(item.Raw) > 0 {
		var err error
		if p, err = parseRaw(item.Raw); err != nil {
			return model.Record{}, fmt.Errorf("parse message %s: %w", item.ID, err)
		}
	}

	text := firstNonEmpty(item.Body, p.text)
	htmlBody := firstNonEmpty(item.HTMLBody, p.html)

	body := strings.TrimSpace(text)
	rawBody := text
	if body == "" && htmlBody != "" {
		body = htmlToText(htmlBody)
		rawBody = htmlBody
	}

	recipients := item.Recipients
	if len(recipients) == 0 {
		recipients = p.recipients
	}
	if recipients == nil {
		recipients = []string{}
	}

	return model.Record{
		ID:                item.ID,
		Subject:           firstNonEmpty(item.Subject, p.subject),
		Sender:            firstNonEmpty(item.SenderName, p.senderName, item.SenderAddress, p.senderAddress, model.UnknownSender),
		Recipients:        recipients,
		Body:              body,
		RawBody:           rawBody,
		ReceivedAt:        item.ReceivedAt,
		ExternalMessageID: firstNonEmpty(item.MessageID, p.messageID),
	}, nil
}

func parseRaw(raw []byte) (parsed, error) {
	var p parsed

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && (mr == nil || !message.IsUnknownCharset(err)) {
		return p, err
	}
	defer mr.Close()

	p.subject, _ = mr.Header.Subject()
	p.messageID, _ = mr.Header.MessageID()

	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		p.senderName = from[0].Name
		p.senderAddress = from[0].Address
	}
	for _, key := range []string{"To", "Cc"} {
		addrs, err := mr.Header.AddressList(key)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			p.recipients = append(p.recipients, a.Address)
		}
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		// An unknown charset still yields a readable, undecoded part.
		if err != nil && (part == nil || !message.IsUnknownCharset(err)) {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain") && p.text == "":
			p.text = string(body)
		case strings.HasPrefix(contentType, "text/html") && p.html == "":
			p.html = string(body)
		case contentType == "" && p.text == "":
			p.text = string(body)
		}
	}

	return p, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

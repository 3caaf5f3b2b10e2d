package pusher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"
)

// MaxTitleRunes is the longest title the webhook renders in full.
const MaxTitleRunes = 64

// Outcome is the result of one push.
type Outcome struct {
	Success bool
	Message string
	PushID  string
	Channel string
}

// Channel delivers a title and body to one notification target.
// Implementations report failures in the Outcome and never panic.
type Channel interface {
	Name() string
	Push(ctx context.Context, title, body string) Outcome
}

// Multi tries each channel in order and stops at the first success.
type Multi struct {
	channels []Channel
	logger   *slog.Logger
}

// NewMulti creates a Multi over channels, tried in the given order.
func NewMulti(logger *slog.Logger, channels ...Channel) *Multi {
	return &Multi{channels: channels, logger: logger}
}

// Len returns the number of configured channels.
func (m *Multi) Len() int { return len(m.channels) }

// Push sends to the first channel that accepts the message. When all
// fail, the returned Outcome carries every channel's message.
func (m *Multi) Push(ctx context.Context, title, body string) Outcome {
	if len(m.channels) == 0 {
		return Outcome{Message: "no push channels configured"}
	}

	failures := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		out := ch.Push(ctx, title, body)
		out.Channel = ch.Name()
		if out.Success {
			m.logger.Info("pushed", "channel", ch.Name(), "push_id", out.PushID)
			return out
		}
		m.logger.Warn("push failed", "channel", ch.Name(), "message", out.Message)
		failures = append(failures, fmt.Sprintf("%s: %s", ch.Name(), out.Message))

		if ctx.Err() != nil {
			break
		}
	}

	return Outcome{Message: "all push channels failed: " + strings.Join(failures, "; ")}
}

// SplitMessage derives a push title from a digest: the first non-empty
// line without Markdown heading or emphasis markers, cut to MaxTitleRunes.
// The body is the whole digest.
func SplitMessage(text string) (title, body string) {
	body = strings.TrimSpace(text)
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "#>*- ")
		line = strings.TrimRight(line, "* ")
		if line != "" {
			title = line
			break
		}
	}
	if utf8.RuneCountInString(title) > MaxTitleRunes {
		title = string([]rune(title)[:MaxTitleRunes])
	}
	return title, body
}

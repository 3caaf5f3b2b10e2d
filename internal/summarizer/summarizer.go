package summarizer

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/tracyhatemice/maildigest/internal/model"
)

// Texts returned in place of a model answer.
const (
	NoMessagesText = "no messages"
	NoBlockText    = "no delimited block found"
	FailedText     = "summarization failed"
)

// Status tags how a Result was produced.
type Status int

const (
	StatusOK Status = iota
	StatusEmpty
	StatusNoBlock
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusEmpty:
		return "empty"
	case StatusNoBlock:
		return "no_block"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the summary of one batch. Text is never empty.
type Result struct {
	Text   string
	Status Status
}

// OK reports whether Text came from the model.
func (r Result) OK() bool { return r.Status == StatusOK }

// Summarizer turns a batch of records into one digest with a single call.
type Summarizer struct {
	completer Completer
	timeout   time.Duration
	logger    *slog.Logger
}

// New creates a Summarizer. A zero timeout leaves the call bounded only
// by ctx.
func New(c Completer, timeout time.Duration, logger *slog.Logger) *Summarizer {
	return &Summarizer{completer: c, timeout: timeout, logger: logger}
}

// Summarize sends records to the model and extracts the delimited block
// from its answer. It never returns an error; failures become sentinel
// results.
func (s *Summarizer) Summarize(ctx context.Context, records []model.Record, language string) Result {
	if len(records) == 0 {
		return Result{Text: NoMessagesText, Status: StatusEmpty}
	}
	if language == "" {
		language = "auto"
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	messages := []Message{
		{Role: RoleSystem, Content: systemPrompt},
		{Role: RoleUser, Content: buildPrompt(records, language)},
	}

	start := time.Now()
	answer, err := s.completer.Complete(ctx, messages)
	if err != nil {
		s.logger.Error("summarize failed", "records", len(records), "error", err)
		return Result{Text: FailedText, Status: StatusFailed}
	}

	block, ok := extractBlock(answer)
	if !ok {
		s.logger.Warn("model answer has no delimited block", "answer_len", len(answer))
		return Result{Text: NoBlockText, Status: StatusNoBlock}
	}

	s.logger.Info("summarized", "records", len(records), "duration", time.Since(start).Round(time.Millisecond))
	return Result{Text: block, Status: StatusOK}
}

// extractBlock returns the trimmed text between the first two Delimiter
// occurrences. A missing or blank block is reported as not found.
func extractBlock(answer string) (string, bool) {
	_, rest, ok := strings.Cut(answer, Delimiter)
	if !ok {
		return "", false
	}
	inner, _, ok := strings.Cut(rest, Delimiter)
	if !ok {
		return "", false
	}
	inner = strings.TrimSpace(inner)
	if inner == "" {
		return "", false
	}
	return inner, true
}

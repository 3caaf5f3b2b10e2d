package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tracyhatemice/maildigest/internal/dedup"
	"github.com/tracyhatemice/maildigest/internal/fetcher"
	"github.com/tracyhatemice/maildigest/internal/metrics"
	"github.com/tracyhatemice/maildigest/internal/pusher"
	"github.com/tracyhatemice/maildigest/internal/receiver"
	"github.com/tracyhatemice/maildigest/internal/summarizer"
)

var (
	// ErrConnect is returned when the mail source cannot be opened.
	ErrConnect = errors.New("connect to mail source")
	// ErrPush is returned when every push channel failed and the run is
	// configured to fail on push errors.
	ErrPush = errors.New("push digest")
)

// Pusher delivers a digest. *pusher.Multi satisfies it.
type Pusher interface {
	Push(ctx context.Context, title, body string) pusher.Outcome
}

// Options tune a Runner.
type Options struct {
	Account          string
	WindowDays       int
	Language         string
	ResumeFromCursor bool
	FailOnError      bool
	PushgatewayURL   string
	MetricsJob       string
}

// Runner executes one fetch, summarize and push cycle for an account.
type Runner struct {
	source     receiver.Source
	summarizer *summarizer.Summarizer
	pusher     Pusher
	cursor     *dedup.Cursor
	seen       *dedup.Set
	opts       Options
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Runner. cursor may be nil, in which case no state is
// kept between runs.
func New(
	src receiver.Source,
	sum *summarizer.Summarizer,
	push Pusher,
	cursor *dedup.Cursor,
	opts Options,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		source:     src,
		summarizer: sum,
		pusher:     push,
		cursor:     cursor,
		seen:       dedup.NewSet(),
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock replaces the time source used for the fetch window.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// Run performs a single cycle. An empty mailbox is a success. A failed
// push is only an error when Options.FailOnError is set.
func (r *Runner) Run(ctx context.Context) (err error) {
	start := time.Now()
	rec := metrics.New()
	defer func() {
		rec.Finish(start, time.Now(), err == nil)
		r.pushMetrics(rec)
	}()

	stopAt := r.loadCursor()

	opts := []fetcher.Option{fetcher.WithClock(r.now)}
	if r.opts.ResumeFromCursor && stopAt != "" {
		opts = append(opts, fetcher.StopAt(stopAt))
	}
	f := fetcher.New(r.source, r.seen, r.logger, opts...)

	if err := f.Connect(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			r.logger.Warn("close mail source", "error", err)
		}
	}()

	records, latestID := f.Fetch(ctx, r.opts.WindowDays)
	rec.RecordFetched(len(records))
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(records) == 0 {
		r.logger.Info("no new mail", "account", r.opts.Account)
		return nil
	}

	res := r.summarizer.Summarize(ctx, records, r.opts.Language)
	rec.RecordSummary(res.Status.String())
	if err := ctx.Err(); err != nil {
		return err
	}

	title, body := pusher.SplitMessage(res.Text)
	out := r.pusher.Push(ctx, title, body)
	rec.RecordPush(out.Channel, out.Success)
	if !out.Success {
		r.logger.Error("digest not delivered", "account", r.opts.Account, "message", out.Message)
		if r.opts.FailOnError {
			return fmt.Errorf("%w: %s", ErrPush, out.Message)
		}
		return nil
	}

	r.logger.Info("digest delivered",
		"account", r.opts.Account,
		"records", len(records),
		"summary", res.Status.String(),
		"channel", out.Channel,
		"push_id", out.PushID,
	)

	if r.cursor != nil && latestID != "" {
		if err := r.cursor.Store(latestID); err != nil {
			r.logger.Error("store cursor failed", "path", r.cursor.Path(), "error", err)
		}
	}
	return nil
}

func (r *Runner) loadCursor() string {
	if r.cursor == nil {
		return ""
	}
	id, err := r.cursor.Load()
	if err != nil {
		r.logger.Warn("load cursor failed, starting fresh", "path", r.cursor.Path(), "error", err)
		return ""
	}
	if id != "" {
		r.logger.Debug("loaded cursor", "path", r.cursor.Path(), "latest_id", id)
	}
	return id
}

// pushMetrics exports rec when a Pushgateway is configured. It uses its
// own deadline since the run context may already be cancelled.
func (r *Runner) pushMetrics(rec *metrics.Recorder) {
	if r.opts.PushgatewayURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	job := r.opts.MetricsJob
	if job == "" {
		job = "maildigest"
	}
	if err := rec.Push(ctx, r.opts.PushgatewayURL, job, r.opts.Account); err != nil {
		r.logger.Warn("metrics push failed", "error", err)
	}
}

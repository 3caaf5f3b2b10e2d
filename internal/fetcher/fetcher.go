package fetcher

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/tracyhatemice/maildigest/internal/dedup"
	"github.com/tracyhatemice/maildigest/internal/model"
	"github.com/tracyhatemice/maildigest/internal/receiver"
)

// Fetcher selects recent messages from a mail source.
type Fetcher struct {
	source receiver.Source
	seen   *dedup.Set
	logger *slog.Logger
	now    func() time.Time
	stopAt string
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClock overrides the time source used to compute the window cutoff.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// StopAt makes the scan end when it reaches the item with this ID,
// typically the previous run's cursor. Empty disables it.
func StopAt(id string) Option {
	return func(f *Fetcher) { f.stopAt = id }
}

// New creates a Fetcher. A nil seen-set gets a fresh one.
func New(src receiver.Source, seen *dedup.Set, logger *slog.Logger, opts ...Option) *Fetcher {
	if seen == nil {
		seen = dedup.NewSet()
	}
	f := &Fetcher{
		source: src,
		seen:   seen,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Connect opens the underlying source.
func (f *Fetcher) Connect(ctx context.Context) error {
	return f.source.Connect(ctx)
}

// Close releases the underlying source.
func (f *Fetcher) Close() error {
	return f.source.Close()
}

// Fetch returns the messages received within the last windowDays days,
// newest first, skipping anything already returned by this Fetcher.
// latestID is the ID of the newest returned record. Source failures are
// logged and yield an empty result.
func (f *Fetcher) Fetch(ctx context.Context, windowDays int) (records []model.Record, latestID string) {
	if windowDays <= 0 {
		f.logger.Warn("window must be a positive number of days", "window_days", windowDays)
		return nil, ""
	}

	cutoff := f.now().AddDate(0, 0, -windowDays)
	f.logger.Debug("fetching",
		"cutoff", cutoff.Format(time.RFC3339),
		"window_days", windowDays,
		"seen_count", f.seen.Count(),
	)

	items, err := f.source.Items(ctx, cutoff)
	if err != nil {
		f.logger.Error("fetch failed", "error", err)
		return nil, ""
	}

	// Newest first; items without a timestamp sort last.
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].ReceivedAt.After(items[j].ReceivedAt)
	})

	for _, item := range items {
		if item.ReceivedAt.IsZero() {
			f.logger.Debug("no timestamp, skipping", "msg_id", item.ID)
			continue
		}
		if item.ReceivedAt.Before(cutoff) {
			break
		}
		if f.stopAt != "" && item.ID == f.stopAt {
			f.logger.Debug("reached cursor, stopping", "msg_id", item.ID)
			break
		}
		if f.seen.Seen(item.ID) {
			continue
		}

		rec, err := normalize(item)
		if err != nil {
			f.logger.Warn("skipping message", "msg_id", item.ID, "error", err)
			continue
		}

		records = append(records, rec)
		f.seen.MarkSeen(rec.ID)
	}

	if len(records) > 0 {
		latestID = records[0].ID
	}
	f.logger.Info("filtered emails", "new", len(records), "candidates", len(items))
	return records, latestID
}

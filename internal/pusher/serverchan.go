package pusher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPDoer is the subset of *http.Client used by webhook channels.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ServerChan pushes to the ServerChan webhook (POST <base><sendkey>.send).
type ServerChan struct {
	sendKey     string
	baseURL     string
	maxAttempts int
	retryDelay  time.Duration
	client      HTTPDoer
	logger      *slog.Logger
}

// NewServerChan creates a ServerChan channel. A nil client gets an
// http.Client with a 30 second timeout.
func NewServerChan(sendKey, baseURL string, maxAttempts int, retryDelay time.Duration, client HTTPDoer, logger *slog.Logger) *ServerChan {
	if baseURL == "" {
		baseURL = "https://sctapi.ftqq.com/"
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ServerChan{
		sendKey:     sendKey,
		baseURL:     baseURL,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		client:      client,
		logger:      logger,
	}
}

func (s *ServerChan) Name() string { return "serverchan" }

type serverChanResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		PushID flexString `json:"pushid"`
	} `json:"data"`
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		return nil
	}
	*f = flexString(b)
	return nil
}

// errFinal marks an attempt error that must not be retried.
type errFinal struct{ err error }

func (e errFinal) Error() string { return e.err.Error() }
func (e errFinal) Unwrap() error { return e.err }

// Push posts title and body as a form. Transport failures, 5xx, 408 and
// 429 are retried; other 4xx and an application error code are final.
func (s *ServerChan) Push(ctx context.Context, title, body string) Outcome {
	if s.sendKey == "" {
		return Outcome{Message: "serverchan send key not configured"}
	}

	pushURL := strings.TrimRight(s.baseURL, "/") + "/" + url.PathEscape(s.sendKey) + ".send"
	form := url.Values{
		"title": {title},
		"desp":  {body},
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		s.logger.Info("sending push request", "channel", s.Name(), "attempt", attempt, "max_attempts", s.maxAttempts)

		out, err := s.post(ctx, pushURL, form)
		if err == nil {
			return out
		}

		var final errFinal
		if errors.As(err, &final) {
			s.logger.Error("push rejected", "channel", s.Name(), "error", err)
			return Outcome{Message: err.Error()}
		}

		lastErr = err
		s.logger.Error("push attempt failed", "channel", s.Name(), "attempt", attempt, "error", err)

		if attempt < s.maxAttempts {
			if err := sleep(ctx, s.retryDelay); err != nil {
				return Outcome{Message: fmt.Sprintf("push interrupted after %d attempts: %v", attempt, lastErr)}
			}
		}
	}

	return Outcome{Message: fmt.Sprintf("push failed after %d attempts: %v", s.maxAttempts, lastErr)}
}

// post performs one attempt. A nil error means the server answered with
// a decodable body; the Outcome then says whether it accepted the push.
func (s *ServerChan) post(ctx context.Context, pushURL string, form url.Values) (Outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pushURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Outcome{}, errFinal{fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, errFinal{fmt.Errorf("network error: %w", err)}
		}
		return Outcome{}, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Outcome{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		if retryableStatus(resp.StatusCode) {
			return Outcome{}, err
		}
		return Outcome{}, errFinal{fmt.Errorf("push rejected: %w", err)}
	}

	var result serverChanResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return Outcome{}, fmt.Errorf("decode response: %w", err)
	}

	if result.Code != 0 {
		msg := result.Message
		if msg == "" {
			msg = "unknown error"
		}
		return Outcome{Message: fmt.Sprintf("push failed: code %d: %s", result.Code, msg)}, nil
	}
	return Outcome{Success: true, Message: "push succeeded", PushID: string(result.Data.PushID)}, nil
}

func retryableStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

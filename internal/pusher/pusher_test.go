package pusher_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracyhatemice/maildigest/internal/pusher"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }

type channelMock struct {
	name  string
	out   pusher.Outcome
	calls int
}

func (c *channelMock) Name() string { return c.name }

func (c *channelMock) Push(context.Context, string, string) pusher.Outcome {
	c.calls++
	return c.out
}

func TestServerChanSuccess(t *testing.T) {
	var gotPath, gotTitle, gotDesp, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		assert.NoError(t, r.ParseForm())
		gotTitle = r.PostForm.Get("title")
		gotDesp = r.PostForm.Get("desp")
		_, _ = io.WriteString(w, `{"code":0,"message":"","data":{"pushid":"98765","readkey":"rk","error":"SUCCESS","errno":0}}`)
	}))
	defer srv.Close()

	sc := pusher.NewServerChan("SCT123", srv.URL+"/", 3, 0, nil, discardLogger())
	out := sc.Push(context.Background(), "Digest", "line 1\nline 2")

	assert.True(t, out.Success)
	assert.Equal(t, "98765", out.PushID)
	assert.Equal(t, "/SCT123.send", gotPath)
	assert.Equal(t, "application/x-www-form-urlencoded", gotType)
	assert.Equal(t, "Digest", gotTitle)
	assert.Equal(t, "line 1\nline 2", gotDesp)
}

func TestServerChanNumericPushID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"code":0,"data":{"pushid":4242}}`)
	}))
	defer srv.Close()

	out := pusher.NewServerChan("k", srv.URL, 3, 0, nil, discardLogger()).Push(context.Background(), "t", "b")
	assert.True(t, out.Success)
	assert.Equal(t, "4242", out.PushID)
}

func TestServerChanEmptySendKey(t *testing.T) {
	var calls int
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		calls++
		return nil, errors.New("unreachable")
	})

	out := pusher.NewServerChan("", "", 3, 0, doer, discardLogger()).Push(context.Background(), "t", "b")

	assert.False(t, out.Success)
	assert.Contains(t, out.Message, "send key")
	assert.Zero(t, calls)
}

func TestServerChanRetriesNetworkErrors(t *testing.T) {
	var calls int
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		calls++
		return nil, errors.New("connection refused")
	})

	start := time.Now()
	out := pusher.NewServerChan("k", "", 3, 5*time.Millisecond, doer, discardLogger()).Push(context.Background(), "t", "b")

	assert.False(t, out.Success)
	assert.Equal(t, 3, calls)
	assert.True(t, strings.HasPrefix(out.Message, "push failed after 3 attempts: "), out.Message)
	assert.Contains(t, out.Message, "connection refused")
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond, "two delays between three attempts")
}

func TestServerChanRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"code":0,"data":{"pushid":"p3"}}`)
	}))
	defer srv.Close()

	out := pusher.NewServerChan("k", srv.URL, 3, 0, nil, discardLogger()).Push(context.Background(), "t", "b")

	assert.True(t, out.Success)
	assert.Equal(t, "p3", out.PushID)
	assert.EqualValues(t, 3, calls.Load())
}

func TestServerChanBadRequestIsFinal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "invalid sendkey", http.StatusBadRequest)
	}))
	defer srv.Close()

	out := pusher.NewServerChan("k", srv.URL, 3, 0, nil, discardLogger()).Push(context.Background(), "t", "b")

	assert.False(t, out.Success)
	assert.EqualValues(t, 1, calls.Load())
	assert.Contains(t, out.Message, "HTTP 400")
}

func TestServerChanApplicationError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, `{"code":40001,"message":"bad pushkey"}`)
	}))
	defer srv.Close()

	out := pusher.NewServerChan("k", srv.URL, 3, 0, nil, discardLogger()).Push(context.Background(), "t", "b")

	assert.False(t, out.Success)
	assert.Contains(t, out.Message, "bad pushkey")
	assert.EqualValues(t, 1, calls.Load())
}

func TestServerChanCancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		calls++
		cancel()
		return nil, errors.New("timeout")
	})

	out := pusher.NewServerChan("k", "", 3, time.Hour, doer, discardLogger()).Push(ctx, "t", "b")

	assert.False(t, out.Success)
	assert.Equal(t, 1, calls)
}

func TestMultiFirstSuccessWins(t *testing.T) {
	a := &channelMock{name: "a", out: pusher.Outcome{Message: "down"}}
	b := &channelMock{name: "b", out: pusher.Outcome{Success: true, PushID: "id-b"}}
	c := &channelMock{name: "c", out: pusher.Outcome{Success: true}}

	out := pusher.NewMulti(discardLogger(), a, b, c).Push(context.Background(), "t", "b")

	assert.True(t, out.Success)
	assert.Equal(t, "b", out.Channel)
	assert.Equal(t, "id-b", out.PushID)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.Zero(t, c.calls)
}

func TestMultiAllFail(t *testing.T) {
	a := &channelMock{name: "a", out: pusher.Outcome{Message: "down"}}
	b := &channelMock{name: "b", out: pusher.Outcome{Message: "rejected"}}

	out := pusher.NewMulti(discardLogger(), a, b).Push(context.Background(), "t", "b")

	assert.False(t, out.Success)
	assert.Equal(t, "all push channels failed: a: down; b: rejected", out.Message)
}

func TestMultiNoChannels(t *testing.T) {
	out := pusher.NewMulti(discardLogger()).Push(context.Background(), "t", "b")
	assert.False(t, out.Success)
	assert.Equal(t, "no push channels configured", out.Message)
}

func TestSplitMessage(t *testing.T) {
	cases := []struct {
		name  string
		text  string
		title string
	}{
		{name: "plain", text: "3 emails need attention\n\nImportant emails", title: "3 emails need attention"},
		{name: "leading blank lines", text: "\n\n  Overview  \nrest", title: "Overview"},
		{name: "markdown heading", text: "## **Weekly digest**\nbody", title: "Weekly digest"},
		{name: "empty", text: "   ", title: ""},
		{name: "long", text: strings.Repeat("邮", 80), title: strings.Repeat("邮", pusher.MaxTitleRunes)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			title, body := pusher.SplitMessage(tc.text)
			assert.Equal(t, tc.title, title)
			assert.Equal(t, strings.TrimSpace(tc.text), body)
		})
	}
}

func TestSMTPMissingRecipient(t *testing.T) {
	s := pusher.NewSMTP("127.0.0.1", 1, "", "", false, "", "", discardLogger())
	out := s.Push(context.Background(), "t", "b")
	require.False(t, out.Success)
	assert.Contains(t, out.Message, "not configured")
}

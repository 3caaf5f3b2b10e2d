package summarizer_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracyhatemice/maildigest/internal/model"
	"github.com/tracyhatemice/maildigest/internal/summarizer"
)

type completerMock struct {
	CompleteFunc func(ctx context.Context, messages []summarizer.Message) (string, error)
	calls        int
	last         []summarizer.Message
}

func (m *completerMock) Complete(ctx context.Context, messages []summarizer.Message) (string, error) {
	m.calls++
	m.last = messages
	return m.CompleteFunc(ctx, messages)
}

func answering(answer string) *completerMock {
	return &completerMock{
		CompleteFunc: func(context.Context, []summarizer.Message) (string, error) { return answer, nil },
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleRecords() []model.Record {
	return []model.Record{
		{
			ID:         "1",
			Subject:    "Exam schedule",
			Sender:     "Registrar",
			Body:       strings.Repeat("长", 250),
			ReceivedAt: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC),
		},
		{
			ID:         "2",
			Subject:    "Lunch",
			Sender:     "bob@example.com",
			Body:       "Pizza on Friday?",
			ReceivedAt: time.Date(2026, 10, 14, 18, 30, 0, 0, time.UTC),
		},
	}
}

func TestSummarizeEmptyMakesNoCall(t *testing.T) {
	m := answering("$ unused $")
	s := summarizer.New(m, 0, discardLogger())

	res := s.Summarize(context.Background(), nil, "auto")

	assert.Equal(t, summarizer.NoMessagesText, res.Text)
	assert.Equal(t, summarizer.StatusEmpty, res.Status)
	assert.Zero(t, m.calls)
}

func TestSummarizeExtraction(t *testing.T) {
	cases := []struct {
		name   string
		answer string
		text   string
		status summarizer.Status
	}{
		{
			name:   "single block",
			answer: "Step 1: look at mail.\nStep 2: done.\n$\n  Overview: 1 important email\n\nImportant emails\n---\nExam schedule\n$\n",
			text:   "Overview: 1 important email\n\nImportant emails\n---\nExam schedule",
			status: summarizer.StatusOK,
		},
		{
			name:   "first block wins",
			answer: "$first$ and $second$",
			text:   "first",
			status: summarizer.StatusOK,
		},
		{
			name:   "no delimiters",
			answer: "I could not follow the format.",
			text:   summarizer.NoBlockText,
			status: summarizer.StatusNoBlock,
		},
		{
			name:   "unterminated",
			answer: "reasoning $ partial answer",
			text:   summarizer.NoBlockText,
			status: summarizer.StatusNoBlock,
		},
		{
			name:   "blank block",
			answer: "$   $",
			text:   summarizer.NoBlockText,
			status: summarizer.StatusNoBlock,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := answering(tc.answer)
			s := summarizer.New(m, time.Second, discardLogger())

			res := s.Summarize(context.Background(), sampleRecords(), "auto")

			assert.Equal(t, tc.text, res.Text)
			assert.Equal(t, tc.status, res.Status)
			assert.Equal(t, tc.status == summarizer.StatusOK, res.OK())
			assert.Equal(t, 1, m.calls)
		})
	}
}

func TestSummarizeFailure(t *testing.T) {
	m := &completerMock{
		CompleteFunc: func(context.Context, []summarizer.Message) (string, error) {
			return "", errors.New("401 invalid api key")
		},
	}
	s := summarizer.New(m, time.Second, discardLogger())

	res := s.Summarize(context.Background(), sampleRecords(), "")

	assert.Equal(t, summarizer.FailedText, res.Text)
	assert.Equal(t, summarizer.StatusFailed, res.Status)
	assert.Equal(t, 1, m.calls, "no retry")
}

func TestSummarizeTimeout(t *testing.T) {
	m := &completerMock{
		CompleteFunc: func(ctx context.Context, _ []summarizer.Message) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	s := summarizer.New(m, 10*time.Millisecond, discardLogger())

	res := s.Summarize(context.Background(), sampleRecords(), "auto")
	assert.Equal(t, summarizer.StatusFailed, res.Status)
}

func TestPromptContents(t *testing.T) {
	m := answering("$ok$")
	s := summarizer.New(m, 0, discardLogger())

	s.Summarize(context.Background(), sampleRecords(), "English")

	require.Len(t, m.last, 2)
	assert.Equal(t, summarizer.RoleSystem, m.last[0].Role)
	assert.Equal(t, summarizer.RoleUser, m.last[1].Role)

	prompt := m.last[1].Content
	assert.Contains(t, prompt, "From: Registrar")
	assert.Contains(t, prompt, "Subject: Exam schedule")
	assert.Contains(t, prompt, "Time: 2026-10-15 09:00:00")
	assert.Contains(t, prompt, "Content: "+strings.Repeat("长", 200)+"...\n")
	assert.NotContains(t, prompt, strings.Repeat("长", 201))
	assert.Contains(t, prompt, "Content: Pizza on Friday?\n")
	assert.Contains(t, prompt, "Write the summary in English.")
	assert.Contains(t, prompt, "Think step by step.")
	assert.GreaterOrEqual(t, strings.Count(prompt, summarizer.Delimiter), 2)
}

func TestChatClient(t *testing.T) {
	var got struct {
		Model       string  `json:"model"`
		Temperature float32 `json:"temperature"`
		Stream      bool    `json:"stream"`
		Messages    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	var auth, path string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"glm-4.5-air",`+
			`"choices":[{"index":0,"message":{"role":"assistant","content":"thinking... $digest$"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	c := summarizer.NewChatClient("k-123", srv.URL, "glm-4.5-air", 0.6, 5*time.Second)
	answer, err := c.Complete(context.Background(), []summarizer.Message{
		{Role: summarizer.RoleSystem, Content: "sys"},
		{Role: summarizer.RoleUser, Content: "hello"},
	})
	require.NoError(t, err)

	assert.Equal(t, "thinking... $digest$", answer)
	assert.Equal(t, "Bearer k-123", auth)
	assert.Equal(t, "/chat/completions", path)
	assert.Equal(t, "glm-4.5-air", got.Model)
	assert.InDelta(t, 0.6, got.Temperature, 1e-6)
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "hello", got.Messages[1].Content)
}

func TestChatClientHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"auth"}}`)
	}))
	defer srv.Close()

	c := summarizer.NewChatClient("wrong", srv.URL, "glm-4.5-air", 0.6, 5*time.Second)
	_, err := c.Complete(context.Background(), []summarizer.Message{{Role: summarizer.RoleUser, Content: "x"}})
	require.Error(t, err)
}

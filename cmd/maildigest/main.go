package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tracyhatemice/maildigest/internal/config"
	"github.com/tracyhatemice/maildigest/internal/dedup"
	"github.com/tracyhatemice/maildigest/internal/pipeline"
	"github.com/tracyhatemice/maildigest/internal/pusher"
	"github.com/tracyhatemice/maildigest/internal/receiver"
	"github.com/tracyhatemice/maildigest/internal/secret"
	"github.com/tracyhatemice/maildigest/internal/summarizer"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	dataDir := flag.String("data-dir", "data", "directory for persistent data (cursor file)")
	envFile := flag.String("env-file", "", "dotenv file loaded before the configuration (default .env if present)")
	windowDays := flag.Int("window-days", 0, "override the look-back window in days")
	testPush := flag.Bool("test-push", false, "send a test message through the push channels and exit")
	flag.Parse()

	if err := loadEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if *windowDays > 0 {
		cfg.WindowDays = *windowDays
	}

	logger, closeLog := setupLogger(cfg.LogLevel, cfg.LogFile)
	defer closeLog()
	logger = logger.With("run_id", uuid.NewString())

	acct, matched := cfg.SelectAccount(cfg.AccountKeyword)
	if !matched {
		logger.Warn("no account matches keyword, using the first account",
			"keyword", cfg.AccountKeyword,
			"account", acct.Label(),
		)
	}
	logger.Info("maildigest starting",
		"account", acct.Label(),
		"protocol", acct.Protocol,
		"window_days", cfg.GetWindowDays(),
		"channels", len(cfg.Push.Channels),
	)

	secrets := secret.NewResolver()
	if err := resolveSecrets(secrets, cfg, &acct); err != nil {
		logger.Error("failed to resolve credentials", "error", err)
		return 1
	}

	if cfg.Summarizer.APIKey == "" {
		logger.Warn("summarizer api_key is empty, requests will be rejected")
	}
	chat := summarizer.NewChatClient(
		cfg.Summarizer.APIKey,
		cfg.Summarizer.GetBaseURL(),
		cfg.Summarizer.GetModel(),
		cfg.Summarizer.GetTemperature(),
		cfg.Summarizer.Timeout(),
	)
	sum := summarizer.New(chat, cfg.Summarizer.Timeout(), logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Force exit on second signal.
	go func() {
		<-ctx.Done()
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Warn("forced shutdown")
		os.Exit(1)
	}()

	push := pusher.NewMulti(logger, newChannels(cfg.Push.Channels, logger)...)
	if push.Len() == 0 {
		logger.Warn("no push channels configured, the digest will only be logged")
	}
	if *testPush {
		return sendTestPush(ctx, push, logger)
	}

	src, err := newSource(acct, logger)
	if err != nil {
		logger.Error("failed to create mail source", "account", acct.Label(), "error", err)
		return 1
	}

	statePath := cfg.StateFile
	if statePath == "" {
		statePath = filepath.Join(*dataDir, sanitize(acct.Label())+".cursor")
	}
	cursor := dedup.NewCursor(statePath)

	runner := pipeline.New(src, sum, push, cursor, pipeline.Options{
		Account:          acct.Label(),
		WindowDays:       cfg.GetWindowDays(),
		Language:         cfg.Summarizer.GetLanguage(),
		ResumeFromCursor: cfg.ResumeFromCursor,
		FailOnError:      cfg.Push.FailOnError,
		PushgatewayURL:   cfg.Metrics.PushgatewayURL,
		MetricsJob:       cfg.Metrics.GetJob(),
	}, logger)

	err = runner.Run(ctx)
	switch {
	case err == nil:
		logger.Info("maildigest finished")
		return 0
	case errors.Is(err, context.Canceled):
		logger.Warn("interrupted, stopping")
		return 130
	case errors.Is(err, pipeline.ErrConnect):
		logger.Error("cannot reach mail source", "account", acct.Label(), "error", err)
		return 1
	case errors.Is(err, pipeline.ErrPush):
		logger.Error("digest not delivered", "error", err)
		return 1
	default:
		logger.Error("run failed", "error", err)
		return 1
	}
}

// sendTestPush delivers a fixed message so channel settings can be
// checked without reading mail.
func sendTestPush(ctx context.Context, p pipeline.Pusher, logger *slog.Logger) int {
	body := fmt.Sprintf("This is a test message from maildigest.\n\nSent at %s.", time.Now().Format(time.DateTime))
	out := p.Push(ctx, "maildigest test push", body)
	if !out.Success {
		logger.Error("test push failed", "message", out.Message)
		return 1
	}
	logger.Info("test push delivered", "channel", out.Channel, "push_id", out.PushID)
	return 0
}

// loadEnv loads path into the environment. With no path, a .env file in
// the working directory is loaded when present.
func loadEnv(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func resolveSecrets(r *secret.Resolver, cfg *config.Config, acct *config.Account) error {
	var err error
	if acct.Password, err = r.Resolve(acct.Password); err != nil {
		return fmt.Errorf("account %s password: %w", acct.Label(), err)
	}
	if cfg.Summarizer.APIKey, err = r.Resolve(cfg.Summarizer.APIKey); err != nil {
		return fmt.Errorf("summarizer api_key: %w", err)
	}
	for i := range cfg.Push.Channels {
		ch := &cfg.Push.Channels[i]
		if ch.SendKey, err = r.Resolve(ch.SendKey); err != nil {
			return fmt.Errorf("push channel #%d send_key: %w", i, err)
		}
		if ch.Password, err = r.Resolve(ch.Password); err != nil {
			return fmt.Errorf("push channel #%d password: %w", i, err)
		}
	}
	return nil
}

func newSource(acct config.Account, logger *slog.Logger) (receiver.Source, error) {
	switch acct.Protocol {
	case "pop3":
		return receiver.NewPOP3(
			acct.Host, acct.Port,
			acct.Username, acct.Password,
			acct.UseTLS, logger,
		), nil
	case "imap":
		return receiver.NewIMAP(
			acct.Host, acct.Port,
			acct.Username, acct.Password,
			acct.UseTLS, acct.GetIMAPFolder(), logger,
		), nil
	case "local":
		return receiver.NewLocal(acct.Path, logger), nil
	default:
		return nil, fmt.Errorf("unsupported protocol: %s", acct.Protocol)
	}
}

func newChannels(channels []config.Channel, logger *slog.Logger) []pusher.Channel {
	out := make([]pusher.Channel, 0, len(channels))
	for _, ch := range channels {
		switch ch.Type {
		case "serverchan":
			out = append(out, pusher.NewServerChan(
				ch.SendKey, ch.GetBaseURL(),
				ch.GetMaxAttempts(), ch.RetryDelay(),
				nil, logger,
			))
		case "smtp":
			out = append(out, pusher.NewSMTP(
				ch.Host, ch.Port,
				ch.Username, ch.Password,
				ch.UseTLS, ch.From, ch.To, logger,
			))
		}
	}
	return out
}

// setupLogger builds the process logger. When file is set, output is also
// written to a size-rotated log file.
func setupLogger(level, file string) (*slog.Logger, func()) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var w io.Writer = os.Stderr
	closeFn := func() {}
	if file != "" {
		rotator := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
		}
		w = io.MultiWriter(os.Stderr, rotator)
		closeFn = func() { _ = rotator.Close() }
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), closeFn
}

func sanitize(name string) string {
	if name == "" {
		return "default"
	}
	out := make([]byte, 0, len(name))
	for _, b := range []byte(name) {
		if (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '-' || b == '_' {
			out = append(out, b)
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}

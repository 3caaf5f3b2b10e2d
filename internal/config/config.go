package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.yaml.in/yaml/v4"
)

// Config is the top-level application configuration.
type Config struct {
	LogLevel         string     `yaml:"log_level"`
	LogFile          string     `yaml:"log_file"`
	StateFile        string     `yaml:"state_file"`
	WindowDays       int        `yaml:"window_days"`
	ResumeFromCursor bool       `yaml:"resume_from_cursor"`
	AccountKeyword   string     `yaml:"account_keyword"`
	Accounts         []Account  `yaml:"accounts"`
	Summarizer       Summarizer `yaml:"summarizer"`
	Push             Push       `yaml:"push"`
	Metrics          Metrics    `yaml:"metrics"`
}

// Account describes one mail source.
type Account struct {
	Name       string `yaml:"name"`
	Protocol   string `yaml:"protocol"` // "imap", "pop3" or "local"
	Address    string `yaml:"address"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	UseTLS     bool   `yaml:"use_tls"`
	IMAPFolder string `yaml:"imap_folder"`
	Path       string `yaml:"path"` // directory of .eml files for "local"
}

// Summarizer configures the chat-completion endpoint.
type Summarizer struct {
	APIKey         string   `yaml:"api_key"`
	BaseURL        string   `yaml:"base_url"`
	Model          string   `yaml:"model"`
	Temperature    *float32 `yaml:"temperature"`
	Language       string   `yaml:"language"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Push lists the notification channels, tried in order.
type Push struct {
	FailOnError bool      `yaml:"fail_on_error"`
	Channels    []Channel `yaml:"channels"`
}

// Channel is one notification target. Fields apply per Type.
type Channel struct {
	Type string `yaml:"type"` // "serverchan" or "smtp"

	// serverchan
	SendKey           string `yaml:"send_key"`
	BaseURL           string `yaml:"base_url"`
	MaxAttempts       int    `yaml:"max_attempts"`
	RetryDelaySeconds *int   `yaml:"retry_delay_seconds"`

	// smtp
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	UseTLS   bool   `yaml:"use_tls"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// Metrics configures the optional Pushgateway export.
type Metrics struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
}

// GetWindowDays returns the number of days to look back, defaulting to 7.
func (c *Config) GetWindowDays() int {
	if c.WindowDays <= 0 {
		return 7
	}
	return c.WindowDays
}

// GetIMAPFolder returns the IMAP folder name, defaulting to "INBOX".
func (a *Account) GetIMAPFolder() string {
	if a.IMAPFolder == "" {
		return "INBOX"
	}
	return a.IMAPFolder
}

// GetAddress returns the address used for account selection.
func (a *Account) GetAddress() string {
	if a.Address != "" {
		return a.Address
	}
	return a.Username
}

// Label is a printable name for logs and state file names.
func (a *Account) Label() string {
	if a.Name != "" {
		return a.Name
	}
	if addr := a.GetAddress(); addr != "" {
		return addr
	}
	return a.Protocol
}

// GetBaseURL defaults to the Zhipu OpenAI-compatible endpoint.
func (s *Summarizer) GetBaseURL() string {
	if s.BaseURL == "" {
		return "https://open.bigmodel.cn/api/paas/v4"
	}
	return s.BaseURL
}

func (s *Summarizer) GetModel() string {
	if s.Model == "" {
		return "glm-4.5-air"
	}
	return s.Model
}

func (s *Summarizer) GetTemperature() float32 {
	if s.Temperature == nil {
		return 0.6
	}
	return *s.Temperature
}

func (s *Summarizer) GetLanguage() string {
	if s.Language == "" {
		return "auto"
	}
	return s.Language
}

// Timeout returns the per-call timeout, defaulting to two minutes.
func (s *Summarizer) Timeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(s.TimeoutSeconds) * time.Second
}

func (c *Channel) GetBaseURL() string {
	if c.BaseURL == "" {
		return "https://sctapi.ftqq.com/"
	}
	return c.BaseURL
}

func (c *Channel) GetMaxAttempts() int {
	if c.MaxAttempts <= 0 {
		return 3
	}
	return c.MaxAttempts
}

// RetryDelay returns the pause between attempts. An explicit zero is kept.
func (c *Channel) RetryDelay() time.Duration {
	if c.RetryDelaySeconds == nil || *c.RetryDelaySeconds < 0 {
		return 10 * time.Second
	}
	return time.Duration(*c.RetryDelaySeconds) * time.Second
}

func (m *Metrics) GetJob() string {
	if m.Job == "" {
		return "maildigest"
	}
	return m.Job
}

// SelectAccount picks the first account whose address contains keyword,
// ignoring case. An empty keyword or no match returns the first account;
// matched reports whether the keyword was honoured.
func (c *Config) SelectAccount(keyword string) (acct Account, matched bool) {
	if keyword != "" {
		k := strings.ToLower(keyword)
		for _, a := range c.Accounts {
			if strings.Contains(strings.ToLower(a.GetAddress()), k) {
				return a, true
			}
		}
	}
	return c.Accounts[0], keyword == ""
}

// Load reads a YAML configuration file, expanding ${VAR} references
// from the environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes configuration bytes. See Load.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{
		LogLevel: "info",
	}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account is required")
	}
	for i, a := range c.Accounts {
		label := a.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		switch a.Protocol {
		case "imap", "pop3":
			if a.Host == "" {
				return fmt.Errorf("account %s: host is required", label)
			}
			if a.Port == 0 {
				return fmt.Errorf("account %s: port is required", label)
			}
		case "local":
			if a.Path == "" {
				return fmt.Errorf("account %s: path is required", label)
			}
		default:
			return fmt.Errorf("account %s: protocol must be imap, pop3 or local", label)
		}
	}
	// The chat API drops a zero temperature from the request and falls
	// back to its own default.
	if t := c.Summarizer.Temperature; t != nil && (*t <= 0 || *t > 1) {
		return fmt.Errorf("summarizer: temperature must be in (0, 1]")
	}
	for i, ch := range c.Push.Channels {
		switch ch.Type {
		case "serverchan":
		case "smtp":
			if ch.Host == "" || ch.Port == 0 {
				return fmt.Errorf("push channel #%d: smtp host and port are required", i)
			}
		default:
			return fmt.Errorf("push channel #%d: type must be serverchan or smtp", i)
		}
	}
	return nil
}

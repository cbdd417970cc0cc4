package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Library     LibraryConfig     `yaml:"library"`
	OpenAI      OpenAIConfig      `yaml:"openai"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
	Whisper     WhisperConfig     `yaml:"whisper"`
	FFmpeg      FFmpegConfig      `yaml:"ffmpeg"`
	Summarizer  SummarizerConfig  `yaml:"summarizer"`
	Gemini      GeminiConfig      `yaml:"gemini"`
	Paths       PathsConfig       `yaml:"paths"`
	Logging     LoggingConfig     `yaml:"logging"`
	Performance PerformanceConfig `yaml:"performance"`
	Timeouts    TimeoutsConfig    `yaml:"timeouts"`

	// Secrets come from the environment only.
	Secrets Secrets `yaml:"-"`
}

type LibraryConfig struct {
	BaseURL       string          `yaml:"base_url"`
	LoginURL      string          `yaml:"login_url"`
	SearchPath    string          `yaml:"search_path"`
	AllowedHosts  []string        `yaml:"allowed_hosts"`
	SessionTTL    time.Duration   `yaml:"session_ttl"`
	MaxPages      int             `yaml:"max_pages"`
	MaxResults    int             `yaml:"max_results"`
	EmailField    string          `yaml:"email_field"`
	PasswordField string          `yaml:"password_field"`
	UserAgent     string          `yaml:"user_agent"`
	Selectors     SelectorsConfig `yaml:"selectors"`
}

// SelectorsConfig holds the CSS selectors used to scrape search pages.
type SelectorsConfig struct {
	Result   string `yaml:"result"`
	Title    string `yaml:"title"`
	Link     string `yaml:"link"`
	Year     string `yaml:"year"`
	Speaker  string `yaml:"speaker"`
	Duration string `yaml:"duration"`
	Next     string `yaml:"next"`
}

type OpenAIConfig struct {
	BaseURL            string `yaml:"base_url"`
	TranscriptionModel string `yaml:"transcription_model"`
	SummaryModel       string `yaml:"summary_model"`
}

type TranscriberConfig struct {
	Provider string `yaml:"provider"` // openai | whisper_cpp
	Language string `yaml:"language"`
	Prompt   string `yaml:"prompt"`
}

type WhisperConfig struct {
	ModelPath  string `yaml:"model_path"`
	BinaryPath string `yaml:"binary_path"`
	Threads    int    `yaml:"threads"`
}

type FFmpegConfig struct {
	BinaryPath string `yaml:"binary_path"`
}

type SummarizerConfig struct {
	Provider    string  `yaml:"provider"` // openai | gemini
	MaxBullets  int     `yaml:"max_bullets"`
	Temperature float64 `yaml:"temperature"`
	ChunkChars  int     `yaml:"chunk_chars"`
	MaxAttempts int     `yaml:"max_attempts"`
}

type GeminiConfig struct {
	Model string `yaml:"model"`
}

type PathsConfig struct {
	Output string `yaml:"output"`
	Temp   string `yaml:"temp"`
	Watch  string `yaml:"watch"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type PerformanceConfig struct {
	MaxConcurrent     int `yaml:"max_concurrent"`
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

type TimeoutsConfig struct {
	Login      time.Duration `yaml:"login"`
	Search     time.Duration `yaml:"search"`
	Fetch      time.Duration `yaml:"fetch"`
	Transcribe time.Duration `yaml:"transcribe"`
	Summarize  time.Duration `yaml:"summarize"`
}

func (c *Config) Validate() error {
	c.applyDefaults()

	switch c.Transcriber.Provider {
	case "openai":
	case "whisper_cpp":
		if c.Whisper.ModelPath == "" {
			return fmt.Errorf("whisper.model_path is required for the whisper_cpp transcriber")
		}
		if c.Whisper.BinaryPath == "" {
			return fmt.Errorf("whisper.binary_path is required for the whisper_cpp transcriber")
		}
	default:
		return fmt.Errorf("transcriber.provider %q is not supported", c.Transcriber.Provider)
	}

	switch c.Summarizer.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("summarizer.provider %q is not supported", c.Summarizer.Provider)
	}

	if !strings.HasPrefix(c.Library.BaseURL, "http") {
		return fmt.Errorf("library.base_url must be an http(s) URL")
	}
	if !strings.HasPrefix(c.Library.LoginURL, "http") {
		return fmt.Errorf("library.login_url must be an http(s) URL")
	}
	if c.Performance.MaxConcurrent < 0 {
		return fmt.Errorf("performance.max_concurrent must not be negative")
	}
	if c.Summarizer.MaxBullets < 0 {
		return fmt.Errorf("summarizer.max_bullets must not be negative")
	}

	return nil
}

func (c *Config) applyDefaults() {
	lib := &c.Library
	if lib.BaseURL == "" {
		lib.BaseURL = "https://library.cirse.org"
	}
	if lib.LoginURL == "" {
		lib.LoginURL = "https://my.cirse.org"
	}
	if lib.SearchPath == "" {
		lib.SearchPath = "/search"
	}
	if len(lib.AllowedHosts) == 0 {
		lib.AllowedHosts = []string{"cirse.org"}
	}
	if lib.SessionTTL == 0 {
		lib.SessionTTL = 30 * time.Minute
	}
	if lib.MaxPages == 0 {
		lib.MaxPages = 20
	}
	if lib.EmailField == "" {
		lib.EmailField = "email"
	}
	if lib.UserAgent == "" {
		lib.UserAgent = "cirse-notes/1.0"
	}
	sel := &lib.Selectors
	if sel.Result == "" {
		sel.Result = ".search-result"
	}
	if sel.Title == "" {
		sel.Title = ".result-title"
	}
	if sel.Link == "" {
		sel.Link = "a[href]"
	}
	if sel.Year == "" {
		sel.Year = ".result-year"
	}
	if sel.Speaker == "" {
		sel.Speaker = ".result-speaker"
	}
	if sel.Duration == "" {
		sel.Duration = ".result-duration"
	}
	if sel.Next == "" {
		sel.Next = `a[rel="next"], .pagination .next a`
	}

	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if c.OpenAI.TranscriptionModel == "" {
		c.OpenAI.TranscriptionModel = "whisper-1"
	}
	if c.OpenAI.SummaryModel == "" {
		c.OpenAI.SummaryModel = "gpt-4o-mini"
	}

	if c.Transcriber.Provider == "" {
		c.Transcriber.Provider = "openai"
	}
	if c.Whisper.Threads == 0 {
		c.Whisper.Threads = 8
	}
	if c.FFmpeg.BinaryPath == "" {
		c.FFmpeg.BinaryPath = "ffmpeg"
	}

	if c.Summarizer.Provider == "" {
		c.Summarizer.Provider = "openai"
	}
	if c.Summarizer.MaxBullets == 0 {
		c.Summarizer.MaxBullets = 15
	}
	if c.Summarizer.Temperature == 0 {
		c.Summarizer.Temperature = 0.2
	}
	if c.Summarizer.ChunkChars == 0 {
		c.Summarizer.ChunkChars = 48000
	}
	if c.Summarizer.MaxAttempts == 0 {
		c.Summarizer.MaxAttempts = 3
	}
	if c.Gemini.Model == "" {
		c.Gemini.Model = "gemini-2.5-flash"
	}

	if c.Paths.Output == "" {
		c.Paths.Output = "cirse_notes"
	}
	if c.Paths.Temp == "" {
		c.Paths.Temp = "data/temp"
	}
	if c.Paths.Watch == "" {
		c.Paths.Watch = "data/input"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if c.Performance.MaxConcurrent == 0 {
		c.Performance.MaxConcurrent = 2
	}

	t := &c.Timeouts
	if t.Login == 0 {
		t.Login = 30 * time.Second
	}
	if t.Search == 0 {
		t.Search = time.Minute
	}
	if t.Fetch == 0 {
		t.Fetch = 10 * time.Minute
	}
	if t.Transcribe == 0 {
		t.Transcribe = 15 * time.Minute
	}
	if t.Summarize == 0 {
		t.Summarize = 3 * time.Minute
	}
}

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type Config struct {
	LLM     LLMConfig     `json:"llm"`
	Sync    SyncConfig    `json:"sync"`
	Sources SourcesConfig `json:"sources"`
}

type LLMConfig struct {
	APIKey     string `json:"api_key"`
	BaseURL    string `json:"base_url"`
	Model      string `json:"model"`
	TimeoutSec int    `json:"timeout_sec"`
}

type SyncConfig struct {
	IntervalSec         int `json:"interval_sec"`
	FetchTimeoutSec     int `json:"fetch_timeout_sec"`
	AnalyzeTimeoutSec   int `json:"analyze_timeout_sec"`
	AnalyzeRatePerSec   int `json:"analyze_rate_per_sec"`
	RateLimitBackoffSec int `json:"rate_limit_backoff_sec"`
}

type SourcesConfig struct {
	Gmail  GmailConfig  `json:"gmail"`
	Slack  SlackConfig  `json:"slack"`
	Jira   JiraConfig   `json:"jira"`
	Linear LinearConfig `json:"linear"`
}

type GmailConfig struct {
	CredentialsFile string `json:"credentials_file"`
	TokenFile       string `json:"token_file"`
}

type SlackConfig struct {
	BotToken  string   `json:"bot_token"`
	Workspace string   `json:"workspace"`
	Channels  []string `json:"channels"`
}

type JiraConfig struct {
	BaseURL  string `json:"base_url"`
	Email    string `json:"email"`
	APIToken string `json:"api_token"`
	JQL      string `json:"jql"`
}

type LinearConfig struct {
	APIKey    string `json:"api_key"`
	Workspace string `json:"workspace"`
}

type Manager struct {
	path string
	mu   sync.RWMutex
	cfg  Config
}

func DefaultPath() string {
	return filepath.Join("config", "config.json")
}

func NewManager(path string) (*Manager, error) {
	cfg := defaultConfig()
	mgr := &Manager{
		path: path,
		cfg:  cfg,
	}
	if err := mgr.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		// first launch: no file yet, defaults still need the env fallback
		applyDefaults(&mgr.cfg)
	}
	if err := mgr.save(); err != nil {
		return nil, err
	}
	return mgr, nil
}

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Update(apply func(*Config)) (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	apply(&m.cfg)
	applyDefaults(&m.cfg)
	if err := m.saveLocked(); err != nil {
		return Config{}, err
	}
	return m.cfg, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	var fileCfg Config
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return err
	}
	m.cfg = fileCfg
	applyDefaults(&m.cfg)
	return nil
}

func (m *Manager) save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m.cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0644)
}

func defaultConfig() Config {
	return Config{
		LLM: LLMConfig{
			Model:      "gpt-4o-mini",
			TimeoutSec: 30,
		},
		Sync: SyncConfig{
			IntervalSec:         300,
			FetchTimeoutSec:     30,
			AnalyzeTimeoutSec:   45,
			AnalyzeRatePerSec:   2,
			RateLimitBackoffSec: 900,
		},
		Sources: SourcesConfig{
			Gmail: GmailConfig{
				CredentialsFile: "credentials.json",
				TokenFile:       "token.json",
			},
		},
	}
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.LLM.APIKey) == "" {
		cfg.LLM.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if strings.TrimSpace(cfg.LLM.Model) == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.TimeoutSec <= 0 {
		cfg.LLM.TimeoutSec = 30
	}
	if cfg.Sync.IntervalSec <= 0 {
		cfg.Sync.IntervalSec = 300
	}
	if cfg.Sync.FetchTimeoutSec <= 0 {
		cfg.Sync.FetchTimeoutSec = 30
	}
	if cfg.Sync.AnalyzeTimeoutSec <= 0 {
		cfg.Sync.AnalyzeTimeoutSec = 45
	}
	if cfg.Sync.AnalyzeRatePerSec <= 0 {
		cfg.Sync.AnalyzeRatePerSec = 2
	}
	if cfg.Sync.RateLimitBackoffSec <= 0 {
		cfg.Sync.RateLimitBackoffSec = 900
	}
	if strings.TrimSpace(cfg.Sources.Gmail.CredentialsFile) == "" {
		cfg.Sources.Gmail.CredentialsFile = "credentials.json"
	}
	if strings.TrimSpace(cfg.Sources.Gmail.TokenFile) == "" {
		cfg.Sources.Gmail.TokenFile = "token.json"
	}
	if strings.TrimSpace(cfg.Sources.Jira.JQL) == "" {
		cfg.Sources.Jira.JQL = "assignee = currentUser() AND statusCategory != Done"
	}
}

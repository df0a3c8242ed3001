package webhook

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// Settings are the runtime webhook settings the operator edits.
type Settings struct {
	Active bool   `json:"active"`
	URL    string `json:"webhookUrl"`
}

// Destination reports where payloads go right now.
type Destination interface {
	// Effective returns the URL to post to and whether delivery is enabled.
	Effective() (url string, active bool)
}

// SettingsStore holds Settings in memory. An environment override URL, when
// set, replaces the stored URL and enables delivery.
type SettingsStore struct {
	mu       sync.RWMutex
	settings Settings
	override string
}

func NewSettingsStore(initial Settings, overrideURL string) *SettingsStore {
	return &SettingsStore{settings: initial, override: strings.TrimSpace(overrideURL)}
}

// Get returns the stored settings.
func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Overridden reports whether the environment override is in force.
func (s *SettingsStore) Overridden() bool { return s.override != "" }

// Set validates and stores new settings.
func (s *SettingsStore) Set(next Settings) error {
	next.URL = strings.TrimSpace(next.URL)
	if next.URL != "" {
		if err := validateURL(next.URL); err != nil {
			return err
		}
	}
	if next.Active && next.URL == "" && s.override == "" {
		return fmt.Errorf("webhook: cannot activate without a URL")
	}
	s.mu.Lock()
	s.settings = next
	s.mu.Unlock()
	return nil
}

func (s *SettingsStore) Effective() (string, bool) {
	if s.override != "" {
		return s.override, true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.URL, s.settings.Active && s.settings.URL != ""
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("webhook: invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook: URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("webhook: URL has no host")
	}
	return nil
}

// Package config loads and persists passman's on-disk configuration: vault
// and audit file locations plus the per-credential policy rules enforced by
// the proxies. Configuration is a single TOML document, following the
// teacher's settings.toml convention but scaled down to passman's schema.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"passman/internal/policy"
	"passman/internal/vault"
)

// envConfigHome overrides the config directory when set, mirroring the
// teacher's SI_SETTINGS_HOME idiom but scoped to passman under the
// XDG_CONFIG_HOME convention.
const envConfigHome = "PASSMAN_CONFIG_HOME"

// RateLimit mirrors policy.RateLimit for TOML (un)marshaling.
type RateLimit struct {
	MaxRequests int `toml:"max_requests"`
	WindowSecs  int `toml:"window_secs"`
}

// Rule is the on-disk shape of a policy.Rule, keyed by credential name in
// the Config.Policies map.
type Rule struct {
	AllowedTools          []string   `toml:"allowed_tools,omitempty"`
	HTTPURLPatterns       []string   `toml:"http_url_patterns,omitempty"`
	SSHCommandPatterns    []string   `toml:"ssh_command_patterns,omitempty"`
	SMTPAllowedRecipients []string   `toml:"smtp_allowed_recipients,omitempty"`
	SQLAllowWrite         bool       `toml:"sql_allow_write,omitempty"`
	RateLimit             *RateLimit `toml:"rate_limit,omitempty"`
}

// ToPolicy converts the on-disk Rule into the policy package's evaluation type.
func (r Rule) ToPolicy() policy.Rule {
	out := policy.Rule{
		AllowedTools:          r.AllowedTools,
		HTTPURLPatterns:       r.HTTPURLPatterns,
		SSHCommandPatterns:    r.SSHCommandPatterns,
		SMTPAllowedRecipients: r.SMTPAllowedRecipients,
		SQLAllowWrite:         r.SQLAllowWrite,
	}
	if r.RateLimit != nil {
		out.RateLimit = &policy.RateLimit{
			MaxRequests: r.RateLimit.MaxRequests,
			WindowSecs:  r.RateLimit.WindowSecs,
		}
	}
	return out
}

// Config is passman's full on-disk configuration.
type Config struct {
	VaultPath string          `toml:"vault_path"`
	AuditPath string          `toml:"audit_path"`
	Policies  map[string]Rule `toml:"policies,omitempty"`
}

// Default returns the configuration used when no settings.toml exists yet.
func Default() Config {
	return Config{
		VaultPath: "~/.passman/vault.json",
		AuditPath: "~/.passman/audit.jsonl",
		Policies:  map[string]Rule{},
	}
}

// Path resolves the settings file location, honoring PASSMAN_CONFIG_HOME
// (an XDG_CONFIG_HOME-style override) before falling back to
// $XDG_CONFIG_HOME/passman/settings.toml or ~/.config/passman/settings.toml.
func Path() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "settings.toml"), nil
}

func configDir() (string, error) {
	if home := strings.TrimSpace(os.Getenv(envConfigHome)); home != "" {
		expanded, err := vault.ExpandHome(home)
		if err != nil {
			return "", err
		}
		return expanded, nil
	}
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		expanded, err := vault.ExpandHome(xdg)
		if err != nil {
			return "", err
		}
		return filepath.Join(expanded, "passman"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "passman"), nil
}

// Load reads settings.toml from its resolved path. A missing file is not an
// error: it yields Default().
func Load() (Config, error) {
	path, err := Path()
	if err != nil {
		return Config{}, err
	}
	return LoadFrom(path)
}

// LoadFrom reads settings from an explicit path, for tests and for callers
// that override the resolved location.
func LoadFrom(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	// Start from defaults so a partial settings.toml still gets sensible
	// vault/audit paths if the user only customized policies.
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.VaultPath == "" {
		cfg.VaultPath = Default().VaultPath
	}
	if cfg.AuditPath == "" {
		cfg.AuditPath = Default().AuditPath
	}
	if cfg.Policies == nil {
		cfg.Policies = map[string]Rule{}
	}
	return cfg, nil
}

// Save writes cfg to its resolved path atomically (temp file + rename),
// matching the teacher's writeSettingsFileAtomic pattern.
func Save(cfg Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	return SaveTo(path, cfg)
}

// SaveTo writes cfg to an explicit path atomically.
func SaveTo(path string, cfg Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.toml.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// ResolvedVaultPath expands ~ and relative segments in cfg.VaultPath.
func (c Config) ResolvedVaultPath() (string, error) {
	return vault.CleanAbs(c.VaultPath)
}

// ResolvedAuditPath expands ~ and relative segments in cfg.AuditPath.
func (c Config) ResolvedAuditPath() (string, error) {
	return vault.CleanAbs(c.AuditPath)
}

// PolicyRuleFor returns the rule configured for a credential by name,
// falling back to a zero-value rule (everything allowed, since nil
// allow-lists and pattern sets mean unrestricted) when no entry exists.
func (c Config) PolicyRuleFor(name string) policy.Rule {
	r, ok := c.Policies[name]
	if !ok {
		return policy.Rule{}
	}
	return r.ToPolicy()
}

// PolicyNames returns the configured credential names in sorted order, used
// by vault_status style introspection and tests.
func (c Config) PolicyNames() []string {
	names := make([]string, 0, len(c.Policies))
	for name := range c.Policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

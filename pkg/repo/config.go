package repo

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// defaultIdentity is recorded in reflog entries when no user identity is
// configured.
const defaultIdentity = "strand <strand@localhost>"

// Config stores repository-local settings in .strand/config.toml.
type Config struct {
	Core struct {
		Bare          bool   `toml:"bare"`
		DefaultBranch string `toml:"default_branch,omitempty"`
	} `toml:"core"`

	User struct {
		Name       string `toml:"name,omitempty"`
		Email      string `toml:"email,omitempty"`
		SigningKey string `toml:"signing_key,omitempty"`
	} `toml:"user,omitempty"`

	Remotes map[string]string `toml:"remotes,omitempty"`
}

// Identity formats the configured user as "Name <email>" for reflog and
// signature use, falling back to defaultIdentity when unset.
func (c *Config) Identity() string {
	if c == nil || strings.TrimSpace(c.User.Name) == "" {
		return defaultIdentity
	}
	email := strings.TrimSpace(c.User.Email)
	if email == "" {
		email = "unknown"
	}
	return fmt.Sprintf("%s <%s>", strings.TrimSpace(c.User.Name), email)
}

func (r *Repo) configPath() string {
	return filepath.Join(r.StrandDir, "config.toml")
}

// ReadConfig reads .strand/config.toml. Missing config returns an empty
// config rather than an error.
func (r *Repo) ReadConfig() (*Config, error) {
	data, err := os.ReadFile(r.configPath())
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{Remotes: make(map[string]string)}, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("read config: decode: %w", err)
	}
	if cfg.Remotes == nil {
		cfg.Remotes = make(map[string]string)
	}
	return &cfg, nil
}

// WriteConfig atomically writes .strand/config.toml via temp file + rename.
func (r *Repo) WriteConfig(cfg *Config) error {
	if cfg == nil {
		cfg = &Config{}
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("write config: encode: %w", err)
	}

	tmp, err := os.CreateTemp(r.StrandDir, ".config-tmp-*")
	if err != nil {
		return fmt.Errorf("write config: tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write config: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: close: %w", err)
	}
	if err := os.Rename(tmpName, r.configPath()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: rename: %w", err)
	}
	return nil
}

// SetIdentity stores the user name and email used for commits and reflog
// entries.
func (r *Repo) SetIdentity(name, email string) error {
	if err := requireNonEmpty("user name", strings.TrimSpace(name)); err != nil {
		return fmt.Errorf("set identity: %w", err)
	}
	cfg, err := r.ReadConfig()
	if err != nil {
		return err
	}
	cfg.User.Name = strings.TrimSpace(name)
	cfg.User.Email = strings.TrimSpace(email)
	return r.WriteConfig(cfg)
}

// SetRemote stores or updates a named remote URL.
func (r *Repo) SetRemote(name, remoteURL string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("set remote: remote name is required")
	}
	remoteURL = strings.TrimSpace(remoteURL)
	if remoteURL == "" {
		return fmt.Errorf("set remote: remote URL is required")
	}

	cfg, err := r.ReadConfig()
	if err != nil {
		return err
	}
	if cfg.Remotes == nil {
		cfg.Remotes = make(map[string]string)
	}
	cfg.Remotes[name] = remoteURL
	return r.WriteConfig(cfg)
}

// RemoteURL returns the configured URL for the given remote name.
func (r *Repo) RemoteURL(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("remote name is required")
	}

	cfg, err := r.ReadConfig()
	if err != nil {
		return "", err
	}
	url, ok := cfg.Remotes[name]
	if !ok || strings.TrimSpace(url) == "" {
		return "", fmt.Errorf("remote %q is not configured", name)
	}
	return url, nil
}

package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"

	"github.com/skillre/mindmap-qoder/internal/adapter"
	"github.com/skillre/mindmap-qoder/internal/naming"
)

// ErrNoProfile is returned when the CLI profile file does not exist.
var ErrNoProfile = errors.New("no profile found; run `mindsync login`")

// Profile is the CLI configuration stored at DefaultProfilePath.
type Profile struct {
	Token           string `toml:"token"`
	Login           string `toml:"login,omitempty"`
	Owner           string `toml:"owner"`
	Repo            string `toml:"repo"`
	Branch          string `toml:"branch,omitempty"`
	Dir             string `toml:"dir,omitempty"`
	BaseURL         string `toml:"base_url,omitempty"`
	AutoSaveSeconds int    `toml:"auto_save_seconds,omitempty"`
}

// Repository returns the configured repository, defaulting the branch.
func (p *Profile) Repository() adapter.RepositoryRef {
	return adapter.RepositoryRef{Owner: p.Owner, Name: p.Repo, Branch: p.Branch}
}

// Directory returns the configured document directory or the default one.
func (p *Profile) Directory() string {
	if p.Dir == "" {
		return naming.DocumentRoot
	}
	return p.Dir
}

// Validate checks that the profile can reach a repository.
func (p *Profile) Validate() error {
	var result *multierror.Error
	if p.Token == "" {
		result = multierror.Append(result, errors.New("token is not set"))
	}
	if p.Owner == "" {
		result = multierror.Append(result, errors.New("owner is not set"))
	}
	if p.Repo == "" {
		result = multierror.Append(result, errors.New("repo is not set"))
	}
	if p.AutoSaveSeconds < 0 {
		result = multierror.Append(result, errors.New("auto_save_seconds must not be negative"))
	}
	return result.ErrorOrNil()
}

// DefaultProfilePath returns $XDG_CONFIG_HOME/mindsync/config.toml (or the
// platform equivalent).
func DefaultProfilePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config directory: %w", err)
	}
	return filepath.Join(dir, "mindsync", "config.toml"), nil
}

// DecodeProfile decodes a Profile from r.
func DecodeProfile(r io.Reader) (*Profile, error) {
	var p Profile
	if _, err := toml.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return &p, nil
}

// ReadProfile reads the profile at path. A missing file is ErrNoProfile.
func ReadProfile(path string) (*Profile, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoProfile
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open profile: %w", err)
	}
	defer f.Close()

	p, err := DecodeProfile(f)
	if err != nil {
		return nil, fmt.Errorf("reading profile from %s: %w", path, err)
	}
	return p, nil
}

// WriteProfile writes p to path, readable only by the owner since it holds
// the credential.
func WriteProfile(path string, p *Profile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create profile directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(p); err != nil {
		return fmt.Errorf("writing profile to %s: %w", path, err)
	}
	return nil
}

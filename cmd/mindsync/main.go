// Command mindsync reads and writes mind-map documents stored in a GitHub
// repository.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/skillre/mindmap-qoder/internal/adapter"
	"github.com/skillre/mindmap-qoder/internal/adapter/github"
	"github.com/skillre/mindmap-qoder/internal/adapter/memory"
	"github.com/skillre/mindmap-qoder/internal/app"
	"github.com/skillre/mindmap-qoder/internal/config"
	"github.com/skillre/mindmap-qoder/internal/document"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var (
	profilePath string
	verbose     bool
)

// demoStores serves demo credentials for the lifetime of the process.
var demoStores = memory.NewProvider(nil)

// now is replaced in tests.
var now = time.Now

// newProvider returns the provider for the profile's host. Demo
// credentials never leave the process.
func newProvider(p *config.Profile, logger hclog.Logger) adapter.StoreProvider {
	return app.NewHybridProvider(github.NewProvider(github.Options{BaseURL: p.BaseURL, Logger: logger}), demoStores)
}

var rootCmd = &cobra.Command{
	Use:           "mindsync",
	Short:         "Sync mind maps with a GitHub repository",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&profilePath, "config", "", "profile path (default $XDG_CONFIG_HOME/mindsync/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func newLogger(cmd *cobra.Command) hclog.Logger {
	level := hclog.Warn
	if verbose {
		level = hclog.Debug
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   "mindsync",
		Level:  level,
		Output: cmd.ErrOrStderr(),
	})
}

func resolveProfilePath() (string, error) {
	if profilePath != "" {
		return profilePath, nil
	}
	return config.DefaultProfilePath()
}

// session is what every remote command needs.
type session struct {
	profile *config.Profile
	store   adapter.DocumentStore
	logger  hclog.Logger
}

// newSession reads the profile and connects to its store.
func newSession(ctx context.Context, cmd *cobra.Command, needRepo bool) (*session, error) {
	path, err := resolveProfilePath()
	if err != nil {
		return nil, err
	}
	p, err := config.ReadProfile(path)
	if err != nil {
		return nil, err
	}
	if needRepo {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("invalid profile %s: %w", path, err)
		}
	}
	logger := newLogger(cmd)
	store, err := newProvider(p, logger).GetAdapter(ctx, p.Token)
	if err != nil {
		return nil, err
	}
	return &session{profile: p, store: store, logger: logger}, nil
}

func (s *session) service() (*document.Service, error) {
	return document.NewService(document.Config{
		Store:  s.store,
		Repo:   s.profile.Repository(),
		Logger: s.logger,
	})
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/skillre/mindmap-qoder/internal/adapter"
	"github.com/skillre/mindmap-qoder/internal/autosave"
	"github.com/skillre/mindmap-qoder/internal/naming"
)

var watchCmd = &cobra.Command{
	Use:   "watch <file>",
	Short: "Auto-save a local tree file while it is being edited",
	Long: `Save the file on every interval tick and whenever it changes on disk.
A save that would overwrite a newer remote version is refused; stop, fetch
the remote document with get and start again with its sha.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		payload, err := readPayload(file)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := newSession(ctx, cmd, true)
		if err != nil {
			return err
		}
		svc, err := s.service()
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		target, _ := flags.GetString("path")
		sha, _ := flags.GetString("sha")
		interval, _ := flags.GetDuration("interval")
		if target == "" {
			target = defaultTarget(s.profile.Directory(), payload)
		}
		if interval == 0 && s.profile.AutoSaveSeconds > 0 {
			interval = time.Duration(s.profile.AutoSaveSeconds) * time.Second
		}

		tr, err := svc.Resume(ctx, naming.WithExt(target), sha)
		if err != nil {
			return err
		}

		reporter := &printReporter{out: cmd.OutOrStdout(), log: autosave.LogReporter{Logger: s.logger}}
		scheduler := autosave.New(autosave.Config{Saver: svc, Reporter: reporter, Logger: s.logger})
		source := autosave.SourceFunc(func(context.Context) (json.RawMessage, error) {
			return readPayload(file)
		})
		if err := scheduler.Enable(ctx, interval, tr, source); err != nil {
			return err
		}
		defer func() {
			scheduler.Disable()
			scheduler.Wait()
		}()

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		defer watcher.Close()
		// Editors often replace the file, so watch its directory.
		if err := watcher.Add(filepath.Dir(file)); err != nil {
			return err
		}

		fmt.Fprintf(cmd.ErrOrStderr(), "watching %s -> %s\n", file, tr.Path())
		watchLoop(ctx, watcher, file, scheduler, s.logger)

		st := scheduler.Status()
		fmt.Fprintf(cmd.ErrOrStderr(), "stopped: %d saved, %d failed, %d skipped\n", st.Saves, st.Failures, st.Skipped)
		return nil
	},
}

// watchLoop triggers a save whenever file is written or replaced.
func watchLoop(ctx context.Context, w *fsnotify.Watcher, file string, s *autosave.Scheduler, logger hclog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Name != file || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if err := s.Trigger(); err != nil && !errors.Is(err, autosave.ErrBusy) {
				logger.Debug("trigger ignored", "error", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Warn("file watcher error", "error", err)
		}
	}
}

// printReporter prints one line per save outcome.
type printReporter struct {
	mu  sync.Mutex
	out io.Writer
	log autosave.LogReporter
}

func (r *printReporter) Saved(path string, res *adapter.WriteResult, at time.Time) {
	r.log.Saved(path, res, at)
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "%s saved %s %s\n", at.Format(time.TimeOnly), path, res.Token)
}

func (r *printReporter) Failed(path string, err error) {
	r.log.Failed(path, err)
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "save failed %s: %s\n", path, adapter.MessageOf(err))
}

func init() {
	watchCmd.Flags().String("path", "", "remote path (default: derived from the root title)")
	watchCmd.Flags().String("sha", "", "version being replaced")
	watchCmd.Flags().Duration("interval", 0, "auto-save interval (default: profile setting or 30s)")
	rootCmd.AddCommand(watchCmd)
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/macfound/configaudit/internal/config"
	"github.com/macfound/configaudit/internal/utils"
	"github.com/macfound/configaudit/pkg/fluxx"
	"github.com/macfound/configaudit/pkg/gitstore"
	"github.com/macfound/configaudit/pkg/metrics"
	"github.com/macfound/configaudit/pkg/notify"
	"github.com/macfound/configaudit/pkg/pipeline"
	"github.com/macfound/configaudit/pkg/snapshot"
	"github.com/macfound/configaudit/pkg/storage"
	"github.com/macfound/configaudit/pkg/whttp"
	"github.com/spf13/cobra"
)

// runCmd implements: configaudit run [--dry-run]
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one configuration audit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			return fmt.Errorf("unknown command: '%s'. See 'configaudit run --help'", args[0])
		}
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, closeStore, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := closeStore(); err != nil {
				utils.Log.Warnf("Closing %s store: %v", cfg.StoreBackend, err)
			}
		}()

		_, err = runAudit(cmd.Context(), cfg, store, auditOptions{DryRun: dryRun})
		return err
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Bool("dry-run", false, "Log the notification instead of sending it and do not store the new version")
}

// openStore opens the versioned store selected by store.backend. The returned func
// releases it.
func openStore(cfg config.Config) (snapshot.Store, func() error, error) {
	switch cfg.StoreBackend {
	case config.BackendGit:
		s := gitstore.New(gitstore.Options{
			Remote:     cfg.Remote,
			Branch:     cfg.Branch,
			WorkDir:    filepath.Join(cfg.WorkDir, "repos"),
			SSHCommand: cfg.SSHCommand,
			Log:        utils.Log,
		})
		return s, s.Cleanup, nil
	case config.BackendSQLite:
		db, err := storage.Open(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	case config.BackendMemory:
		return snapshot.NewMemoryStore(), func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

// newPipeline wires the fluxx fetcher and the mail notifier around store.
func newPipeline(cfg config.Config, store snapshot.Store, dryRun bool, m *metrics.Metrics) *pipeline.Pipeline {
	client := whttp.NewClient(whttp.ClientOptions{
		Timeout:  cfg.HTTPTimeout,
		RetryMax: cfg.HTTPRetries,
		Logger:   utils.Log,
	})

	var channel notify.Channel = &notify.HTTPChannel{URL: cfg.MailURL, FunctionKey: cfg.MailKey, HTTP: client}
	if dryRun {
		channel = &notify.LogChannel{Log: utils.Log}
	}

	return &pipeline.Pipeline{
		Fetcher: fluxx.NewClient(fluxx.Options{
			BaseURL:         cfg.FluxxURL,
			FunctionKey:     cfg.FluxxKey,
			ConfigurationID: cfg.ConfigurationID,
			PerPage:         cfg.PerPage,
			HTTP:            client,
		}),
		Store: store,
		Notifier: &notify.RetryingNotifier{
			Channel:    channel,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
			Log:        utils.Log,
		},
		Config: pipeline.Config{
			Identifier: cfg.Identifier(),
			Routing:    cfg.Routing(),
		},
		Log:     utils.Log,
		Metrics: m,
	}
}

// errRunLocked is returned by runAudit when SkipIfLocked is set and another process
// holds the run lock.
var errRunLocked = errors.New("another run holds the lock")

type auditOptions struct {
	// DryRun reads the previous version from the store but keeps everything it would
	// write in memory and logs the notification instead of sending it.
	DryRun bool
	// SkipIfLocked gives up instead of waiting when the run lock is taken.
	SkipIfLocked bool
	Metrics      *metrics.Metrics
}

// runAudit performs one audit under the run lock.
func runAudit(ctx context.Context, cfg config.Config, store snapshot.Store, opts auditOptions) (*pipeline.Result, error) {
	id := cfg.Identifier()

	lock, err := utils.NewRunLock(cfg.WorkDir, id.String())
	if err != nil {
		return nil, err
	}
	if opts.SkipIfLocked {
		locked, err := lock.TryLock()
		if err != nil {
			return nil, err
		}
		if !locked {
			utils.Log.Warnf("Skipping run for %s, %s is held by another process", id, lock.Path())
			return nil, errRunLocked
		}
	} else if err := lock.Lock(); err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			utils.Log.Warnf("%v", err)
		}
	}()

	if opts.DryRun {
		prev, err := store.GetPrevious(ctx, id)
		if err != nil {
			utils.Log.Errorf("Run failed at stage %s: %v", pipeline.StageLoad, err)
			return nil, &pipeline.StageError{Stage: pipeline.StageLoad, Err: err}
		}
		mem := snapshot.NewMemoryStore()
		if prev != nil {
			mem.Seed(id, *prev)
		}
		store = mem
	}

	res, err := newPipeline(cfg, store, opts.DryRun, opts.Metrics).Run(ctx)
	if err != nil {
		var se *pipeline.StageError
		if errors.As(err, &se) {
			utils.Log.Errorf("Run failed at stage %s: %v", se.Stage, se.Err)
		} else {
			utils.Log.Errorf("Run failed: %v", err)
		}
		return res, err
	}

	utils.Log.Infof("Run finished for %s: %d change(s), notified=%t, persisted=%t", id, len(res.Changes), res.Notified, res.Persisted)
	return res, nil
}

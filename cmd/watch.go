package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/enforcement-sync/internal/ingest"
)

const (
	processedDir = "processed"
	failedDir    = "failed"
)

// dirWatcher ingests every file dropped into a directory as one delivery,
// then moves the files to processed/<delivery> or failed/<delivery>.
type dirWatcher struct {
	dir      string
	ingestor deliveryIngestor
	mu       sync.Mutex
	log      *zap.Logger
}

func newDirWatcher(dir string, ing deliveryIngestor) *dirWatcher {
	return &dirWatcher{
		dir:      dir,
		ingestor: ing,
		log:      zap.L().With(zap.String("component", "watch"), zap.String("dir", dir)),
	}
}

// pending lists regular, non-hidden files at the top of the directory.
func (w *dirWatcher) pending() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, eris.Wrapf(err, "watch: read %s", w.dir)
	}
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// scan processes whatever is pending. It returns the delivery ID, or "" when
// the directory was empty.
func (w *dirWatcher) scan(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	names, err := w.pending()
	if err != nil || len(names) == 0 {
		return "", err
	}

	d := ingest.Delivery{ID: uuid.NewString()}
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(w.dir, name))
		if err != nil {
			return "", eris.Wrapf(err, "watch: read %s", name)
		}
		d.Attachments = append(d.Attachments, ingest.Attachment{Filename: name, Data: data})
	}

	w.log.Info("delivery found", zap.String("delivery_id", d.ID), zap.Strings("files", names))
	_, runErr := w.ingestor.IngestDelivery(ctx, d)

	dest := processedDir
	if runErr != nil {
		dest = failedDir
	}
	if err := w.move(names, filepath.Join(w.dir, dest, d.ID)); err != nil {
		return d.ID, errors.Join(runErr, err)
	}
	return d.ID, runErr
}

func (w *dirWatcher) move(names []string, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return eris.Wrapf(err, "watch: create %s", dest)
	}
	for _, name := range names {
		if err := os.Rename(filepath.Join(w.dir, name), filepath.Join(dest, name)); err != nil {
			return eris.Wrapf(err, "watch: move %s", name)
		}
	}
	return nil
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll a drop directory on a schedule and ingest new exports",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			dir = cfg.Watch.Dir
		}
		if dir == "" {
			return eris.New("watch: directory is required (--dir or watch.dir)")
		}
		once, _ := cmd.Flags().GetBool("once")

		env, err := initSync(ctx, "sync")
		if err != nil {
			return err
		}
		defer env.Close()

		startMonitoring(ctx, env.Store)

		w := newDirWatcher(dir, env.Ingestor)
		if once {
			_, err := w.scan(ctx)
			return err
		}

		c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
		if _, err := c.AddFunc(cfg.Watch.Schedule, func() {
			if id, err := w.scan(ctx); err != nil {
				w.log.Error("scan failed", zap.String("delivery_id", id), zap.Error(err))
			}
		}); err != nil {
			return eris.Wrapf(err, "watch: invalid schedule %q", cfg.Watch.Schedule)
		}

		c.Start()
		zap.L().Info("watching", zap.String("dir", dir), zap.String("schedule", cfg.Watch.Schedule))
		<-ctx.Done()
		<-c.Stop().Done()
		return nil
	},
}

func init() {
	watchCmd.Flags().String("dir", "", "drop directory (default from config)")
	watchCmd.Flags().Bool("once", false, "scan once and exit")
	rootCmd.AddCommand(watchCmd)
}

package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/texttransform/pkg/generator"
	"github.com/openfroyo/texttransform/pkg/policy"
)

// changeDelay debounces bursts of writes to one template.
const changeDelay = 300 * time.Millisecond

func newWatchCommand(version string) *cobra.Command {
	var (
		pattern   string
		initial   bool
		metrics   bool
		metricsAt string
	)

	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Regenerate templates when they change",
		Long: `Watch a directory tree and regenerate every template that is written.

Templates are the files matching --pattern. Policy files listed in the
configuration are reloaded when they change. With metrics enabled the
Prometheus endpoint is served while watching.`,
		Example: `  # Watch the current directory
  texttransform watch

  # Watch a tree of Go templates and serve metrics
  texttransform watch --pattern '*.gott' --metrics --metrics-addr :9191 ./templates`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			if _, err := filepath.Match(pattern, "x"); err != nil {
				return fmt.Errorf("invalid pattern %q: %w", pattern, err)
			}

			cfg, err := loadConfig(cmd.Context())
			if err != nil {
				return reportConfigError(err)
			}
			if metrics {
				cfg.Telemetry.Metrics.Enabled = true
			}
			if metricsAt != "" {
				cfg.Telemetry.Metrics.ListenAddress = metricsAt
			}

			ctx, env, err := newEnvironment(cmd.Context(), cfg, version)
			if err != nil {
				return err
			}
			defer env.close(ctx)

			if srv := env.telemetry.Metrics.NewMetricsServer(); srv != nil {
				go serveMetrics(ctx, srv)
			}

			if len(cfg.Policy.Paths) > 0 {
				loader := policy.NewLoader(env.telemetry.Logger.Zerolog())
				err := loader.Watch(ctx, cfg.Policy.Paths, func(policies []policy.Policy) error {
					return env.policy.Replace(ctx, policies)
				})
				if err != nil {
					return err
				}
			}

			w := &templateWatcher{env: env, pattern: pattern}
			return w.run(ctx, dir, initial)
		},
	}

	cmd.Flags().StringVar(&pattern, "pattern", "*.tt", "file name pattern of templates")
	cmd.Flags().BoolVar(&initial, "initial", true, "generate every template once before watching")
	cmd.Flags().BoolVar(&metrics, "metrics", false, "serve Prometheus metrics (overrides the config)")
	cmd.Flags().StringVar(&metricsAt, "metrics-addr", "", "metrics listen address (overrides the config)")

	return cmd
}

// serveMetrics runs srv until ctx is done.
func serveMetrics(ctx context.Context, srv *http.Server) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", srv.Addr).Msg("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("Metrics server failed")
	}
}

// templateWatcher regenerates changed templates one at a time.
type templateWatcher struct {
	env     *environment
	pattern string

	mu      sync.Mutex
	pending map[string]*time.Timer
}

func (w *templateWatcher) matches(path string) bool {
	ok, _ := filepath.Match(w.pattern, filepath.Base(path))
	return ok
}

func (w *templateWatcher) run(ctx context.Context, dir string, initial bool) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	var templates []string
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		if w.matches(path) {
			templates = append(templates, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	if initial && len(templates) > 0 {
		reqs := make([]generator.Request, len(templates))
		for i, t := range templates {
			reqs[i] = generator.Request{TemplatePath: t}
		}
		results, err := w.env.generator.GenerateAll(ctx, reqs)
		w.report(results, err)
	}

	log.Info().Str("dir", dir).Str("pattern", w.pattern).Msg("Watching templates")

	changes := make(chan string)
	w.pending = make(map[string]*time.Timer)
	defer w.stopPending()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := watcher.Add(event.Name); err != nil {
						log.Warn().Err(err).Str("dir", event.Name).Msg("Failed to watch directory")
					}
					continue
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !w.matches(event.Name) {
				continue
			}
			w.schedule(ctx, event.Name, changes)

		case path := <-changes:
			result, err := w.env.generator.Generate(ctx, generator.Request{TemplatePath: path})
			w.report([]*generator.Result{result}, err)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("Template watcher error")
		}
	}
}

// schedule delivers path on changes once writes to it settle.
func (w *templateWatcher) schedule(ctx context.Context, path string, changes chan<- string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(changeDelay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		select {
		case changes <- path:
		case <-ctx.Done():
		}
	})
}

func (w *templateWatcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *templateWatcher) report(results []*generator.Result, err error) {
	for _, r := range results {
		if r == nil {
			continue
		}
		w.env.printer.PrintResult(r)
		log.Info().
			Str("template", r.TemplatePath).
			Str("state", string(r.State)).
			Msg("Template regenerated")
	}
	if err != nil {
		w.env.printer.PrintError(err)
	}
}

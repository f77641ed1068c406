package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"hotsync/internal/config"
	"hotsync/internal/debounce"
	"hotsync/internal/issues"
	"hotsync/internal/logging"
	"hotsync/internal/manifest"
	"hotsync/internal/protocol"
	"hotsync/internal/reconciler"
	"hotsync/internal/resource"
	"hotsync/internal/transport"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// runWatch connects to the server and applies updates until interrupted.
//
// Goroutines:
//   - reader: client.Run, forwarding decoded messages to the loop
//   - loop: the only goroutine that touches the reconciler; it handles
//     messages, flush ticks, quiet-period signals and manifest reloads
//   - manifest watcher (optional): forwards reloaded manifests to the loop
func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadWatchConfig(configPath, verbose)
	if err != nil {
		return err
	}
	if err := logging.Initialize(cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.CloseAll()

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resources, err := manifest.Load(cfg.Manifest.Path)
	if err != nil {
		return err
	}

	client, err := transport.Dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()
	logger.Info("Connected", zap.String("url", cfg.Server.URL), zap.String("session", client.SessionID()))

	out := cmd.OutOrStdout()
	rec, err := reconciler.New(client, watchHooks(out))
	if err != nil {
		return err
	}

	// The server drops a session's subscriptions with its connection, so
	// there is nothing to unsubscribe on the way out.
	set := manifest.NewSet(rec, func(msg protocol.ServerMessage) { printApplied(out, msg) })
	set.Apply(resources)

	g, gctx := errgroup.WithContext(ctx)

	messages := make(chan protocol.ServerMessage)
	loop := &watchLoop{
		rec:        rec,
		set:        set,
		messages:   messages,
		flushEvery: cfg.GetFlushInterval(),
	}
	if d := cfg.GetQuietPeriod(); d > 0 {
		loop.quiet = debounce.New(d)
	}

	if cfg.Manifest.Watch {
		manifests := make(chan []resource.Resource)
		loop.manifests = manifests
		w, err := manifest.NewWatcher(cfg.Manifest.Path, cfg.GetManifestDebounce(), func(next []resource.Resource) {
			select {
			case manifests <- next:
			case <-gctx.Done():
			}
		})
		if err != nil {
			return err
		}
		if err := w.Start(gctx); err != nil {
			w.Stop()
			return err
		}
		defer w.Stop()
	}

	g.Go(func() error {
		return forwardMessages(gctx, client, messages)
	})
	g.Go(func() error {
		return loop.run(gctx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if pending := rec.Pending(); pending > 0 {
		logger.Debug("Dropping unapplied updates", zap.Int("resources", pending))
	}
	if failures := rec.SendFailures(); failures > 0 {
		logger.Warn("Some subscription messages were not delivered", zap.Int("failures", failures))
	}
	logger.Info("Stopped")
	return err
}

// messageSource is the part of transport.Client the reader drives.
type messageSource interface {
	Run(ctx context.Context, handler transport.Handler) error
}

// forwardMessages runs src and hands every message to out. out is closed when
// src stops, which ends the loop.
func forwardMessages(ctx context.Context, src messageSource, out chan<- protocol.ServerMessage) error {
	defer close(out)
	return src.Run(ctx, func(msg protocol.ServerMessage) error {
		select {
		case out <- msg:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// watchLoop owns the reconciler. Every reconciler call in watch mode happens
// on the goroutine running run.
type watchLoop struct {
	rec       *reconciler.Reconciler
	set       *manifest.Set
	messages  <-chan protocol.ServerMessage
	manifests <-chan []resource.Resource // nil when the manifest is not watched

	flushEvery time.Duration
	quiet      *debounce.Debouncer // nil disables quiet-period flushes
}

func (l *watchLoop) run(ctx context.Context) error {
	var tick <-chan time.Time
	if l.flushEvery > 0 {
		ticker := time.NewTicker(l.flushEvery)
		defer ticker.Stop()
		tick = ticker.C
	}
	var quiet <-chan struct{}
	if l.quiet != nil {
		quiet = l.quiet.C()
		defer l.quiet.Cancel()
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-l.messages:
			if !ok {
				return nil
			}
			if err := l.rec.HandleMessage(msg); err != nil {
				return err
			}
			if l.quiet == nil {
				continue
			}
			switch {
			case l.rec.Pending() == 0:
				l.quiet.Cancel()
			case msg.Type == protocol.TypePartial:
				l.quiet.Trigger()
			}

		case <-tick:
			flushUnlessBlocked(l.rec)

		case <-quiet:
			flushUnlessBlocked(l.rec)

		case next := <-l.manifests:
			l.set.Apply(next)
		}
	}
}

// loadWatchConfig loads and validates the config; verbose forces debug
// logging for every category.
func loadWatchConfig(path string, verbose bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.Verbose()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func watchHooks(out io.Writer) reconciler.Hooks {
	var started time.Time
	return reconciler.Hooks{
		BeforeRefresh: func() {
			started = time.Now()
		},
		AfterRefresh: func() {
			logger.Debug("Refresh applied", zap.Duration("took", time.Since(started)))
		},
		OnIssues: func(res resource.Resource, list []issues.Issue) {
			if len(list) == 0 {
				fmt.Fprintf(out, "%s: no issues\n", res)
				return
			}
			fmt.Fprintf(out, "%s:\n%s", res, issues.Render(list))
		},
	}
}

func flushUnlessBlocked(rec *reconciler.Reconciler) {
	if rec.Blocked() {
		return
	}
	rec.Flush()
}

func printApplied(out io.Writer, msg protocol.ServerMessage) {
	switch msg.Type {
	case protocol.TypePartial:
		chunks := 0
		if msg.Instruction != nil {
			chunks = len(msg.Instruction.Chunks)
		}
		fmt.Fprintf(out, "%s: applied update (%d chunk(s))\n", msg.Resource, chunks)
	case protocol.TypeNotFound:
		fmt.Fprintf(out, "%s: not found on server\n", msg.Resource)
	default:
		fmt.Fprintf(out, "%s: %s\n", msg.Resource, msg.Type)
	}
}

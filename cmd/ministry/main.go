// ministry is a private Python package index. It accepts uploads from
// "setup.py register/upload" and twine, and serves them to pip through the
// simple index, JSON API and project pages.
//
// Usage:
//
//	ministry [serve] [--config FILE] [--listen ADDR]...
//	ministry import [--config FILE] NAME[==VERSION]...
//	ministry reindex [--config FILE]
//	ministry classifiers [--config FILE]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/git-pkgs/ministry/internal/config"
	"github.com/git-pkgs/ministry/internal/core"
	"github.com/git-pkgs/ministry/internal/server"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var commands = map[string]func(ctx context.Context, a *app, args []string, stdout io.Writer) error{
	"serve":       serve,
	"import":      importPackages,
	"reindex":     reindex,
	"classifiers": syncClassifiers,
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 && args[0] == "--version" {
		fmt.Fprintf(stdout, "ministry %s\n", version)
		return nil
	}

	command := "serve"
	if len(args) > 0 {
		if _, ok := commands[args[0]]; ok {
			command, args = args[0], args[1:]
		}
	}

	var (
		configPath string
		listen     []string
		backend    string
	)
	flagSet := pflag.NewFlagSet("ministry "+command, pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to the YAML config file (default $"+config.EnvVar+")")
	flagSet.StringSliceVarP(&listen, "listen", "l", nil, "address to listen on, repeatable (overrides config)")
	flagSet.StringVar(&backend, "backend", "", "metadata backend URL (overrides config)")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if len(listen) > 0 {
		cfg.Listen = listen
	}
	if backend != "" {
		cfg.Backend = backend
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := cfg.Log.NewLogger(stderr)
	slog.SetDefault(logger)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return commands[command](ctx, a, flagSet.Args(), stdout)
}

func serve(ctx context.Context, a *app, args []string, _ io.Writer) error {
	if len(args) > 0 {
		return fmt.Errorf("serve: unexpected argument %q", args[0])
	}

	if a.cfg.Upstream.BootstrapClassifiers {
		bootstrapCtx, cancel := context.WithTimeout(ctx, time.Minute)
		if _, err := a.upstream.SyncClassifiers(bootstrapCtx, a.store, true); err != nil {
			a.logger.Warn("classifier bootstrap failed", "error", err)
		}
		cancel()
	}

	opts := []server.Option{
		server.WithLogger(a.logger),
		server.WithBaseURL(a.cfg.BaseURL),
		server.WithMaxUploadBytes(a.cfg.MaxUploadBytes),
		server.WithStorageBreaker(a.guard),
		server.WithUpstreamBreakers(a.breakers),
	}
	if c := a.collector(); c != nil {
		opts = append(opts, server.WithCollectors(c))
	}
	handler := server.New(a.store, a.blobs, opts...)

	g, ctx := errgroup.WithContext(ctx)
	for _, addr := range a.cfg.Listen {
		srv := &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		}
		g.Go(func() error {
			a.logger.Info("listening", "addr", addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serving %s: %w", addr, err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}

func importPackages(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New("import: at least one package is required")
	}
	refs := make([]core.Ref, 0, len(args))
	for _, arg := range args {
		ref, err := core.ParseRef(arg)
		if err != nil {
			return err
		}
		refs = append(refs, ref)
	}
	if err := a.upstream.ImportAll(ctx, a.store, refs, 4); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "imported %d package(s)\n", len(refs))
	return nil
}

func reindex(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	if len(args) > 0 {
		return fmt.Errorf("reindex: unexpected argument %q", args[0])
	}
	stats, err := a.store.Reindex(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "reindexed %d packages, %d versions (%d failed)\n", stats.Packages, stats.Versions, stats.Failed)
	return nil
}

func syncClassifiers(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	if len(args) > 0 {
		return fmt.Errorf("classifiers: unexpected argument %q", args[0])
	}
	n, err := a.upstream.SyncClassifiers(ctx, a.store, false)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "loaded %d classifiers\n", n)
	return nil
}

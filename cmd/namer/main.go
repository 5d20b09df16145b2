package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go-namer/internal/api"
	"go-namer/internal/board"
	"go-namer/internal/chat"
	"go-namer/internal/config"
	"go-namer/internal/identity"
	"go-namer/internal/metrics"
	"go-namer/internal/realtime"
	"go-namer/internal/suggestion"
	"go-namer/internal/ui"
)

func main() {
	if err := mainInner(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("❌ " + err.Error())
		os.Exit(1)
	}
}

func mainInner(args []string) error {
	// 1. Config & Flags
	envFile, envErr := config.LoadDotenv()
	cfg, err := config.ParseFlags(args)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Warn("could not read .env", "error", envErr)
	} else if envFile != "" {
		logger.Info("✅ Loaded environment", "file", envFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewClientMetrics(reg, "namer")
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			logger.Info("🚀 Metrics listening", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("❌ Metrics server stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// 3. Identity
	store := identity.NewStore(cfg.IdentityFile)
	sess, err := resolveSession(store, cfg.UserName)
	if err != nil {
		return err
	}
	if sess.Valid() {
		logger.Info("✅ Identity ready", "name", sess.Name, "session", sess.ID)
	}

	// 4. Transport
	backend, err := api.New(cfg.ServerURL, api.WithLogger(logger), api.WithMetrics(m))
	if err != nil {
		return err
	}
	wsURL, err := realtime.URLFromBase(cfg.ServerURL)
	if err != nil {
		return err
	}
	conn := realtime.New(wsURL, realtime.WithLogger(logger), realtime.WithMetrics(m))

	// 5. Sync clients & dispatcher
	term := ui.NewTerminal(os.Stdin, os.Stdout)
	suggestions := suggestion.New(backend, term, suggestion.WithStrategy(cfg.Strategy), suggestion.WithLogger(logger))
	chatClient := chat.New(backend, conn, term, chat.WithLogger(logger))
	app := board.New(suggestions, chatClient, term,
		board.WithSession(sess),
		board.WithIdentityStore(store),
		board.WithLogger(logger),
	)
	term.SetUser(func() string { return app.Session().Name })

	suggestions.Bind(ctx, conn)
	chatClient.Bind(conn)
	app.Bind(ctx, conn)

	go func() {
		if err := conn.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("❌ Realtime stopped", "error", err)
		}
	}()

	logger.Info("🚀 Connecting", "server", cfg.ServerURL, "strategy", cfg.Strategy)
	_ = suggestions.List(ctx) // failure is shown inline
	fmt.Fprintln(os.Stdout, board.Help)
	if !sess.Valid() {
		term.Alert("Please set your name first! Use /name NAME")
	}

	// 6. Input loop. Dispatch runs on this goroutine so confirmations read the
	// next line of the same input.
	done := make(chan error, 1)
	go func() { done <- inputLoop(ctx, term, app) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	case err := <-done:
		return err
	}
}

func resolveSession(store *identity.Store, override string) (identity.Session, error) {
	if override != "" {
		sess, err := identity.NewSession(override)
		if err != nil {
			return identity.Session{}, err
		}
		if err := store.Save(sess); err != nil {
			slog.Warn("could not remember name", "path", store.Path(), "error", err)
		}
		return sess, nil
	}

	sess, err := store.Load()
	switch {
	case errors.Is(err, identity.ErrNotSet):
		return identity.Session{}, nil
	case err != nil:
		// A broken file should not lock the user out; they can set a name again.
		slog.Warn("ignoring stored identity", "path", store.Path(), "error", err)
		return identity.Session{}, nil
	}
	return sess, nil
}

func inputLoop(ctx context.Context, term *ui.Terminal, app *board.App) error {
	for {
		line, err := term.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		act, err := board.ParseCommand(line)
		if err != nil {
			term.Alert(err.Error())
			continue
		}
		// Errors were already shown through the terminal.
		_ = app.Dispatch(ctx, act)
	}
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"go-namer/internal/api"
	"go-namer/internal/chat"
	"go-namer/internal/identity"
	"go-namer/internal/metrics"
	"go-namer/internal/model"
	"go-namer/internal/realtime"
	"go-namer/internal/suggestion"
)

// discard is a view for simulated users; nobody is watching their screen.
type discard struct{}

func (discard) RenderSuggestions([]model.Suggestion) {}
func (discard) ShowSuggestionsError(error)           {}
func (discard) Reset()                               {}
func (discard) Append(model.ChatMessage)             {}
func (discard) ScrollToBottom()                      {}

func main() {
	server := flag.String("server", "http://localhost:5000", "Board server base URL")
	users := flag.Int("users", 50, "Simulated users")
	actions := flag.Int("actions", 20, "Actions per user")
	think := flag.Duration("think", 50*time.Millisecond, "Pause between a user's actions")
	flag.Parse()

	if err := run(*server, *users, *actions, *think); err != nil {
		slog.Error("❌ " + err.Error())
		os.Exit(1)
	}
}

func run(server string, users, actions int, think time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()[:8]
	reg := prometheus.NewRegistry()
	m := metrics.NewClientMetrics(reg, "namer_loadtest")
	quiet := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	backend, err := api.New(server, api.WithMetrics(m), api.WithLogger(quiet))
	if err != nil {
		return err
	}
	wsURL, err := realtime.URLFromBase(server)
	if err != nil {
		return err
	}

	slog.Info("🔥 STARTING STRESS TEST", "run", runID, "users", users, "actions", actions)
	start := time.Now()

	var (
		wg     sync.WaitGroup
		failed atomic.Int64
	)
	for i := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := fmt.Sprintf("lt_%s_%d", runID, i)
			if err := simulate(ctx, backend, wsURL, m, quiet, name, actions, think); err != nil {
				failed.Add(1)
				slog.Warn("user gave up", "user", name, "error", err)
			}
		}()
	}
	wg.Wait()

	report(reg, time.Since(start))
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d users failed", n, users)
	}
	slog.Info("✅ LOAD TEST COMPLETE")
	return nil
}

// simulate plays one user: connect, join, then a random mix of suggesting,
// voting and chatting.
func simulate(ctx context.Context, backend *api.Client, wsURL string, m *metrics.ClientMetrics, log *slog.Logger, name string, actions int, think time.Duration) error {
	sess, err := identity.NewSession(name)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn := realtime.New(wsURL, realtime.WithMetrics(m), realtime.WithLogger(log), realtime.WithBackoff(100*time.Millisecond, 2*time.Second))
	board := suggestion.New(backend, discard{}, suggestion.WithStrategy(suggestion.Incremental), suggestion.WithLogger(log))
	room := chat.New(backend, conn, discard{}, chat.WithLogger(log))
	board.Bind(ctx, conn)
	room.Bind(conn)

	connected := make(chan struct{})
	var once sync.Once
	conn.On(realtime.EventConnect, func(json.RawMessage) { once.Do(func() { close(connected) }) })
	go conn.Run(ctx)

	select {
	case <-connected:
	case <-time.After(10 * time.Second):
		return errors.New("realtime connect timed out")
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := room.Join(sess); err != nil {
		return err
	}
	if err := board.List(ctx); err != nil {
		return err
	}

	for n := range actions {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch items := board.Snapshot(); {
		case len(items) == 0 || rand.IntN(4) == 0:
			err = board.Create(ctx, sess, fmt.Sprintf("%s idea %d", name, n))
		case rand.IntN(2) == 0:
			target := items[rand.IntN(len(items))]
			dir := model.Upvote
			if rand.IntN(3) == 0 {
				dir = model.Downvote
			}
			err = board.Vote(ctx, sess, target.ID, dir)
		default:
			err = room.Send(sess, fmt.Sprintf("message %d from %s", n, name))
		}
		if err != nil {
			log.Warn("action failed", "user", name, "error", err)
		}
		time.Sleep(think)
	}
	return nil
}

// report prints request counts by operation and status.
func report(reg *prometheus.Registry, elapsed time.Duration) {
	families, err := reg.Gather()
	if err != nil {
		slog.Warn("could not gather metrics", "error", err)
		return
	}

	counts := map[string]float64{}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			if metric.GetCounter() == nil {
				continue
			}
			key := mf.GetName()
			for _, lp := range metric.GetLabel() {
				key += " " + lp.GetName() + "=" + lp.GetValue()
			}
			counts[key] = metric.GetCounter().GetValue()
		}
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Printf("\n📊 Results after %s\n", elapsed.Round(time.Millisecond))
	for _, k := range keys {
		fmt.Printf("  %-70s %8.0f\n", k, counts[k])
	}
}

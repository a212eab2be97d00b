package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tripwire-kernel/kernel/activity"
	"github.com/tripwire-kernel/kernel/agentevent"
	"github.com/tripwire-kernel/kernel/config"
	"github.com/tripwire-kernel/kernel/hooks"
	"github.com/tripwire-kernel/kernel/intent"
	"github.com/tripwire-kernel/kernel/pipeline"
	"github.com/tripwire-kernel/kernel/safety"
	"github.com/tripwire-kernel/kernel/sink/pulse"
	"github.com/tripwire-kernel/kernel/store/sqlite"
	"github.com/tripwire-kernel/kernel/telemetry"
)

var (
	metricsAddr    string
	sessionsN      int
	eventsPerS     int
	ledgerPath     string
	pulseRedisAddr string
	pulseStreamID  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Host multiple concurrent sessions, each backed by its own Pipeline",
	Long: `serve runs a demo fleet of sessions, each driven by a synthetic AgentEvent
generator through its own Pipeline, and exposes Prometheus metrics for scraping. It exists
to exercise the pipeline under concurrency, not to model any particular production
deployment topology.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve /metrics on")
	serveCmd.Flags().IntVar(&sessionsN, "sessions", 4, "number of concurrent sessions to host")
	serveCmd.Flags().IntVar(&eventsPerS, "events-per-second", 2, "synthetic event rate per session")
	serveCmd.Flags().StringVar(&ledgerPath, "ledger-path", "tripwire-ledger.db", "path to the SQLite audit ledger every session appends decisions to")
	serveCmd.Flags().StringVar(&pulseRedisAddr, "pulse-redis-addr", "", "if set, also fan telemetry out to a Pulse stream over this Redis address")
	serveCmd.Flags().StringVar(&pulseStreamID, "pulse-stream-id", "tripwire-events", "Pulse stream name telemetry is published to when --pulse-redis-addr is set")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if sessionsN <= 0 {
		return fmt.Errorf("serve: --sessions must be positive, got %d", sessionsN)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	metrics := telemetry.NewPrometheusMetrics(registry)
	logger := telemetry.NewNoopLogger()

	ledger, err := sqlite.Open(ledgerPath)
	if err != nil {
		return fmt.Errorf("serve: open ledger: %w", err)
	}
	defer ledger.Close()

	var pulseSink *pulse.Sink
	if pulseRedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: pulseRedisAddr})
		defer rdb.Close()
		pulseClient, err := pulse.NewClient(rdb, 0)
		if err != nil {
			return fmt.Errorf("serve: build pulse client: %w", err)
		}
		pulseSink = pulse.NewSink(pulseClient, pulseStreamID)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: metricsAddr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		fmt.Fprintf(os.Stderr, "serving metrics on %s\n", metricsAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: metrics listener: %w", err)
		}
		return nil
	})

	var mu sync.Mutex
	fingerprints := make(map[string]string, sessionsN)

	for i := 0; i < sessionsN; i++ {
		sessionID := fmt.Sprintf("session-%d-%s", i, uuid.New().String())
		group.Go(func() error {
			p := newSessionPipeline(cfg, metrics, logger, pulseSink)
			fp := runSession(gctx, sessionID, p, eventsPerS, ledger)
			mu.Lock()
			fingerprints[sessionID] = fp
			mu.Unlock()
			return nil
		})
	}

	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	summary, _ := json.MarshalIndent(fingerprints, "", "  ")
	fmt.Fprintln(os.Stderr, string(summary))
	return nil
}

// newSessionPipeline builds one Pipeline per session, each with its own in-process bus. When
// pulseSink is non-nil (i.e. --pulse-redis-addr was set) it is registered as a subscriber so
// every session's telemetry additionally fans out onto the shared Pulse stream, alongside the
// per-event log line every session already gets from its own bus.
func newSessionPipeline(cfg config.Config, metrics telemetry.Metrics, logger telemetry.Logger, pulseSink *pulse.Sink) *pipeline.Pipeline {
	clock := wallClock
	bus := hooks.NewBus()
	if _, err := bus.Register(hooks.SubscriberFunc(logTelemetryEvent)); err != nil {
		fmt.Fprintf(os.Stderr, "serve: register log subscriber: %v\n", err)
	}
	if pulseSink != nil {
		if _, err := bus.Register(pulseSink); err != nil {
			fmt.Fprintf(os.Stderr, "serve: register pulse sink: %v\n", err)
		}
	}
	return pipeline.New(cfg, clock,
		activity.New(cfg, clock),
		intent.New(cfg, clock),
		safety.New(cfg, clock),
		nil,
		bus, logger, metrics,
	)
}

// runSession drives p with a synthetic AgentEvent stream until ctx is cancelled, returning
// the session's final fingerprint. The generator is deliberately simplistic: it exists to
// put load through the pipeline under a serve deployment, not to model realistic agent
// behavior. Every processed event's decision is appended to ledger as the session's audit
// trail; a ledger write failure is logged and otherwise ignored, since the ledger is a
// host-side concern the pipeline itself never depends on.
func runSession(ctx context.Context, sessionID string, p *pipeline.Pipeline, eventsPerSecond int, ledger *sqlite.Ledger) string {
	if eventsPerSecond <= 0 {
		eventsPerSecond = 1
	}
	ticker := time.NewTicker(time.Second / time.Duration(eventsPerSecond))
	defer ticker.Stop()

	var seq int64
	for {
		select {
		case <-ctx.Done():
			return p.Fingerprint()
		case <-ticker.C:
			seq++
			event := syntheticEvent(seq)
			result := p.Process(ctx, event)
			record := sqlite.Record{
				SessionID: sessionID,
				Sequence:  seq,
				State:     result.State,
				Intent:    result.Intent,
				Decision:  result.Decision,
				Result:    result.Exec,
			}
			if err := ledger.Append(ctx, record); err != nil {
				fmt.Fprintf(os.Stderr, "serve: session %s: ledger append: %v\n", sessionID, err)
			}
		}
	}
}

func syntheticEvent(seq int64) agentevent.AgentEvent {
	return agentevent.AgentEvent{
		Timestamp:    seq * 500,
		TokenCount:   randomInt(50, 400),
		ToolCalls:    randomInt(0, 3),
		LatencyMs:    int64(randomInt(100, 800)),
		OutputLength: randomInt(20, 2000),
		OutputHash:   fmt.Sprintf("seq-%d", seq),
	}
}

func randomInt(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	span := hi - lo
	n := int(b[0]) | int(b[1])<<8
	return lo + (n % span)
}

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/tripwire-kernel/kernel/activity"
	"github.com/tripwire-kernel/kernel/agentevent"
	"github.com/tripwire-kernel/kernel/config"
	"github.com/tripwire-kernel/kernel/hooks"
	"github.com/tripwire-kernel/kernel/intent"
	"github.com/tripwire-kernel/kernel/pipeline"
	"github.com/tripwire-kernel/kernel/safety"
	"github.com/tripwire-kernel/kernel/telemetry"
	"github.com/tripwire-kernel/kernel/validation"
)

var (
	replayRealtime bool
	replaySpeedup  float64
)

var replayCmd = &cobra.Command{
	Use:   "replay <events.jsonl>",
	Short: "Replay a JSONL AgentEvent fixture through one Pipeline",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

func init() {
	replayCmd.Flags().BoolVar(&replayRealtime, "replay-realtime", false, "pace event delivery to match recorded event timestamps")
	replayCmd.Flags().Float64Var(&replaySpeedup, "speedup", 1.0, "multiply realtime pacing by this factor (2.0 = twice as fast)")
	rootCmd.AddCommand(replayCmd)
}

// jsonlEvent is the on-disk representation of one AgentEvent, one per line.
type jsonlEvent struct {
	Timestamp    int64  `json:"timestamp"`
	TokenCount   int    `json:"tokenCount"`
	ToolCalls    int    `json:"toolCalls"`
	LatencyMs    int64  `json:"latencyMs"`
	OutputLength int    `json:"outputLength"`
	OutputHash   string `json:"outputHash"`
}

func (e jsonlEvent) toAgentEvent() agentevent.AgentEvent {
	return agentevent.AgentEvent{
		Timestamp:    e.Timestamp,
		TokenCount:   e.TokenCount,
		ToolCalls:    e.ToolCalls,
		LatencyMs:    e.LatencyMs,
		OutputLength: e.OutputLength,
		OutputHash:   e.OutputHash,
	}
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	events, err := readJSONLEvents(args[0])
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return fmt.Errorf("replay: %q contains no events", args[0])
	}

	logger := telemetry.NewNoopLogger()
	metrics := telemetry.NewNoopMetrics()
	bus := hooks.NewBus()
	sub, err := bus.Register(hooks.SubscriberFunc(logTelemetryEvent))
	if err != nil {
		return err
	}
	defer sub.Close()

	clock := wallClock
	p := pipeline.New(cfg, clock,
		activity.New(cfg, clock),
		intent.New(cfg, clock),
		safety.New(cfg, clock),
		nil, // no execution adapter: replay never authorizes real side effects
		bus, logger, metrics,
	)

	ctx := context.Background()
	if replayRealtime {
		pace(ctx, events, replaySpeedup, p)
	} else {
		results, fp := p.Run(ctx, events)
		printResults(results, fp)
	}
	return nil
}

// pace replays events honoring the gaps between consecutive recorded timestamps, scaled by
// speedup, using a single reusable rate.Limiter the way goa-ai's middleware package
// throttles provider calls. The limiter is seeded with an empty bucket so the very first
// Wait for a given gap actually blocks instead of consuming a free initial token.
func pace(ctx context.Context, events []agentevent.AgentEvent, speedup float64, p *pipeline.Pipeline) {
	if speedup <= 0 {
		speedup = 1.0
	}
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	limiter.AllowN(time.Now(), 1) // drain the starting token so the first real wait actually blocks

	var results []pipeline.Result
	for i, event := range events {
		if i > 0 {
			gapMs := events[i].Timestamp - events[i-1].Timestamp
			if gapMs > 0 {
				wait := time.Duration(float64(gapMs)/speedup) * time.Millisecond
				limiter.SetLimit(rate.Every(wait))
				_ = limiter.WaitN(ctx, 1)
			}
		}
		results = append(results, p.Process(ctx, event))
	}
	printResults(results, p.Fingerprint())
}

func printResults(results []pipeline.Result, fingerprint string) {
	for i, r := range results {
		fmt.Printf("event[%d] mode=%s intensity=%s intent=%s(%.2f) allowed=%v veto=%s exec=%s\n",
			i, r.State.Mode, r.State.Intensity, r.Intent.Intent, r.Intent.Confidence,
			r.Decision.Allowed, r.Decision.VetoReason, r.Exec.Status)
	}
	fmt.Printf("fingerprint: %s\n", fingerprint)
}

func logTelemetryEvent(ctx context.Context, event hooks.Event) error {
	fmt.Fprintf(os.Stderr, "[telemetry] %s @ %d\n", event.Type(), event.Timestamp())
	return nil
}

// readJSONLEvents reads one AgentEvent per line, validating each line against the wire
// schema in validation before it is decoded, per SPEC_FULL.md §2's replay ingest contract.
func readJSONLEvents(path string) ([]agentevent.AgentEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replay: open %q: %w", path, err)
	}
	defer f.Close()

	validator, err := validation.NewAgentEventValidator()
	if err != nil {
		return nil, fmt.Errorf("replay: build validator: %w", err)
	}

	var events []agentevent.AgentEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := validator.ValidateJSON(line); err != nil {
			return nil, fmt.Errorf("replay: %w", err)
		}
		var je jsonlEvent
		if err := json.Unmarshal(line, &je); err != nil {
			return nil, fmt.Errorf("replay: parse event: %w", err)
		}
		events = append(events, je.toAgentEvent())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("replay: read %q: %w", path, err)
	}
	return events, nil
}

func loadConfig() (config.Config, error) {
	if configPath == "" {
		return config.New(), nil
	}
	return config.FromYAML(configPath)
}

func wallClock() int64 {
	return time.Now().UnixMilli()
}

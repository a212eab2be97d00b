package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripwire-kernel/kernel/config"
	"github.com/tripwire-kernel/kernel/sink/pulse"
	"github.com/tripwire-kernel/kernel/store/sqlite"
	"github.com/tripwire-kernel/kernel/telemetry"
)

// stubPulseStream and stubPulseClient are minimal pulse.Client/pulse.Stream fakes, just enough
// to prove newSessionPipeline actually registers a non-nil pulse.Sink on the session's bus.
type stubPulseStream struct{}

func (stubPulseStream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	return "id", nil
}

type stubPulseClient struct{}

func (stubPulseClient) Stream(name string) (pulse.Stream, error) {
	if name == "" {
		return nil, errors.New("stub: empty stream name")
	}
	return stubPulseStream{}, nil
}

func openTestLedger(t *testing.T) *sqlite.Ledger {
	t.Helper()
	l, err := sqlite.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRandomInt_StaysWithinBounds(t *testing.T) {
	for i := 0; i < 50; i++ {
		n := randomInt(10, 20)
		assert.GreaterOrEqual(t, n, 10)
		assert.Less(t, n, 20)
	}
}

func TestRandomInt_DegenerateRangeReturnsLowerBound(t *testing.T) {
	assert.Equal(t, 5, randomInt(5, 5))
	assert.Equal(t, 5, randomInt(5, 3))
}

func TestSyntheticEvent_IncorporatesSequenceIntoTimestampAndHash(t *testing.T) {
	event := syntheticEvent(3)
	assert.Equal(t, int64(1_500), event.Timestamp)
	assert.Equal(t, "seq-3", event.OutputHash)
	assert.GreaterOrEqual(t, event.TokenCount, 50)
	assert.LessOrEqual(t, event.TokenCount, 400)
}

func TestNewSessionPipeline_ReturnsUsablePipeline(t *testing.T) {
	p := newSessionPipeline(config.New(), telemetry.NewNoopMetrics(), telemetry.NewNoopLogger(), nil)
	require.NotNil(t, p)
	assert.Empty(t, p.Fingerprint())
}

func TestRunSession_StopsOnContextCancelAndReturnsFingerprint(t *testing.T) {
	p := newSessionPipeline(config.New(), telemetry.NewNoopMetrics(), telemetry.NewNoopLogger(), nil)
	ledger := openTestLedger(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	fp := runSession(ctx, "session-test", p, 100, ledger)
	assert.Equal(t, p.Fingerprint(), fp)
}

func TestNewSessionPipeline_RegistersPulseSinkWhenProvided(t *testing.T) {
	sink := pulse.NewSink(stubPulseClient{}, "test-stream")
	p := newSessionPipeline(config.New(), telemetry.NewNoopMetrics(), telemetry.NewNoopLogger(), sink)
	require.NotNil(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.NotPanics(t, func() {
		p.Process(ctx, syntheticEvent(1))
	})
}

func TestRunSession_AppendsDecisionsToLedger(t *testing.T) {
	p := newSessionPipeline(config.New(), telemetry.NewNoopMetrics(), telemetry.NewNoopLogger(), nil)
	ledger := openTestLedger(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	runSession(ctx, "session-ledger", p, 200, ledger)

	records, err := ledger.ForSession(context.Background(), "session-ledger")
	require.NoError(t, err)
	assert.NotEmpty(t, records)
}

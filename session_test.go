package adatrace

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adatrace/tracer/internal/cliconfig"
)

func newTestSessionConfig(t *testing.T) SessionConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultSessionConfig()
	cfg.PID = os.Getpid()
	cfg.OutputDir = dir
	cfg.DisableRegistry = true
	cfg.IndexRingBytes = 4096
	cfg.DetailRingBytes = 4096
	cfg.RingsPerLane = 2
	cfg.PollInterval = time.Millisecond
	return cfg
}

func TestCreateSessionDisableRegistrySkipsControlPlane(t *testing.T) {
	s, err := CreateSession(newTestSessionConfig(t))
	require.NoError(t, err)
	defer s.Close()

	assert.Nil(t, s.control)
	assert.Nil(t, s.registry)
}

func TestEnterExitRoundTripPersistsToEventsFile(t *testing.T) {
	cfg := newTestSessionConfig(t)
	s, err := CreateSession(cfg)
	require.NoError(t, err)

	tok := s.EnterCall(1, 42, 0)
	s.ExitCall(tok, 1, 42, 0)

	require.NoError(t, s.Close())

	info, err := os.Stat(cfg.OutputDir + "/events.atf")
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestEmitDetailWithoutMarkingRulesPersistsNoWindow(t *testing.T) {
	cfg := newTestSessionConfig(t)
	cfg.RingsPerLane = 2
	s, err := CreateSession(cfg)
	require.NoError(t, err)

	for i := 0; i < 64; i++ {
		s.EmitDetail(7, 1, "some_func", "", nil, 0, 0, 0, nil)
	}

	require.NoError(t, s.Close())

	persisted, discarded := s.selMgr.Stats()
	assert.Zero(t, persisted)
	assert.GreaterOrEqual(t, discarded, uint64(0))
}

func TestClosedSessionFlushesMetrics(t *testing.T) {
	s, err := CreateSession(newTestSessionConfig(t))
	require.NoError(t, err)

	tok := s.EnterCall(1, 1, 0)
	s.ExitCall(tok, 1, 1, 0)

	require.NoError(t, s.Close())

	snap := s.Metrics().Snapshot()
	assert.GreaterOrEqual(t, snap.IndexEvents, uint64(1))
}

func TestCloseIsIdempotent(t *testing.T) {
	s, err := CreateSession(newTestSessionConfig(t))
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestNewSessionConfigFromCLITranslatesSymbolTrigger(t *testing.T) {
	cli := cliconfig.TracerConfig{
		Triggers: []cliconfig.Trigger{
			{Kind: cliconfig.TriggerSymbol, Module: "mymodule", Symbol: "do_work"},
		},
	}

	cfg := NewSessionConfigFromCLI(cli, 123)

	require.Len(t, cfg.MarkingRules, 1)
	assert.Equal(t, "mymodule::do_work", cfg.MarkingRules[0].Pattern)
}

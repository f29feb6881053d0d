package cliconfig

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultOutput, cfg.Output)
	assert.Empty(t, cfg.Command)
}

func TestParseSpawnWithChildArgs(t *testing.T) {
	cfg, err := Parse([]string{"spawn", "/bin/myapp", "--output", "/tmp/x", "--", "--child-flag", "value"})
	require.NoError(t, err)
	assert.Equal(t, "spawn", cfg.Command)
	assert.Equal(t, "/bin/myapp", cfg.Target)
	assert.Equal(t, "/tmp/x", cfg.Output)
	assert.Equal(t, []string{"--child-flag", "value"}, cfg.Args)
}

func TestParseAttachRequiresTarget(t *testing.T) {
	_, err := Parse([]string{"attach"})
	assert.Error(t, err)
}

func TestDurationRoundsUpToOneMillisecond(t *testing.T) {
	cfg, err := Parse([]string{"--duration", "0.0000001"})
	require.NoError(t, err)
	assert.Equal(t, time.Millisecond, cfg.Duration)
}

func TestStackBytesClampedToMax(t *testing.T) {
	cfg, err := Parse([]string{"--stack-bytes", "4096"})
	require.NoError(t, err)
	assert.Equal(t, MaxStackBytes, cfg.StackBytes)
}

func TestExcludeFallsBackToEnv(t *testing.T) {
	t.Setenv("ADA_EXCLUDE", "foo,bar")
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"foo", "bar"}, cfg.Exclude)
}

func TestExcludeFlagTakesPrecedenceOverEnv(t *testing.T) {
	t.Setenv("ADA_EXCLUDE", "ignored")
	cfg, err := Parse([]string{"--exclude", "real"})
	require.NoError(t, err)
	assert.Equal(t, []string{"real"}, cfg.Exclude)
}

func TestDisableRegistryFromEnv(t *testing.T) {
	t.Setenv("ADA_DISABLE_REGISTRY", "1")
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.True(t, cfg.DisableRegistry)
}

func TestParseTriggerSymbolWithModule(t *testing.T) {
	cfg, err := Parse([]string{"--trigger", "symbol=mymod::my_func"})
	require.NoError(t, err)
	require.Len(t, cfg.Triggers, 1)
	assert.Equal(t, TriggerSymbol, cfg.Triggers[0].Kind)
	assert.Equal(t, "mymod", cfg.Triggers[0].Module)
	assert.Equal(t, "my_func", cfg.Triggers[0].Symbol)
}

func TestParseTriggerCrash(t *testing.T) {
	cfg, err := Parse([]string{"--trigger", "crash"})
	require.NoError(t, err)
	require.Len(t, cfg.Triggers, 1)
	assert.Equal(t, TriggerCrash, cfg.Triggers[0].Kind)
}

func TestParseTriggerTime(t *testing.T) {
	cfg, err := Parse([]string{"--trigger", "time=2.5"})
	require.NoError(t, err)
	require.Len(t, cfg.Triggers, 1)
	assert.Equal(t, TriggerTime, cfg.Triggers[0].Kind)
	assert.Equal(t, 2.5, cfg.Triggers[0].AfterSec)
}

func TestParseTriggerInvalidSpec(t *testing.T) {
	_, err := Parse([]string{"--trigger", "nonsense"})
	assert.Error(t, err)
}

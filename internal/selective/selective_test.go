package selective

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkingPolicyLiteralMatch(t *testing.T) {
	p := NewMarkingPolicy([]RuleSpec{
		{Target: TargetSymbol, Pattern: "hot_path"},
	}, nil)

	assert.True(t, p.Matches("my_hot_path_func", ""))
	assert.False(t, p.Matches("cold_func", ""))
}

func TestMarkingPolicyRegexMatch(t *testing.T) {
	p := NewMarkingPolicy([]RuleSpec{
		{Target: TargetMessage, Pattern: "^error:.*timeout$", Regex: true},
	}, nil)

	assert.True(t, p.Matches("", "error: request timeout"))
	assert.False(t, p.Matches("", "error: bad request"))
}

func TestMarkingPolicyBadRegexFallsBackToLiteral(t *testing.T) {
	p := NewMarkingPolicy([]RuleSpec{
		{Target: TargetSymbol, Pattern: "a(b", Regex: true},
	}, nil)

	require.Equal(t, 1, p.RuleCount())
	assert.True(t, p.Matches("a(b_suffix", ""))
}

func TestMarkingPolicyCaseSensitivity(t *testing.T) {
	insensitive := NewMarkingPolicy([]RuleSpec{{Target: TargetSymbol, Pattern: "Foo"}}, nil)
	assert.True(t, insensitive.Matches("foo_bar", ""))

	sensitive := NewMarkingPolicy([]RuleSpec{{Target: TargetSymbol, Pattern: "Foo", CaseSensitive: true}}, nil)
	assert.False(t, sensitive.Matches("foo_bar", ""))
	assert.True(t, sensitive.Matches("Foo_bar", ""))
}

func TestWindowShouldDumpRequiresAllConditions(t *testing.T) {
	w := NewWindow(1, 1, 100, false)
	assert.False(t, w.ShouldDump(true), "no mark seen, not marked")

	w.SetMarked(true)
	assert.False(t, w.ShouldDump(true), "marked but no event observed")

	policy := NewMarkingPolicy([]RuleSpec{{Target: TargetSymbol, Pattern: "trigger"}}, nil)
	w.Observe("trigger_func", "", 150, policy)
	assert.True(t, w.ShouldDump(true))
	assert.False(t, w.ShouldDump(false), "ring not actually full")
}

func TestWindowObserveCountsTotalsAndFirstMark(t *testing.T) {
	policy := NewMarkingPolicy([]RuleSpec{{Target: TargetSymbol, Pattern: "trigger"}}, nil)
	w := NewWindow(1, 1, 0, true)

	w.Observe("cold_func", "", 10, policy)
	w.Observe("trigger_func", "", 20, policy)
	w.Observe("trigger_func", "", 30, policy)

	assert.EqualValues(t, 3, w.TotalEvents())
	assert.EqualValues(t, 2, w.MarkedEvents())
	assert.True(t, w.MarkSeen())
	assert.EqualValues(t, 20, w.FirstMarkNs(), "first_mark_ns latches at the first match, not later ones")
	assert.EqualValues(t, 30, w.LastEventNs())
}

func TestManagerPersistsOnDump(t *testing.T) {
	policy := NewMarkingPolicy([]RuleSpec{{Target: TargetSymbol, Pattern: "trigger"}}, nil)
	sink := &fakeSink{}
	m := NewManager(policy, sink, nil)

	w := NewWindow(m.NextWindowID(), 1, 0, true)
	w.Observe("trigger_func", "", 50, policy)

	persisted, carryMarked := m.RingFilled(w, 100)
	assert.True(t, persisted)
	assert.True(t, carryMarked)
	require.Len(t, sink.written, 1)
	got := sink.written[0]
	assert.EqualValues(t, 1, got.WindowID)
	assert.EqualValues(t, 0, got.StartNs)
	assert.EqualValues(t, 100, got.EndNs)
	assert.EqualValues(t, 50, got.FirstMarkNs)
	assert.EqualValues(t, 50, got.LastEventNs)
	assert.EqualValues(t, 1, got.TotalEvents)
	assert.EqualValues(t, 1, got.MarkedEvents)
	assert.True(t, got.MarkSeen)
	assert.Equal(t, "trigger_func", got.Symbol)

	p, d := m.Stats()
	assert.EqualValues(t, 1, p)
	assert.EqualValues(t, 0, d)
}

func TestManagerAssignsMonotoneWindowIDs(t *testing.T) {
	m := NewManager(nil, nil, nil)
	a := m.NextWindowID()
	b := m.NextWindowID()
	c := m.NextWindowID()
	assert.Less(t, a, b)
	assert.Less(t, b, c)
}

func TestManagerDiscardsWhenConditionsUnmet(t *testing.T) {
	m := NewManager(nil, nil, nil)
	w := NewWindow(m.NextWindowID(), 1, 0, true)

	persisted, carryMarked := m.RingFilled(w, 100)
	assert.False(t, persisted)
	assert.False(t, carryMarked)
	assert.False(t, w.Marked())
	assert.False(t, w.MarkSeen())

	p, d := m.Stats()
	assert.EqualValues(t, 0, p)
	assert.EqualValues(t, 1, d)
}

type fakeSink struct {
	written []WindowMetaView
}

func (f *fakeSink) WriteWindowMetadata(w WindowMetaView) error {
	f.written = append(f.written, w)
	return nil
}

// Package laneset pairs a thread's index lane and detail lane so the
// capture API always writes structured markers and variable-length
// payloads to the right place.
package laneset

import "github.com/adatrace/tracer/internal/lane"

// Config sizes the two lanes a thread owns.
type Config struct {
	IndexRings     int
	IndexRingBytes uint32

	DetailRings     int
	DetailRingBytes uint32
}

// ThreadLaneSet is the per-thread pair of lanes: fixed-size index
// records (function entry/exit markers) and variable-length detail
// records (arguments, return values, messages).
type ThreadLaneSet struct {
	threadID uint64
	index    *lane.Lane
	detail   *lane.Lane
}

// New creates a lane set for the given OS thread id.
func New(threadID uint64, cfg Config) *ThreadLaneSet {
	return &ThreadLaneSet{
		threadID: threadID,
		index:    lane.New(cfg.IndexRings, cfg.IndexRingBytes),
		detail:   lane.New(cfg.DetailRings, cfg.DetailRingBytes),
	}
}

// ThreadID returns the OS thread id this lane set belongs to.
func (s *ThreadLaneSet) ThreadID() uint64 {
	return s.threadID
}

// IndexLane returns the fixed-size-record lane.
func (s *ThreadLaneSet) IndexLane() *lane.Lane {
	return s.index
}

// DetailLane returns the variable-length-record lane.
func (s *ThreadLaneSet) DetailLane() *lane.Lane {
	return s.detail
}

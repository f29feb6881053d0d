// Package writer persists drained frames to a length-prefixed events
// file plus JSONL manifest and window-metadata sidecar files.
package writer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-utilpkg/jsonenc"

	"github.com/adatrace/tracer/internal/constants"
)

// ErrPayloadTooLarge is returned by WriteFrame when a frame exceeds
// MaxFrameBytes.
var ErrPayloadTooLarge = errors.New("writer: frame exceeds max payload size")

// Config controls where and how a Writer persists events.
type Config struct {
	OutputDir     string
	PID           int
	EnableManifest bool
	MaxFrameBytes int // 0 disables the size check
}

// Observer receives write-path outcomes, satisfied structurally by
// adatrace.MetricsObserver/NoOpObserver.
type Observer interface {
	ObserveWrite(bytes uint64, success bool)
}

type noopObserver struct{}

func (noopObserver) ObserveWrite(uint64, bool) {}

// WindowMeta describes one selective-persistence window handed to the
// writer for the window_metadata.jsonl sidecar. The first eight
// fields match spec.md §6's documented key list exactly: window_id,
// start_ns, end_ns, first_mark_ns, last_event_ns, total_events,
// marked_events, mark_seen. Symbol is an informational extra, not
// part of the documented set.
type WindowMeta struct {
	WindowID     uint64
	StartNs      int64
	EndNs        int64
	FirstMarkNs  int64
	LastEventNs  int64
	TotalEvents  uint64
	MarkedEvents uint64
	MarkSeen     bool
	Symbol       string
}

// Writer appends framed events to events.atf and, optionally, JSONL
// lines to manifest.jsonl and window_metadata.jsonl in the same
// directory.
type Writer struct {
	mu sync.Mutex

	eventsFile   *os.File
	manifestFile *os.File
	windowFile   *os.File

	cfg      Config
	observer Observer

	eventCount   atomic.Uint64
	bytesWritten atomic.Uint64
	writeErrors  atomic.Uint64
	finalized    atomic.Bool
	closed       atomic.Bool
}

// New opens (creating as needed) events.atf and, if cfg.EnableManifest,
// manifest.jsonl and window_metadata.jsonl under cfg.OutputDir.
func New(cfg Config, observer Observer) (*Writer, error) {
	if observer == nil {
		observer = noopObserver{}
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("writer: mkdir %q: %w", cfg.OutputDir, err)
	}

	eventsFile, err := os.OpenFile(filepath.Join(cfg.OutputDir, "events.atf"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("writer: open events.atf: %w", err)
	}

	if err := writeATFHeaderIfEmpty(eventsFile); err != nil {
		eventsFile.Close()
		return nil, fmt.Errorf("writer: write events.atf header: %w", err)
	}

	w := &Writer{eventsFile: eventsFile, cfg: cfg, observer: observer}

	if cfg.EnableManifest {
		w.manifestFile, err = os.OpenFile(filepath.Join(cfg.OutputDir, "manifest.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			eventsFile.Close()
			return nil, fmt.Errorf("writer: open manifest.jsonl: %w", err)
		}
		w.windowFile, err = os.OpenFile(filepath.Join(cfg.OutputDir, "window_metadata.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			eventsFile.Close()
			w.manifestFile.Close()
			return nil, fmt.Errorf("writer: open window_metadata.jsonl: %w", err)
		}
	}

	return w, nil
}

// writeATFHeaderIfEmpty writes the magic+version header spec.md §6
// requires at the start of events.atf, but only the first time the
// file is created: a reopen of an existing, non-empty file must not
// duplicate the header ahead of already-written frames.
func writeATFHeaderIfEmpty(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() != 0 {
		return nil
	}
	header := make([]byte, 0, len(constants.ATFMagic)+4)
	header = append(header, constants.ATFMagic...)
	header = binary.LittleEndian.AppendUint32(header, constants.ATFVersion)
	_, err = f.Write(header)
	return err
}

// WriteFrame implements drain.Sink: appends a length-prefixed record
// to events.atf. slotID is accepted for interface compatibility but
// not itself persisted; per-thread provenance lives in the index
// record payload the capture path already encoded.
func (w *Writer) WriteFrame(slotID string, frame []byte) error {
	if w.cfg.MaxFrameBytes > 0 && len(frame) > w.cfg.MaxFrameBytes {
		w.writeErrors.Add(1)
		w.observer.ObserveWrite(0, false)
		return fmt.Errorf("%w: slot %s, %d bytes", ErrPayloadTooLarge, slotID, len(frame))
	}

	buf := getBuffer(4 + len(frame))
	defer putBuffer(buf)
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(frame)))
	copy(buf[4:], frame)

	w.mu.Lock()
	_, err := w.eventsFile.Write(buf)
	w.mu.Unlock()

	if err != nil {
		w.writeErrors.Add(1)
		w.observer.ObserveWrite(0, false)
		return fmt.Errorf("writer: append events.atf: %w", err)
	}

	w.eventCount.Add(1)
	w.bytesWritten.Add(uint64(len(buf)))
	w.observer.ObserveWrite(uint64(len(buf)), true)
	return nil
}

// WriteWindowMetadata appends one JSON line describing a closed
// selective-persistence window. A no-op if manifest output is
// disabled.
func (w *Writer) WriteWindowMetadata(m WindowMeta) error {
	if w.windowFile == nil {
		return nil
	}
	line := appendWindowMetaJSON(nil, m)
	line = append(line, '\n')

	w.mu.Lock()
	_, err := w.windowFile.Write(line)
	w.mu.Unlock()
	if err != nil {
		return fmt.Errorf("writer: append window_metadata.jsonl: %w", err)
	}
	return nil
}

// appendWindowMetaJSON emits exactly the key set spec.md §6 documents
// for window_metadata.jsonl, in the order the spec lists them.
func appendWindowMetaJSON(dst []byte, m WindowMeta) []byte {
	dst = append(dst, '{')
	dst = append(dst, `"window_id":`...)
	dst = appendUint(dst, m.WindowID)
	dst = append(dst, `,"start_ns":`...)
	dst = appendInt(dst, m.StartNs)
	dst = append(dst, `,"end_ns":`...)
	dst = appendInt(dst, m.EndNs)
	dst = append(dst, `,"first_mark_ns":`...)
	dst = appendInt(dst, m.FirstMarkNs)
	dst = append(dst, `,"last_event_ns":`...)
	dst = appendInt(dst, m.LastEventNs)
	dst = append(dst, `,"total_events":`...)
	dst = appendUint(dst, m.TotalEvents)
	dst = append(dst, `,"marked_events":`...)
	dst = appendUint(dst, m.MarkedEvents)
	dst = append(dst, `,"mark_seen":`...)
	dst = appendBool(dst, m.MarkSeen)
	if m.Symbol != "" {
		dst = append(dst, `,"symbol":`...)
		dst = jsonenc.AppendString(dst, m.Symbol)
	}
	dst = append(dst, '}')
	return dst
}

// Flush appends a manifest line summarizing cumulative counters. The
// manifest is a running log, not a single trailing summary, so a
// reader tailing the output directory mid-capture sees progress.
func (w *Writer) Flush() error {
	if w.manifestFile == nil {
		return nil
	}
	line := make([]byte, 0, 128)
	line = append(line, '{')
	line = append(line, `"pid":`...)
	line = appendInt(line, int64(w.cfg.PID))
	line = append(line, `,"event_count":`...)
	line = appendUint(line, w.eventCount.Load())
	line = append(line, `,"bytes_written":`...)
	line = appendUint(line, w.bytesWritten.Load())
	line = append(line, `,"write_errors":`...)
	line = appendUint(line, w.writeErrors.Load())
	line = append(line, '}', '\n')

	w.mu.Lock()
	_, err := w.manifestFile.Write(line)
	w.mu.Unlock()
	if err != nil {
		return fmt.Errorf("writer: append manifest.jsonl: %w", err)
	}
	return w.eventsFile.Sync()
}

// Finalize fsyncs events.atf and, if enabled, the manifest and window
// metadata files, then marks the writer finalized. Idempotent: a
// second call is a no-op that returns nil.
func (w *Writer) Finalize() error {
	if !w.finalized.CompareAndSwap(false, true) {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.eventsFile.Sync(); err != nil {
		return fmt.Errorf("writer: fsync events.atf: %w", err)
	}
	if w.manifestFile != nil {
		if err := w.manifestFile.Sync(); err != nil {
			return fmt.Errorf("writer: fsync manifest.jsonl: %w", err)
		}
	}
	if w.windowFile != nil {
		if err := w.windowFile.Sync(); err != nil {
			return fmt.Errorf("writer: fsync window_metadata.jsonl: %w", err)
		}
	}
	return nil
}

// Close finalizes and releases the underlying file descriptors.
// Idempotent: a second call is a no-op that returns nil.
func (w *Writer) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := w.Finalize()

	w.mu.Lock()
	defer w.mu.Unlock()
	if cErr := w.eventsFile.Close(); cErr != nil && err == nil {
		err = cErr
	}
	if w.manifestFile != nil {
		if cErr := w.manifestFile.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}
	if w.windowFile != nil {
		if cErr := w.windowFile.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}
	return err
}

// EventCount returns the cumulative number of frames appended.
func (w *Writer) EventCount() uint64 { return w.eventCount.Load() }

// BytesWritten returns the cumulative number of bytes appended to
// events.atf, including frame headers.
func (w *Writer) BytesWritten() uint64 { return w.bytesWritten.Load() }

// WriteErrors returns the cumulative number of rejected or failed
// frame writes.
func (w *Writer) WriteErrors() uint64 { return w.writeErrors.Load() }

// appendUint/appendInt use strconv rather than jsonenc: jsonenc only
// covers strings and floats, and floats lose precision past 2^53 for
// the nanosecond timestamps and counters these sidecar files carry.
// jsonenc.AppendString still covers the one string field window
// metadata lines carry, the optional symbol name.
func appendUint(dst []byte, v uint64) []byte {
	return strconv.AppendUint(dst, v, 10)
}

func appendInt(dst []byte, v int64) []byte {
	return strconv.AppendInt(dst, v, 10)
}

func appendBool(dst []byte, v bool) []byte {
	if v {
		return append(dst, "true"...)
	}
	return append(dst, "false"...)
}

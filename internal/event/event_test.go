package event

import (
	"bytes"
	"testing"
)

func TestIndexRoundTrip(t *testing.T) {
	ev := IndexEvent{TimestampNs: 123456789, ThreadID: 42, FunctionID: 7, Kind: KindCall, CallDepth: 3}
	buf := EncodeIndex(ev)

	got, rest, ok := DecodeIndex(buf)
	if !ok {
		t.Fatalf("DecodeIndex failed")
	}
	if got != ev {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, ev)
	}
	if len(rest) != 0 {
		t.Errorf("expected no trailing bytes, got %d", len(rest))
	}
}

func TestDecodeIndexShortBuffer(t *testing.T) {
	if _, _, ok := DecodeIndex([]byte{1, 2, 3}); ok {
		t.Error("expected DecodeIndex to fail on short buffer")
	}
}

func TestDetailRoundTrip(t *testing.T) {
	ev := DetailEvent{
		IndexEvent: IndexEvent{TimestampNs: 1, ThreadID: 2, FunctionID: 3, Kind: KindReturn, CallDepth: 1},
		Registers:  []uint64{0xdead, 0xbeef, 0},
		LinkPtr:    0x1000,
		FramePtr:   0x2000,
		StackPtr:   0x3000,
		Stack:      []byte("some stack bytes here"),
	}
	buf := EncodeDetail(ev, 0)

	got, ok := DecodeDetail(buf)
	if !ok {
		t.Fatalf("DecodeDetail failed")
	}
	if got.IndexEvent != ev.IndexEvent {
		t.Errorf("index header mismatch: got %+v, want %+v", got.IndexEvent, ev.IndexEvent)
	}
	if len(got.Registers) != len(ev.Registers) {
		t.Fatalf("register count mismatch: got %d, want %d", len(got.Registers), len(ev.Registers))
	}
	for i := range ev.Registers {
		if got.Registers[i] != ev.Registers[i] {
			t.Errorf("register %d mismatch: got %x, want %x", i, got.Registers[i], ev.Registers[i])
		}
	}
	if got.LinkPtr != ev.LinkPtr || got.FramePtr != ev.FramePtr || got.StackPtr != ev.StackPtr {
		t.Errorf("pointer mismatch: got %+v", got)
	}
	if !bytes.Equal(got.Stack, ev.Stack) {
		t.Errorf("stack mismatch: got %q, want %q", got.Stack, ev.Stack)
	}
}

func TestDetailStackTruncation(t *testing.T) {
	ev := DetailEvent{Stack: bytes.Repeat([]byte{0xab}, 100)}
	buf := EncodeDetail(ev, 16)

	got, ok := DecodeDetail(buf)
	if !ok {
		t.Fatalf("DecodeDetail failed")
	}
	if len(got.Stack) != 16 {
		t.Errorf("expected stack truncated to 16 bytes, got %d", len(got.Stack))
	}
}

func TestSignalDeliveryRoundTrip(t *testing.T) {
	sd := SignalDelivery{
		IndexEvent:   IndexEvent{TimestampNs: 99, ThreadID: 1, FunctionID: 0},
		SignalNumber: 11,
		SignalName:   "SIGSEGV",
		Registers:    []uint64{1, 2, 3, 4},
	}
	buf := EncodeSignalDelivery(sd)

	got, ok := DecodeSignalDelivery(buf)
	if !ok {
		t.Fatalf("DecodeSignalDelivery failed")
	}
	if got.Kind != KindSignalDelivery {
		t.Errorf("expected Kind forced to KindSignalDelivery, got %v", got.Kind)
	}
	if got.SignalNumber != sd.SignalNumber || got.SignalName != sd.SignalName {
		t.Errorf("signal fields mismatch: got %+v", got)
	}
	if len(got.Registers) != len(sd.Registers) {
		t.Fatalf("register count mismatch")
	}
	for i := range sd.Registers {
		if got.Registers[i] != sd.Registers[i] {
			t.Errorf("register %d mismatch: got %d, want %d", i, got.Registers[i], sd.Registers[i])
		}
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindCall:           "CALL",
		KindReturn:         "RETURN",
		KindSignal:         "SIGNAL",
		KindSignalDelivery: "SIGNAL_DELIVERY",
		Kind(99):           "UNKNOWN",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}

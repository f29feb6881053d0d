// Package event encodes and decodes the capture path's two on-wire
// record shapes (IndexEvent, DetailEvent) plus the SIGNAL_DELIVERY
// variant, as framed bytes ready for a Lane/Ring write or a Writer
// append. Encoding lives outside internal/capture because the wire
// shape is a property of the persisted trace format, not of the
// hot-path dispatch logic that picks which ring an event lands in.
package event

import "encoding/binary"

// Kind distinguishes the record variants spec.md's EventRecord names.
type Kind uint8

const (
	KindCall Kind = iota
	KindReturn
	KindSignal
	KindSignalDelivery
)

func (k Kind) String() string {
	switch k {
	case KindCall:
		return "CALL"
	case KindReturn:
		return "RETURN"
	case KindSignal:
		return "SIGNAL"
	case KindSignalDelivery:
		return "SIGNAL_DELIVERY"
	default:
		return "UNKNOWN"
	}
}

// headerSize is the encoded size of the shared index header: kind(1)
// + timestamp_ns(8) + thread_id(8) + function_id(8) + call_depth(1).
const headerSize = 1 + 8 + 8 + 8 + 1

// IndexEvent is the compact record written to a lane's index ring.
type IndexEvent struct {
	TimestampNs uint64
	ThreadID    uint64
	FunctionID  uint64
	Kind        Kind
	CallDepth   uint8
}

// EncodeIndex appends ev's header fields to a fresh buffer in the
// wire order spec.md §6 documents.
func EncodeIndex(ev IndexEvent) []byte {
	buf := make([]byte, headerSize)
	putIndex(buf, ev)
	return buf
}

func putIndex(buf []byte, ev IndexEvent) {
	buf[0] = byte(ev.Kind)
	binary.LittleEndian.PutUint64(buf[1:9], ev.TimestampNs)
	binary.LittleEndian.PutUint64(buf[9:17], ev.ThreadID)
	binary.LittleEndian.PutUint64(buf[17:25], ev.FunctionID)
	buf[25] = ev.CallDepth
}

// DecodeIndex reads an IndexEvent header from the front of b,
// returning the remaining bytes (the kind-specific payload, if any)
// and whether b was long enough to contain a full header.
func DecodeIndex(b []byte) (ev IndexEvent, rest []byte, ok bool) {
	if len(b) < headerSize {
		return IndexEvent{}, nil, false
	}
	ev = IndexEvent{
		Kind:        Kind(b[0]),
		TimestampNs: binary.LittleEndian.Uint64(b[1:9]),
		ThreadID:    binary.LittleEndian.Uint64(b[9:17]),
		FunctionID:  binary.LittleEndian.Uint64(b[17:25]),
		CallDepth:   b[25],
	}
	return ev, b[headerSize:], true
}

// DetailEvent extends IndexEvent with a register file, the three
// documented pointers, and a bounded stack snapshot.
type DetailEvent struct {
	IndexEvent
	Registers                  []uint64
	LinkPtr, FramePtr, StackPtr uint64
	Stack                      []byte
}

// EncodeDetail serializes ev, truncating Stack to maxStackBytes (the
// SelectivePersistence-adjacent --stack-bytes policy cap) when
// maxStackBytes is positive.
func EncodeDetail(ev DetailEvent, maxStackBytes int) []byte {
	stack := ev.Stack
	if maxStackBytes > 0 && len(stack) > maxStackBytes {
		stack = stack[:maxStackBytes]
	}

	size := headerSize + 2 + len(ev.Registers)*8 + 24 + 4 + len(stack)
	buf := make([]byte, size)
	putIndex(buf, ev.IndexEvent)
	off := headerSize

	binary.LittleEndian.PutUint16(buf[off:off+2], uint16(len(ev.Registers)))
	off += 2
	for _, r := range ev.Registers {
		binary.LittleEndian.PutUint64(buf[off:off+8], r)
		off += 8
	}

	binary.LittleEndian.PutUint64(buf[off:off+8], ev.LinkPtr)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], ev.FramePtr)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], ev.StackPtr)
	off += 8

	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(stack)))
	off += 4
	copy(buf[off:], stack)

	return buf
}

// DecodeDetail reverses EncodeDetail.
func DecodeDetail(b []byte) (DetailEvent, bool) {
	idx, rest, ok := DecodeIndex(b)
	if !ok || len(rest) < 2 {
		return DetailEvent{}, false
	}
	n := int(binary.LittleEndian.Uint16(rest[:2]))
	rest = rest[2:]
	if len(rest) < n*8 {
		return DetailEvent{}, false
	}
	regs := make([]uint64, n)
	for i := range regs {
		regs[i] = binary.LittleEndian.Uint64(rest[i*8 : i*8+8])
	}
	rest = rest[n*8:]

	if len(rest) < 24 {
		return DetailEvent{}, false
	}
	link := binary.LittleEndian.Uint64(rest[0:8])
	frame := binary.LittleEndian.Uint64(rest[8:16])
	stackPtr := binary.LittleEndian.Uint64(rest[16:24])
	rest = rest[24:]

	if len(rest) < 4 {
		return DetailEvent{}, false
	}
	slen := int(binary.LittleEndian.Uint32(rest[:4]))
	rest = rest[4:]
	if len(rest) < slen {
		return DetailEvent{}, false
	}
	stack := append([]byte(nil), rest[:slen]...)

	return DetailEvent{
		IndexEvent: idx,
		Registers:  regs,
		LinkPtr:    link,
		FramePtr:   frame,
		StackPtr:   stackPtr,
		Stack:      stack,
	}, true
}

// SignalDelivery carries the signal number, name, and register
// snapshot spec.md's third EventRecord kind describes. It is encoded
// on the detail lane alongside ordinary DetailEvents; Kind is always
// forced to KindSignalDelivery.
type SignalDelivery struct {
	IndexEvent
	SignalNumber int32
	SignalName   string
	Registers    []uint64
}

// EncodeSignalDelivery serializes sd.
func EncodeSignalDelivery(sd SignalDelivery) []byte {
	sd.IndexEvent.Kind = KindSignalDelivery
	name := []byte(sd.SignalName)

	size := headerSize + 4 + 2 + len(name) + 2 + len(sd.Registers)*8
	buf := make([]byte, size)
	putIndex(buf, sd.IndexEvent)
	off := headerSize

	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(sd.SignalNumber))
	off += 4

	binary.LittleEndian.PutUint16(buf[off:off+2], uint16(len(name)))
	off += 2
	copy(buf[off:], name)
	off += len(name)

	binary.LittleEndian.PutUint16(buf[off:off+2], uint16(len(sd.Registers)))
	off += 2
	for _, r := range sd.Registers {
		binary.LittleEndian.PutUint64(buf[off:off+8], r)
		off += 8
	}

	return buf
}

// DecodeSignalDelivery reverses EncodeSignalDelivery.
func DecodeSignalDelivery(b []byte) (SignalDelivery, bool) {
	idx, rest, ok := DecodeIndex(b)
	if !ok || len(rest) < 4 {
		return SignalDelivery{}, false
	}
	signum := int32(binary.LittleEndian.Uint32(rest[:4]))
	rest = rest[4:]

	if len(rest) < 2 {
		return SignalDelivery{}, false
	}
	nameLen := int(binary.LittleEndian.Uint16(rest[:2]))
	rest = rest[2:]
	if len(rest) < nameLen {
		return SignalDelivery{}, false
	}
	name := string(rest[:nameLen])
	rest = rest[nameLen:]

	if len(rest) < 2 {
		return SignalDelivery{}, false
	}
	n := int(binary.LittleEndian.Uint16(rest[:2]))
	rest = rest[2:]
	if len(rest) < n*8 {
		return SignalDelivery{}, false
	}
	regs := make([]uint64, n)
	for i := range regs {
		regs[i] = binary.LittleEndian.Uint64(rest[i*8 : i*8+8])
	}

	return SignalDelivery{IndexEvent: idx, SignalNumber: signum, SignalName: name, Registers: regs}, true
}

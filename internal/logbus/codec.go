package logbus

import (
	"encoding/binary"
	"fmt"

	"github.com/salewski/replicamap/internal/kmodel"
)

// EncodeOp serializes an OpMessage into a Kafka record value. The format is a
// fixed header (opType, clientID, opID, the two flush offsets) followed by
// three length-prefixed byte strings (expectedValue, updatedValue,
// function). Absent byte strings are encoded with length -1 so that "empty"
// and "absent" remain distinguishable on the wire, matching the spec's
// treatment of nil value fields as meaningful (e.g. a data-topic tombstone).
func EncodeOp(m kmodel.OpMessage) []byte {
	buf := make([]byte, 1+8+8+8+8, 64)
	buf[0] = byte(m.OpType)
	binary.BigEndian.PutUint64(buf[1:9], m.ClientID)
	binary.BigEndian.PutUint64(buf[9:17], m.OpID)
	binary.BigEndian.PutUint64(buf[17:25], uint64(m.FlushOffsetOps))
	binary.BigEndian.PutUint64(buf[25:33], uint64(m.FlushOffsetData))

	buf = appendLenPrefixed(buf, m.ExpectedValue)
	buf = appendLenPrefixed(buf, m.UpdatedValue)
	buf = appendLenPrefixed(buf, m.Function)
	return buf
}

func appendLenPrefixed(buf, b []byte) []byte {
	var lenBuf [4]byte
	if b == nil {
		binary.BigEndian.PutUint32(lenBuf[:], 0xFFFFFFFF) // -1 as uint32
		return append(buf, lenBuf[:]...)
	}
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, b...)
}

// DecodeOp is the inverse of EncodeOp. An opType byte not matching a known
// constant decodes successfully into kmodel.OpUnknown rather than erroring,
// so that a record produced by a newer client version does not break an
// older reader (spec.md §7, UnknownOpType).
func DecodeOp(b []byte) (kmodel.OpMessage, error) {
	const headerLen = 1 + 8 + 8 + 8 + 8
	if len(b) < headerLen {
		return kmodel.OpMessage{}, fmt.Errorf("logbus: op record too short: %d bytes", len(b))
	}

	m := kmodel.OpMessage{
		OpType:          decodeOpType(b[0]),
		ClientID:        binary.BigEndian.Uint64(b[1:9]),
		OpID:            binary.BigEndian.Uint64(b[9:17]),
		FlushOffsetOps:  int64(binary.BigEndian.Uint64(b[17:25])),
		FlushOffsetData: int64(binary.BigEndian.Uint64(b[25:33])),
	}

	rest := b[headerLen:]
	var err error
	if m.ExpectedValue, rest, err = readLenPrefixed(rest); err != nil {
		return kmodel.OpMessage{}, fmt.Errorf("logbus: decode expectedValue: %w", err)
	}
	if m.UpdatedValue, rest, err = readLenPrefixed(rest); err != nil {
		return kmodel.OpMessage{}, fmt.Errorf("logbus: decode updatedValue: %w", err)
	}
	if m.Function, _, err = readLenPrefixed(rest); err != nil {
		return kmodel.OpMessage{}, fmt.Errorf("logbus: decode function: %w", err)
	}
	return m, nil
}

func decodeOpType(b byte) kmodel.OpType {
	switch kmodel.OpType(b) {
	case kmodel.OpPut, kmodel.OpRemoveAny, kmodel.OpFlushNotification, kmodel.OpFlushRequest:
		return kmodel.OpType(b)
	default:
		return kmodel.OpUnknown
	}
}

func readLenPrefixed(b []byte) (val, rest []byte, err error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("truncated length prefix")
	}
	n := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	if n == 0xFFFFFFFF {
		return nil, b, nil
	}
	if uint32(len(b)) < n {
		return nil, nil, fmt.Errorf("truncated payload: want %d have %d", n, len(b))
	}
	return b[:n], b[n:], nil
}

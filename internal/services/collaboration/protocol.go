package collaboration

import (
	"encoding/binary"
	"fmt"

	"doc-collab/internal/models"
)

/*
LEARNING: THE YJS WEBSOCKET FRAMING

Every websocket frame is a lib0-encoded message:

  varuint messageType
  messageType 0 (sync):      varuint syncStep, varbytes payload
  messageType 1 (awareness): varbytes awarenessUpdate
  messageType 2 (auth):      varuint reason, varstring message
  messageType 3 (query awareness): empty

An awareness update is:

  varuint count
  count × { varuint clientID, varuint clock, varstring jsonState }

A jsonState of "null" means the client went away. lib0 varuints are unsigned
LEB128, which is exactly what encoding/binary's Uvarint speaks.
*/

const (
	syncStep1  uint64 = 0
	syncStep2  uint64 = 1
	syncUpdate uint64 = 2
)

// emptyStateVector asks the peer for its full document state
var emptyStateVector = []byte{0}

// emptyUpdate is a v1 update with no structs and an empty delete set
var emptyUpdate = []byte{0, 0}

// awarenessEntry is one client's entry in an awareness update
type awarenessEntry struct {
	ClientID uint64
	Clock    uint64
	State    string
}

type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) uvarint() (uint64, error) {
	v, n := binary.Uvarint(d.buf[d.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("%w: bad varuint at offset %d", ErrMalformedFrame, d.pos)
	}
	d.pos += n
	return v, nil
}

func (d *decoder) bytes() ([]byte, error) {
	n, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	if uint64(len(d.buf)-d.pos) < n {
		return nil, fmt.Errorf("%w: length %d exceeds frame", ErrMalformedFrame, n)
	}
	b := d.buf[d.pos : d.pos+int(n)]
	d.pos += int(n)
	return b, nil
}

func appendBytes(dst, b []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(b)))
	return append(dst, b...)
}

// frame is a decoded top-level message
type frame struct {
	Type     models.MessageType
	SyncStep uint64
	Payload  []byte
}

func decodeFrame(data []byte) (frame, error) {
	d := &decoder{buf: data}

	t, err := d.uvarint()
	if err != nil {
		return frame{}, err
	}
	f := frame{Type: models.MessageType(t)}

	switch f.Type {
	case models.MessageTypeSync:
		if f.SyncStep, err = d.uvarint(); err != nil {
			return frame{}, err
		}
		if f.Payload, err = d.bytes(); err != nil {
			return frame{}, err
		}
	case models.MessageTypeAwareness:
		if f.Payload, err = d.bytes(); err != nil {
			return frame{}, err
		}
	default:
		f.Payload = data[d.pos:]
	}

	return f, nil
}

func encodeSync(step uint64, payload []byte) []byte {
	out := binary.AppendUvarint(nil, uint64(models.MessageTypeSync))
	out = binary.AppendUvarint(out, step)
	return appendBytes(out, payload)
}

func encodeAwareness(update []byte) []byte {
	out := binary.AppendUvarint(nil, uint64(models.MessageTypeAwareness))
	return appendBytes(out, update)
}

func decodeAwarenessUpdate(update []byte) ([]awarenessEntry, error) {
	d := &decoder{buf: update}

	count, err := d.uvarint()
	if err != nil {
		return nil, err
	}

	// Each entry takes at least three bytes; guard against absurd counts
	if count > uint64(len(update)) {
		return nil, fmt.Errorf("%w: %d entries in %d bytes", ErrMalformedFrame, count, len(update))
	}

	entries := make([]awarenessEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		var e awarenessEntry
		if e.ClientID, err = d.uvarint(); err != nil {
			return nil, err
		}
		if e.Clock, err = d.uvarint(); err != nil {
			return nil, err
		}
		state, err := d.bytes()
		if err != nil {
			return nil, err
		}
		e.State = string(state)
		entries = append(entries, e)
	}

	return entries, nil
}

func encodeAwarenessUpdate(entries []awarenessEntry) []byte {
	out := binary.AppendUvarint(nil, uint64(len(entries)))
	for _, e := range entries {
		out = binary.AppendUvarint(out, e.ClientID)
		out = binary.AppendUvarint(out, e.Clock)
		out = appendBytes(out, []byte(e.State))
	}
	return out
}

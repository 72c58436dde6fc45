package broadcast

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
)

// ErrNotObject is returned when a broadcast payload is not a JSON object.
var ErrNotObject = errors.New("broadcast payload is not a JSON object")

// roomSlack is the scratch capacity reserved beyond the payload for the
// injected room field. Rooms that cannot use the fast path fall back to
// restamp; nothing is ever truncated.
const roomSlack = 64

const roomOverhead = len(`,"room":""`)

// Publisher delivers one framed message to a channel's subscribers. Publishes
// may complete asynchronously; the frame passed in is never reused.
type Publisher interface {
	Publish(channel string, frame []byte) error
}

// Broadcaster fans one serialized payload out to many channels.
//
// The payload is serialized exactly once by the caller; per-channel frames
// differ only in the injected "room" field, spliced in front of the closing
// brace on a reusable scratch buffer and defensively copied before handoff.
type Broadcaster struct {
	pub    Publisher
	logger *slog.Logger
}

// New creates a Broadcaster publishing through pub.
func New(pub Publisher, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{pub: pub, logger: logger}
}

// Broadcast stamps payload for each channel and publishes the frames.
// A failed publish on one channel does not stop the rest.
func (b *Broadcaster) Broadcast(payload []byte, channels []string) error {
	frames, err := Frames(payload, channels)
	if err != nil {
		return err
	}
	for i, frame := range frames {
		if err := b.pub.Publish(channels[i], frame); err != nil {
			b.logger.Warn("publish failed", "channel", channels[i], "error", err)
		}
	}
	return nil
}

// Frames returns one stamped frame per channel, in channel order. Each frame
// is independently owned: handing one off never invalidates another.
func Frames(payload []byte, channels []string) ([][]byte, error) {
	if len(channels) == 0 {
		return nil, nil
	}
	base := bytes.TrimSpace(payload)
	if len(base) < 2 || base[0] != '{' || base[len(base)-1] != '}' {
		return nil, ErrNotObject
	}

	frames := make([][]byte, 0, len(channels))
	scratch := make([]byte, 0, len(base)+roomSlack)
	for _, ch := range channels {
		stamped, ok := stampRoom(scratch[:0], base, ch)
		if !ok {
			frame, err := restamp(base, ch)
			if err != nil {
				return nil, err
			}
			frames = append(frames, frame)
			continue
		}
		// The scratch is rewritten for the next channel, and publishes
		// may still hold the frame then. Copy before handoff.
		frame := make([]byte, len(stamped))
		copy(frame, stamped)
		frames = append(frames, frame)
	}
	return frames, nil
}

// stampRoom splices the room field into dst using the fast path: rooms that
// need no JSON escaping and fit the reserved slack.
func stampRoom(dst, base []byte, room string) ([]byte, bool) {
	if len(room) > roomSlack-roomOverhead || !plainRoom(room) {
		return nil, false
	}
	dst = append(dst, base[:len(base)-1]...)
	if !emptyObject(base) {
		dst = append(dst, ',')
	}
	dst = append(dst, `"room":"`...)
	dst = append(dst, room...)
	dst = append(dst, '"', '}')
	return dst, true
}

// restamp builds the frame without the scratch buffer, JSON-encoding the
// room for names that need escaping or exceed the slack.
func restamp(base []byte, room string) ([]byte, error) {
	roomJSON, err := json.Marshal(room)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(base)+len(roomJSON)+len(`,"room":`))
	out = append(out, base[:len(base)-1]...)
	if !emptyObject(base) {
		out = append(out, ',')
	}
	out = append(out, `"room":`...)
	out = append(out, roomJSON...)
	out = append(out, '}')
	return out, nil
}

// plainRoom reports whether room serializes into JSON unchanged. Multi-byte
// UTF-8 passes; quotes, backslashes and control bytes do not.
func plainRoom(room string) bool {
	for i := 0; i < len(room); i++ {
		c := room[i]
		if c < 0x20 || c == '"' || c == '\\' {
			return false
		}
	}
	return true
}

// emptyObject reports whether base is "{}" up to interior whitespace, in
// which case the stamped field needs no leading comma.
func emptyObject(base []byte) bool {
	return len(bytes.TrimSpace(base[1:len(base)-1])) == 0
}

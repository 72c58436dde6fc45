package broadcast

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
)

type fakePublisher struct {
	mu       sync.Mutex
	channels []string
	frames   [][]byte
	failOn   string
}

func (f *fakePublisher) Publish(channel string, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if channel == f.failOn {
		return errors.New("publish refused")
	}
	f.channels = append(f.channels, channel)
	f.frames = append(f.frames, frame)
	return nil
}

func TestFramesStampRoom(t *testing.T) {
	payload := []byte(`{"event":"update","seq":7}`)
	frames, err := Frames(payload, []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("Frames failed: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}

	want0 := `{"event":"update","seq":7,"room":"alpha"}`
	want1 := `{"event":"update","seq":7,"room":"beta"}`
	if string(frames[0]) != want0 {
		t.Errorf("frame 0 = %s, want %s", frames[0], want0)
	}
	if string(frames[1]) != want1 {
		t.Errorf("frame 1 = %s, want %s", frames[1], want1)
	}
}

func TestFramesEmptyObject(t *testing.T) {
	frames, err := Frames([]byte(`{}`), []string{"solo"})
	if err != nil {
		t.Fatalf("Frames failed: %v", err)
	}
	if string(frames[0]) != `{"room":"solo"}` {
		t.Errorf("frame = %s, want %s", frames[0], `{"room":"solo"}`)
	}
}

func TestFramesIndependentAfterScratchReuse(t *testing.T) {
	payload := []byte(`{"n":1}`)
	channels := []string{"first", "second", "third"}
	frames, err := Frames(payload, channels)
	if err != nil {
		t.Fatalf("Frames failed: %v", err)
	}

	// Every frame must survive the later channels' scratch rewrites.
	for i, ch := range channels {
		var decoded struct {
			N    int    `json:"n"`
			Room string `json:"room"`
		}
		if err := json.Unmarshal(frames[i], &decoded); err != nil {
			t.Fatalf("frame %d is not valid JSON: %v", i, err)
		}
		if decoded.Room != ch {
			t.Errorf("frame %d room = %q, want %q", i, decoded.Room, ch)
		}
		if decoded.N != 1 {
			t.Errorf("frame %d n = %d, want 1", i, decoded.N)
		}
	}
}

func TestFramesEscapedRoom(t *testing.T) {
	room := `we"ird\room`
	frames, err := Frames([]byte(`{"a":1}`), []string{room})
	if err != nil {
		t.Fatalf("Frames failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(frames[0], &decoded); err != nil {
		t.Fatalf("escaped frame is not valid JSON: %v", err)
	}
	if decoded["room"] != room {
		t.Errorf("room = %q, want %q round-tripped", decoded["room"], room)
	}
}

func TestFramesLongRoomNeverTruncated(t *testing.T) {
	room := strings.Repeat("channel-", 64)
	frames, err := Frames([]byte(`{"a":1}`), []string{room})
	if err != nil {
		t.Fatalf("Frames failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(frames[0], &decoded); err != nil {
		t.Fatalf("long-room frame is not valid JSON: %v", err)
	}
	if decoded["room"] != room {
		t.Error("long room did not round-trip intact")
	}
}

func TestFramesWhitespacePayload(t *testing.T) {
	frames, err := Frames([]byte("  {\"a\": 1 }\n"), []string{"pad"})
	if err != nil {
		t.Fatalf("Frames failed: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(frames[0], &decoded); err != nil {
		t.Fatalf("frame is not valid JSON: %v", err)
	}
	if decoded["room"] != "pad" {
		t.Errorf("room = %v, want pad", decoded["room"])
	}
}

func TestFramesRejectsNonObject(t *testing.T) {
	for _, payload := range []string{`[1,2,3]`, `"text"`, `42`, ``} {
		if _, err := Frames([]byte(payload), []string{"ch"}); !errors.Is(err, ErrNotObject) {
			t.Errorf("Frames(%q) error = %v, want ErrNotObject", payload, err)
		}
	}
}

func TestFramesNoChannels(t *testing.T) {
	frames, err := Frames([]byte(`{"a":1}`), nil)
	if err != nil {
		t.Fatalf("Frames failed: %v", err)
	}
	if len(frames) != 0 {
		t.Errorf("frames = %d, want 0", len(frames))
	}
}

func TestBroadcastPublishesAllChannels(t *testing.T) {
	pub := &fakePublisher{}
	b := New(pub, nil)

	err := b.Broadcast([]byte(`{"k":"v"}`), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	if len(pub.channels) != 3 {
		t.Fatalf("published to %d channels, want 3", len(pub.channels))
	}
	for i, ch := range []string{"a", "b", "c"} {
		if pub.channels[i] != ch {
			t.Errorf("publish %d channel = %q, want %q", i, pub.channels[i], ch)
		}
	}
}

func TestBroadcastContinuesPastPublishFailure(t *testing.T) {
	pub := &fakePublisher{failOn: "b"}
	b := New(pub, nil)

	if err := b.Broadcast([]byte(`{"k":"v"}`), []string{"a", "b", "c"}); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	if len(pub.channels) != 2 {
		t.Fatalf("published to %d channels, want 2 (skipping the failed one)", len(pub.channels))
	}
	if pub.channels[0] != "a" || pub.channels[1] != "c" {
		t.Errorf("published channels = %v, want [a c]", pub.channels)
	}
}

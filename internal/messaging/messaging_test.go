package messaging

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
)

const embedOrigin = "https://navi.example.com"

func encode(t *testing.T, msg Message) []byte {
	t.Helper()
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestMessageFlattensPayload(t *testing.T) {
	raw := encode(t, New("embed-1", ActivityCompleted, map[string]any{"activity_id": "a-1"}))
	var flat map[string]any
	if err := json.Unmarshal(raw, &flat); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if flat["source"] != "navi" || flat["instance_id"] != "embed-1" || flat["type"] != "navi.activity.completed" || flat["activity_id"] != "a-1" {
		t.Fatalf("unexpected wire shape %v", flat)
	}

	var back Message
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, leaked := back.Payload["type"]; leaked {
		t.Fatal("envelope fields must not leak into payload")
	}
	if back.Payload["activity_id"] != "a-1" {
		t.Fatalf("unexpected payload %v", back.Payload)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
		want error
	}{
		{"ok", New("i", SessionReady, nil), nil},
		{"foreign source", Message{Source: "other", InstanceID: "i", Type: SessionReady}, ErrForeignSource},
		{"missing instance", New("", SessionReady, nil), ErrMissingInstance},
		{"unknown type", New("i", EventType("navi.unknown"), nil), ErrUnknownEventType},
		{"zero height", New("i", HeightChanged, map[string]any{"height": 0.0}), ErrInvalidHeight},
		{"height", New("i", HeightChanged, map[string]any{"height": 480.0}), nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.msg.Validate()
			if tc.want == nil && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestDispatcherRejectsWrongOriginAndSource(t *testing.T) {
	d := NewDispatcher(embedOrigin + "/")
	calls := 0
	d.Register("embed-1").On(SessionReady, func(Message) { calls++ })

	ready := encode(t, New("embed-1", SessionReady, nil))
	if err := d.Dispatch("https://navi.example.com.evil.io", ready); !errors.Is(err, ErrOriginMismatch) {
		t.Fatalf("expected origin mismatch, got %v", err)
	}
	if err := d.Dispatch("http://navi.example.com", ready); !errors.Is(err, ErrOriginMismatch) {
		t.Fatalf("expected scheme to matter, got %v", err)
	}
	foreign := encode(t, Message{Source: "spoof", InstanceID: "embed-1", Type: SessionReady})
	if err := d.Dispatch(embedOrigin, foreign); !errors.Is(err, ErrForeignSource) {
		t.Fatalf("expected foreign source, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("rejected messages must not reach handlers, got %d calls", calls)
	}
	if err := d.Dispatch(embedOrigin, ready); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}
}

func TestDispatcherIsolatesInstances(t *testing.T) {
	d := NewDispatcher(embedOrigin)
	var a, b []EventType
	d.Register("a").On(ActivityCompleted, func(m Message) { a = append(a, m.Type) })
	d.Register("b").On(ActivityCompleted, func(m Message) { b = append(b, m.Type) })

	if err := d.Dispatch(embedOrigin, encode(t, New("a", ActivityCompleted, nil))); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(a) != 1 || len(b) != 0 {
		t.Fatalf("expected delivery only to a, got a=%v b=%v", a, b)
	}
	if err := d.Dispatch(embedOrigin, encode(t, New("c", ActivityCompleted, nil))); !errors.Is(err, ErrUnknownInstance) {
		t.Fatalf("expected unknown instance, got %v", err)
	}
	d.Unregister("a")
	if err := d.Dispatch(embedOrigin, encode(t, New("a", ActivityCompleted, nil))); !errors.Is(err, ErrUnknownInstance) {
		t.Fatalf("expected unregistered instance to be unknown, got %v", err)
	}
}

func TestHeightIsLastWriteWins(t *testing.T) {
	d := NewDispatcher(embedOrigin)
	inst := d.Register("embed-1")
	for _, h := range []float64{300, 640, 640, 520} {
		if err := d.Dispatch(embedOrigin, encode(t, New("embed-1", HeightChanged, map[string]any{"height": h}))); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
	}
	if inst.Height() != 520 {
		t.Fatalf("expected last height 520, got %d", inst.Height())
	}
}

func TestDispatcherConcurrentDelivery(t *testing.T) {
	d := NewDispatcher(embedOrigin)
	inst := d.Register("embed-1")
	var mu sync.Mutex
	seen := 0
	inst.On(ActivityProgress, func(Message) {
		mu.Lock()
		seen++
		mu.Unlock()
	})
	raw := encode(t, New("embed-1", ActivityProgress, map[string]any{"progress": 0.5}))
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.Dispatch(embedOrigin, raw)
		}()
	}
	wg.Wait()
	if seen != 20 {
		t.Fatalf("expected 20 deliveries, got %d", seen)
	}
}

func TestLoaderScriptEnforcesProtocol(t *testing.T) {
	src := string(LoaderScript())
	for _, want := range []string{
		"event.origin !== embedOrigin",
		`msg.source !== "navi"`,
		"instances[msg.instance_id]",
		`inst.iframe.style.height = msg.height + "px"`,
		"/api/create-careflow-session",
	} {
		if !strings.Contains(src, want) {
			t.Fatalf("loader script missing %q", want)
		}
	}
}

func TestEventTypesAreValid(t *testing.T) {
	types := EventTypes()
	if len(types) != 12 {
		t.Fatalf("expected 12 event types, got %d", len(types))
	}
	for _, typ := range types {
		if !typ.Valid() || !strings.HasPrefix(string(typ), "navi.") {
			t.Fatalf("bad event type %q", typ)
		}
	}
}

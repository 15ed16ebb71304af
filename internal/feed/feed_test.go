package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"wattchbridge/internal/mqtt"
)

func TestMirrorPutPatch(t *testing.T) {
	var m mirror

	m.put("/", map[string]interface{}{
		"ESP1-a": map[string]interface{}{"power": 5.0},
	})
	m.patch("/", map[string]interface{}{
		"ESP2-b": map[string]interface{}{"power": 7.0},
	})
	m.put("/ESP1-a/power", 9.0)

	snap := snapshotFromTree(m.root, time.Time{})
	if len(snap.Devices) != 2 {
		t.Fatalf("Expected 2 devices, got %d", len(snap.Devices))
	}
	if snap.Devices["ESP1-a"].Power != 9 {
		t.Errorf("Expected ESP1-a power 9, got %v", snap.Devices["ESP1-a"].Power)
	}
	if snap.Devices["ESP2-b"].Power != 7 {
		t.Errorf("Expected ESP2-b power 7, got %v", snap.Devices["ESP2-b"].Power)
	}

	// Nested patch keys are paths relative to the event path
	m.patch("/ESP2-b", map[string]interface{}{"power": 1.5})
	if got := snapshotFromTree(m.root, time.Time{}).Devices["ESP2-b"].Power; got != 1.5 {
		t.Errorf("Expected ESP2-b power 1.5, got %v", got)
	}
}

func TestMirrorDelete(t *testing.T) {
	var m mirror
	m.put("/", map[string]interface{}{
		"ESP1-a": map[string]interface{}{"power": 5.0},
		"ESP2-b": map[string]interface{}{"power": 7.0},
	})

	m.put("/ESP1-a/power", nil)
	snap := snapshotFromTree(m.root, time.Time{})
	if _, ok := snap.Devices["ESP1-a"]; ok {
		t.Error("Expected ESP1-a removed once its only child is deleted")
	}

	m.put("/ESP2-b", nil)
	if m.root != nil {
		t.Errorf("Expected empty mirror, got %v", m.root)
	}
	if snap := snapshotFromTree(m.root, time.Time{}); snap.Devices != nil {
		t.Error("Expected nil devices for empty path")
	}
}

func TestSnapshotIDsSorted(t *testing.T) {
	snap := snapshotFromTree(map[string]interface{}{
		"ESP3": nil, "ESP1": nil, "ESP2": nil,
	}, time.Time{})
	ids := snap.IDs()
	want := []string{"ESP1", "ESP2", "ESP3"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, ids)
		}
	}
}

func writeEvent(w http.ResponseWriter, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func nextSnapshot(t *testing.T, out <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case snap := <-out:
		return snap
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for snapshot")
	}
	return Snapshot{}
}

func TestFirebaseSourceStream(t *testing.T) {
	var mu sync.Mutex
	var gotToken, gotAccept, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotToken = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotPath = r.URL.Path
		mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, "put", `{"path":"/","data":{"ESP1-a":{"power":5},"meta":1}}`)
		writeEvent(w, "keep-alive", "null")
		writeEvent(w, "patch", `{"path":"/","data":{"ESP2-b":{"power":7}}}`)
		writeEvent(w, "put", `{"path":"/ESP1-a/power","data":9}`)
		<-r.Context().Done()
	}))
	defer srv.Close()

	src := NewFirebaseSource(FirebaseConfig{
		DatabaseURL: srv.URL + "/",
		Path:        "/WATTch/",
		TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"}),
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan Snapshot)
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, out) }()

	first := nextSnapshot(t, out)
	if len(first.Devices) != 2 || first.Devices["ESP1-a"].Power != 5 {
		t.Errorf("Unexpected first snapshot: %+v", first.Devices)
	}

	second := nextSnapshot(t, out)
	if second.Devices["ESP2-b"].Power != 7 || second.Devices["ESP1-a"].Power != 5 {
		t.Errorf("Unexpected second snapshot: %+v", second.Devices)
	}

	third := nextSnapshot(t, out)
	if third.Devices["ESP1-a"].Power != 9 {
		t.Errorf("Expected ESP1-a power 9, got %+v", third.Devices)
	}
	if third.ReceivedAt.IsZero() {
		t.Error("Expected ReceivedAt to be set")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotToken != "Bearer tok" {
		t.Errorf("Expected Authorization 'Bearer tok', got '%s'", gotToken)
	}
	if gotAccept != "text/event-stream" {
		t.Errorf("Expected SSE accept header, got '%s'", gotAccept)
	}
	if gotPath != "/WATTch.json" {
		t.Errorf("Expected path '/WATTch.json', got '%s'", gotPath)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil error on cancel, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestFirebaseSourceEmptyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEvent(w, "put", `{"path":"/","data":null}`)
		<-r.Context().Done()
	}))
	defer srv.Close()

	src := NewFirebaseSource(FirebaseConfig{DatabaseURL: srv.URL, Path: "WATTch"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan Snapshot)
	go src.Run(ctx, out)

	snap := nextSnapshot(t, out)
	if snap.Devices != nil {
		t.Errorf("Expected nil devices, got %+v", snap.Devices)
	}
}

func TestFirebaseSourceReconnects(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			http.Error(w, "boom", http.StatusInternalServerError)
		case 2:
			writeEvent(w, "cancel", "permission denied")
		default:
			writeEvent(w, "put", `{"path":"/","data":{"ESP1-a":{"power":3}}}`)
			<-r.Context().Done()
		}
	}))
	defer srv.Close()

	errs := make(chan error, 10)
	src := NewFirebaseSource(FirebaseConfig{
		DatabaseURL: srv.URL,
		Path:        "WATTch",
		MinBackoff:  5 * time.Millisecond,
		MaxBackoff:  20 * time.Millisecond,
		OnError: func(err error) {
			select {
			case errs <- err:
			default:
			}
		},
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan Snapshot)
	go src.Run(ctx, out)

	snap := nextSnapshot(t, out)
	if snap.Devices["ESP1-a"].Power != 3 {
		t.Errorf("Expected power 3 after reconnect, got %+v", snap.Devices)
	}

	first := <-errs
	var subErr *SubscriptionError
	if !errors.As(first, &subErr) || subErr.Source != "firebase" {
		t.Errorf("Expected firebase SubscriptionError, got %v", first)
	}

	second := <-errs
	if !errors.Is(second, errStreamCancelled) {
		t.Errorf("Expected cancelled stream error, got %v", second)
	}
}

func TestFirebaseSourceReconnectsSilentStream(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		writeEvent(w, "put", fmt.Sprintf(`{"path":"/","data":{"ESP1-a":{"power":%d}}}`, n))
		// Connection stays open but nothing else is sent
		<-r.Context().Done()
	}))
	defer srv.Close()

	errs := make(chan error, 10)
	src := NewFirebaseSource(FirebaseConfig{
		DatabaseURL: srv.URL,
		Path:        "WATTch",
		MinBackoff:  5 * time.Millisecond,
		MaxBackoff:  20 * time.Millisecond,
		IdleTimeout: 50 * time.Millisecond,
		OnError: func(err error) {
			select {
			case errs <- err:
			default:
			}
		},
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan Snapshot)
	go src.Run(ctx, out)

	if snap := nextSnapshot(t, out); snap.Devices["ESP1-a"].Power != 1 {
		t.Errorf("Expected power 1 on first connection, got %+v", snap.Devices)
	}
	if snap := nextSnapshot(t, out); snap.Devices["ESP1-a"].Power != 2 {
		t.Errorf("Expected power 2 after reconnect, got %+v", snap.Devices)
	}

	if got := atomic.LoadInt32(&calls); got < 2 {
		t.Errorf("Expected at least 2 connections, got %d", got)
	}

	select {
	case err := <-errs:
		if !errors.Is(err, errStreamIdle) {
			t.Errorf("Expected idle stream error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Expected an idle stream error to be reported")
	}
}

type fakeSubscriber struct {
	topic   string
	handler mqtt.MessageHandler
	ready   chan struct{}
	unsub   chan string
}

func (f *fakeSubscriber) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	f.topic = topic
	f.handler = handler
	close(f.ready)
	return nil
}

func (f *fakeSubscriber) Unsubscribe(topic string) error {
	f.unsub <- topic
	return nil
}

func TestMQTTSource(t *testing.T) {
	sub := &fakeSubscriber{ready: make(chan struct{}), unsub: make(chan string, 1)}
	errs := make(chan error, 1)
	src := NewMQTTSource(sub, func(err error) { errs <- err }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Snapshot, 4)
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, out) }()

	<-sub.ready
	if sub.topic != StateTopic {
		t.Errorf("Expected topic %s, got %s", StateTopic, sub.topic)
	}

	sub.handler("ESP1-a/state", []byte(`{"power":"12.5"}`))
	snap := nextSnapshot(t, out)
	if len(snap.Devices) != 1 || snap.Devices["ESP1-a"].Power != 12.5 {
		t.Errorf("Unexpected snapshot: %+v", snap.Devices)
	}

	sub.handler("ESP1-a/attributes", []byte(`{}`))
	sub.handler("ESP1-a/state", []byte(`not json`))
	select {
	case err := <-errs:
		var subErr *SubscriptionError
		if !errors.As(err, &subErr) {
			t.Errorf("Expected SubscriptionError, got %v", err)
		}
	case <-time.After(time.Second):
		t.Error("Expected error for malformed payload")
	}
	if len(out) != 0 {
		t.Errorf("Expected no extra snapshots, got %d", len(out))
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if topic := <-sub.unsub; topic != StateTopic {
		t.Errorf("Expected unsubscribe from %s, got %s", StateTopic, topic)
	}
}

func TestDeviceFromTopic(t *testing.T) {
	tests := []struct {
		topic string
		id    string
		ok    bool
	}{
		{"ESP1-a/state", "ESP1-a", true},
		{"/state", "", false},
		{"sensor/ESP1/state", "", false},
		{"ESP1-a/attributes", "", false},
	}
	for _, tt := range tests {
		id, ok := deviceFromTopic(tt.topic)
		if id != tt.id || ok != tt.ok {
			t.Errorf("deviceFromTopic(%q) = (%q, %v), want (%q, %v)", tt.topic, id, ok, tt.id, tt.ok)
		}
	}
}

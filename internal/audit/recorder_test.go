package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memorySink struct {
	mu   sync.Mutex
	hits []Hit
	err  error
	gate chan struct{}
}

func (s *memorySink) RecordHit(ctx context.Context, h Hit) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.hits = append(s.hits, h)
	return nil
}

func (s *memorySink) snapshot() []Hit {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Hit, len(s.hits))
	copy(out, s.hits)
	return out
}

func TestRecorderDrainsOnClose(t *testing.T) {
	sink := &memorySink{}
	rec := NewRecorder(sink)
	user := "u-1"
	for i := 0; i < 5; i++ {
		rec.Record(Hit{At: time.Now(), Method: "GET", Path: "/api/track/PKG12345678", UserID: &user})
	}
	rec.Close()

	hits := sink.snapshot()
	if len(hits) != 5 {
		t.Fatalf("expected 5 hits, got %d", len(hits))
	}
	if hits[0].UserID == nil || *hits[0].UserID != "u-1" {
		t.Fatalf("unexpected user id: %v", hits[0].UserID)
	}
}

func TestRecorderSwallowsSinkErrors(t *testing.T) {
	sink := &memorySink{err: errors.New("disk full")}
	rec := NewRecorder(sink)
	rec.Record(Hit{Method: "POST", Path: "/auth/login"})
	rec.Close()
	if len(sink.snapshot()) != 0 {
		t.Fatal("failed writes must not be stored")
	}
}

func TestRecorderDropsWhenFull(t *testing.T) {
	sink := &memorySink{gate: make(chan struct{})}
	rec := NewRecorder(sink, WithQueueSize(1))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			rec.Record(Hit{Method: "GET", Path: "/api/my-packages"})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full queue")
	}

	close(sink.gate)
	rec.Close()
	if got := len(sink.snapshot()); got < 1 || got > 2 {
		t.Fatalf("expected the queue bound to cap stored hits, got %d", got)
	}
}

func TestRecordAfterCloseIsNoop(t *testing.T) {
	rec := NewRecorder(&memorySink{})
	rec.Close()
	rec.Record(Hit{Method: "GET", Path: "/"})
	rec.Close()
}

// ABOUTME: Shared test helper that records subscription callbacks on channels
// ABOUTME: Lets transport tests wait for statuses and broadcasts with timeouts

package realtime

import (
	"testing"
	"time"

	"github.com/2389/resale-inbox/internal/envelope"
)

type statusCall struct {
	status Status
	err    error
}

type recorder struct {
	statuses   chan statusCall
	broadcasts chan envelope.NewMessage
}

func newRecorder() *recorder {
	return &recorder{
		statuses:   make(chan statusCall, 64),
		broadcasts: make(chan envelope.NewMessage, 64),
	}
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnStatus:    func(s Status, err error) { r.statuses <- statusCall{s, err} },
		OnBroadcast: func(m envelope.NewMessage) { r.broadcasts <- m },
	}
}

func (r *recorder) waitStatus(t *testing.T, want Status) statusCall {
	t.Helper()
	select {
	case got := <-r.statuses:
		if got.status != want {
			t.Fatalf("status = %v (err %v), want %v", got.status, got.err, want)
		}
		return got
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for status %v", want)
		return statusCall{}
	}
}

func (r *recorder) waitBroadcast(t *testing.T) envelope.NewMessage {
	t.Helper()
	select {
	case got := <-r.broadcasts:
		return got
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for broadcast")
		return envelope.NewMessage{}
	}
}

func (r *recorder) expectNoBroadcast(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case got := <-r.broadcasts:
		t.Fatalf("unexpected broadcast for %q", got.ConversationID)
	case <-time.After(within):
	}
}

func (r *recorder) expectNoStatus(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case got := <-r.statuses:
		t.Fatalf("unexpected status %v (err %v)", got.status, got.err)
	case <-time.After(within):
	}
}

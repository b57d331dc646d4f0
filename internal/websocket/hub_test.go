package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/stripaudio/api/internal/model"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(zaptest.NewLogger(t))
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg := <-c.Send:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestBroadcastReachesOnlyJobSubscribers(t *testing.T) {
	h := startHub(t)

	a := NewClient("job-a")
	b := NewClient("job-b")
	h.Register(a)
	h.Register(b)

	h.BroadcastProgress("job-a", 42, model.JobStatusProcessing)

	var msg model.WSProgressMessage
	if err := json.Unmarshal(receive(t, a), &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != model.WSMessageTypeProgress || msg.Progress != 42 || msg.JobID != "job-a" {
		t.Errorf("unexpected message %+v", msg)
	}

	select {
	case extra := <-b.Send:
		t.Errorf("expected no message for job-b, got %s", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcastCompleteAndError(t *testing.T) {
	h := startHub(t)
	c := NewClient("job-1")
	h.Register(c)

	h.BroadcastComplete("job-1", model.DownloadResult{DownloadURL: "/download/job-1"})
	var done model.WSCompleteMessage
	if err := json.Unmarshal(receive(t, c), &done); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if done.Type != model.WSMessageTypeComplete {
		t.Errorf("expected complete message, got %q", done.Type)
	}

	h.BroadcastError("job-1", "TRANSCODE_FAILED", "boom")
	var failed model.WSErrorMessage
	if err := json.Unmarshal(receive(t, c), &failed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if failed.Error.Code != "TRANSCODE_FAILED" || failed.Error.Message != "boom" {
		t.Errorf("unexpected error message %+v", failed)
	}
}

func TestUnregisterDropsClient(t *testing.T) {
	h := startHub(t)
	c := NewClient("job-1")
	h.Register(c)

	if got := h.Subscribers("job-1"); got != 1 {
		t.Fatalf("expected 1 subscriber, got %d", got)
	}

	h.Unregister(c)
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected client to be released")
	}
	if got := h.Subscribers("job-1"); got != 0 {
		t.Errorf("expected 0 subscribers, got %d", got)
	}
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	h := startHub(t)
	c := NewClient("job-1")
	h.Register(c)

	for i := 0; i < sendBufferSize+10; i++ {
		h.BroadcastProgress("job-1", i, model.JobStatusProcessing)
	}

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected slow subscriber to be dropped")
	}
}

func TestBroadcastWithoutSubscribersDoesNotBlock(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))

	finished := make(chan struct{})
	go func() {
		for i := 0; i < broadcastBufferSize*2; i++ {
			h.BroadcastProgress("nobody", i, model.JobStatusProcessing)
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked with no subscribers and no running hub")
	}
}

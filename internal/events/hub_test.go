package events

import (
	"testing"
	"time"

	"github.com/dfft546/gproxy/internal/model"
)

func TestSubscribeReceivesPublishedRecords(t *testing.T) {
	h := New()
	ch, unsubscribe := h.Subscribe()
	defer unsubscribe()

	h.Publish(model.UpstreamRecord{TraceID: "t1"})

	select {
	case rec := <-ch:
		if rec.TraceID != "t1" {
			t.Fatalf("rec.TraceID = %q, want t1", rec.TraceID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published record")
	}
}

func TestPublishFansOutToEverySubscriber(t *testing.T) {
	h := New()
	ch1, unsub1 := h.Subscribe()
	defer unsub1()
	ch2, unsub2 := h.Subscribe()
	defer unsub2()

	h.Publish(model.UpstreamRecord{TraceID: "fanout"})

	for _, ch := range []<-chan model.UpstreamRecord{ch1, ch2} {
		select {
		case rec := <-ch:
			if rec.TraceID != "fanout" {
				t.Fatalf("rec.TraceID = %q, want fanout", rec.TraceID)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fan-out delivery")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := New()
	ch, unsubscribe := h.Subscribe()
	unsubscribe()

	if _, open := <-ch; open {
		t.Fatal("channel still open after unsubscribe")
	}
}

func TestPublishToSlowSubscriberDoesNotBlock(t *testing.T) {
	h := New()
	_, unsubscribe := h.Subscribe() // never drained
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < SubscriberQueueSize+10; i++ {
			h.Publish(model.UpstreamRecord{TraceID: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber instead of dropping events")
	}
}

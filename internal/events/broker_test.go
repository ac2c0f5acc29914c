package events

import (
	"testing"
)

func TestEmitReachesOnlySubscribedRooms(t *testing.T) {
	b := NewBroker(nil)
	siteSub := b.Subscribe(SiteRoom(1))
	otherSub := b.Subscribe(SiteRoom(2))

	b.Emit(SiteRoom(1), BuildStatusEvent, "payload")

	select {
	case ev := <-siteSub.Ch:
		if ev.Room != SiteRoom(1) || ev.Name != BuildStatusEvent {
			t.Errorf("event = %+v", ev)
		}
	default:
		t.Error("subscriber did not receive event for its room")
	}

	select {
	case ev := <-otherSub.Ch:
		t.Errorf("unexpected event for other room: %+v", ev)
	default:
	}
}

func TestSubscriberMultipleRooms(t *testing.T) {
	b := NewBroker(nil)
	sub := b.Subscribe(SiteRoom(1), SiteUserRoom(1, 7))

	b.Emit(SiteRoom(1), BuildStatusEvent, nil)
	b.Emit(SiteUserRoom(1, 7), BuildStatusEvent, nil)

	if got := len(sub.Ch); got != 2 {
		t.Errorf("buffered events = %d, want 2", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker(nil)
	sub := b.Subscribe(SiteRoom(1))
	b.Unsubscribe(sub)

	if _, ok := <-sub.Ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}
	if b.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount = %d, want 0", b.SubscriberCount())
	}

	// Double unsubscribe is harmless.
	b.Unsubscribe(sub)
}

func TestEmitDropsWhenBufferFull(t *testing.T) {
	b := NewBroker(nil)
	sub := b.Subscribe(SiteRoom(1))

	for i := 0; i < 150; i++ {
		b.Emit(SiteRoom(1), BuildStatusEvent, i)
	}

	// The buffer holds 100; the rest were dropped, not blocked on.
	if got := len(sub.Ch); got != 100 {
		t.Errorf("buffered events = %d, want 100", got)
	}
}

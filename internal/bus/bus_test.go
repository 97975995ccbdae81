package bus

import (
	"context"
	"testing"
	"time"
)

func TestPublishFanOut(t *testing.T) {
	b := New(4)
	r1 := b.Subscribe("one")
	r2 := b.Subscribe("two")
	defer r1.Unsubscribe()
	defer r2.Unsubscribe()

	if got := b.SubscriberCount(); got != 2 {
		t.Fatalf("SubscriberCount = %d, want 2", got)
	}

	b.Publish(Stop{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for _, r := range []*Receiver{r1, r2} {
		msg, ok := r.Recv(ctx)
		if !ok {
			t.Fatal("Recv returned ok=false")
		}
		if _, isStop := msg.(Stop); !isStop {
			t.Fatalf("got %T, want Stop", msg)
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New(1)
	r := b.Subscribe("slow")
	defer r.Unsubscribe()

	b.Publish(Stop{})
	b.Publish(Stop{}) // channel already holds one, this one is dropped

	if got := r.Dropped(); got != 1 {
		t.Fatalf("Dropped() = %d, want 1", got)
	}
}

func TestTryRecvNonBlocking(t *testing.T) {
	b := New(4)
	r := b.Subscribe("x")
	defer r.Unsubscribe()

	if _, ok := r.TryRecv(); ok {
		t.Fatal("TryRecv on empty bus returned ok=true")
	}

	b.Publish(Play{})
	msg, ok := r.TryRecv()
	if !ok {
		t.Fatal("TryRecv after publish returned ok=false")
	}
	if _, isPlay := msg.(Play); !isPlay {
		t.Fatalf("got %T, want Play", msg)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New(4)
	r := b.Subscribe("x")
	r.Unsubscribe()
	r.Unsubscribe() // must not panic on double-close

	if got := b.SubscriberCount(); got != 0 {
		t.Fatalf("SubscriberCount = %d, want 0", got)
	}
}

func TestRecvUnblocksOnContextCancel(t *testing.T) {
	b := New(4)
	r := b.Subscribe("x")
	defer r.Unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, ok := r.Recv(ctx); ok {
		t.Fatal("Recv with cancelled context returned ok=true")
	}
}

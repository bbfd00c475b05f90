package notify

import (
	"context"
	"testing"
	"time"
)

func TestPollingBus_TicksWakeSubscribers(t *testing.T) {
	bus := NewPollingBus(10 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := bus.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer bus.Close()

	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a tick notification")
	}
}

func TestPollingBus_PublishIsImmediate(t *testing.T) {
	bus := NewPollingBus(time.Hour)
	ctx := context.Background()
	if err := bus.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer bus.Close()

	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	want := Notification{StreamUUID: "orders-1", Kind: KindAppended, FromGlobal: 1, ToGlobal: 3}
	if err := bus.Publish(ctx, want); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	select {
	case got := <-ch:
		if got != want {
			t.Errorf("got %+v, want %+v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published notification")
	}
}

func TestPollingBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewPollingBus(time.Hour)
	ch, unsubscribe := bus.Subscribe()
	unsubscribe()

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
}

func TestPollingBus_CloseClosesAllChannels(t *testing.T) {
	bus := NewPollingBus(time.Hour)
	ctx := context.Background()
	if err := bus.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	ch1, _ := bus.Subscribe()
	ch2, _ := bus.Subscribe()

	if err := bus.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	for i, ch := range []<-chan Notification{ch1, ch2} {
		if _, ok := <-ch; ok {
			t.Errorf("subscriber %d: expected channel closed after bus Close()", i)
		}
	}
}

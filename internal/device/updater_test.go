package device

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"
)

func TestRunUpdater_PushesReadingsThroughRegistry(t *testing.T) {
	store := newMockStore()
	pub := &recordingPublisher{}
	reg := NewRegistry(store)
	reg.SetPublisher(pub)

	d, err := New(Spec{Name: "PipeLeak", Kind: "leak_sensor", UpdateInterval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	reg.Register(context.Background(), d)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- RunUpdater(ctx, reg, d.(Updater), rand.New(rand.NewPCG(3, 4)))
	}()

	deadline := time.After(2 * time.Second)
	for len(pub.all()) < 3 {
		select {
		case <-deadline:
			t.Fatal("updater produced fewer than 3 events")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("RunUpdater() = %v, want nil on cancellation", err)
		}
	case <-time.After(time.Second):
		t.Fatal("RunUpdater did not stop after cancellation")
	}

	for _, ev := range pub.all() {
		if ev.Source != SourceSensor || ev.Attr != "leak" {
			t.Errorf("event = %+v, want sensor leak event", ev)
		}
	}
	if _, ok := store.get("PipeLeak")["leak"]; !ok {
		t.Error("sensor reading was not persisted")
	}
}

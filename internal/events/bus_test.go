package events

import (
	"sync"
	"testing"
)

func TestBus_PublishReachesSubscribers(t *testing.T) {
	bus := NewBus()

	var got []Event
	unsub := bus.Subscribe(TopicRulesChanged, func(e Event) {
		got = append(got, e)
	})
	defer unsub()

	bus.Publish(TopicRulesChanged, "style")
	bus.Publish(TopicReferencesChanged, "other-topic")

	if len(got) != 1 {
		t.Fatalf("received %d events, want 1", len(got))
	}
	if got[0].Topic != TopicRulesChanged {
		t.Errorf("topic = %q, want %q", got[0].Topic, TopicRulesChanged)
	}
	if got[0].Payload != "style" {
		t.Errorf("payload = %v, want %q", got[0].Payload, "style")
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()

	count := 0
	unsub := bus.Subscribe(TopicProvidersChanged, func(Event) { count++ })

	bus.Publish(TopicProvidersChanged, nil)
	unsub()
	unsub() // double unsubscribe is a no-op
	bus.Publish(TopicProvidersChanged, nil)

	if count != 1 {
		t.Errorf("handler ran %d times, want 1", count)
	}
	if n := bus.SubscriberCount(TopicProvidersChanged); n != 0 {
		t.Errorf("SubscriberCount = %d, want 0", n)
	}
}

func TestBus_PanickingHandlerDoesNotStopOthers(t *testing.T) {
	bus := NewBus()

	bus.Subscribe(TopicToolsChanged, func(Event) { panic("boom") })
	reached := false
	bus.Subscribe(TopicToolsChanged, func(Event) { reached = true })

	bus.Publish(TopicToolsChanged, nil)

	if !reached {
		t.Error("second handler did not run after first panicked")
	}
}

func TestBus_ConcurrentPublishAndSubscribe(t *testing.T) {
	bus := NewBus()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unsub := bus.Subscribe(TopicWorkspaceSwitched, func(Event) {})
			defer unsub()
		}()
		go func() {
			defer wg.Done()
			bus.Publish(TopicWorkspaceSwitched, nil)
		}()
	}
	wg.Wait()
}

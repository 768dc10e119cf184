package bus

import "testing"

func TestSubscribeEmitUnsubscribe(t *testing.T) {
	b := New()

	var got []string
	unsub := b.Subscribe("sessionDestroyed", func(e Event) {
		got = append(got, e.Payload.(string))
	})

	b.Emit(Event{Name: "sessionDestroyed", Payload: "s1"})
	b.Emit(Event{Name: "other", Payload: "ignored"})
	unsub()
	b.Emit(Event{Name: "sessionDestroyed", Payload: "s2"})

	if len(got) != 1 || got[0] != "s1" {
		t.Errorf("handler received %v, want [s1]", got)
	}
}

func TestWildcardSubscription(t *testing.T) {
	b := New()
	count := 0
	b.Subscribe("", func(Event) { count++ })

	b.Emit(Event{Name: "a"})
	b.Emit(Event{Name: "b"})

	if count != 2 {
		t.Errorf("wildcard handler ran %d times, want 2", count)
	}
}

func TestHandlerPanicIsSwallowed(t *testing.T) {
	b := New()
	b.Subscribe("tick", func(Event) { panic("boom") })

	ran := false
	b.Subscribe("tick", func(Event) { ran = true })

	b.Emit(Event{Name: "tick"}) // must not panic the emitter

	if !ran {
		t.Error("second handler did not run after first panicked")
	}
}

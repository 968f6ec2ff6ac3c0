package client

import "testing"

func TestBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus()

	var a, b []Event
	bus.Subscribe(func(ev Event) { a = append(a, ev) })
	bus.Subscribe(func(ev Event) { b = append(b, ev) })

	bus.Publish(LoginEvent{Origin: "x", AccessToken: "tok"})
	bus.Publish(LogoutEvent{Origin: "x"})

	if len(a) != 2 || len(b) != 2 {
		t.Fatalf("deliveries = %d/%d, want 2/2", len(a), len(b))
	}
	if _, ok := a[0].(LoginEvent); !ok {
		t.Errorf("first event = %T, want LoginEvent", a[0])
	}
}

func TestBusCancelStopsDelivery(t *testing.T) {
	bus := NewBus()

	var got []Event
	cancel := bus.Subscribe(func(ev Event) { got = append(got, ev) })

	bus.Publish(LogoutEvent{Origin: "x"})
	cancel()
	cancel() // second cancel is a no-op
	bus.Publish(LogoutEvent{Origin: "x"})

	if len(got) != 1 {
		t.Errorf("deliveries after cancel = %d, want 1", len(got))
	}
}

func TestMemoryStorage(t *testing.T) {
	store := NewMemoryStorage()

	if _, ok := store.Get("missing"); ok {
		t.Error("Get reported a missing key as present")
	}
	store.Set("k", "v")
	if v, ok := store.Get("k"); !ok || v != "v" {
		t.Errorf("Get(k) = %q, %v", v, ok)
	}
	store.Delete("k")
	store.Delete("k") // idempotent
	if _, ok := store.Get("k"); ok {
		t.Error("key survived Delete")
	}
}

func TestBindStorageMirrorsEvents(t *testing.T) {
	bus := NewBus()
	store := NewMemoryStorage()
	cancel := BindStorage(bus, store)
	defer cancel()

	bus.Publish(LoginEvent{
		Origin:      "x",
		AccessToken: "tok-1",
		User:        User{ID: "u1", Email: "diner@example.com", Name: "Dana Diner", Role: "customer"},
	})
	if v, ok := store.Get(storageKeyAccessToken); !ok || v != "tok-1" {
		t.Errorf("stored access token = %q, %v", v, ok)
	}
	if _, ok := store.Get(storageKeyUser); !ok {
		t.Error("user not mirrored into storage")
	}

	bus.Publish(LogoutEvent{Origin: "x"})
	if _, ok := store.Get(storageKeyAccessToken); ok {
		t.Error("access token survived logout event")
	}
	if _, ok := store.Get(storageKeyUser); ok {
		t.Error("user survived logout event")
	}
}

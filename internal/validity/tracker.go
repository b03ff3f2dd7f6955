package validity

// Observer receives the new validity after a change.
type Observer func(valid bool)

// Subscription identifies a registered observer so it can be removed later.
type Subscription uint64

// Source is anything that reports validity and accepts observers.
type Source interface {
	Valid() bool
	Subscribe(fn Observer) Subscription
	Unsubscribe(id Subscription)
}

type observerEntry struct {
	id Subscription
	fn Observer
}

// Tracker is a leaf validity value with change notification.
type Tracker struct {
	valid     bool
	next      Subscription
	observers []observerEntry
}

// NewTracker returns a tracker starting at the given validity.
func NewTracker(valid bool) *Tracker {
	return &Tracker{valid: valid}
}

// Valid reports the current validity.
func (t *Tracker) Valid() bool {
	return t.valid
}

// Set updates the validity, notifying observers only when it changes.
func (t *Tracker) Set(valid bool) {
	if t.valid == valid {
		return
	}
	t.valid = valid
	t.fire()
}

// Subscribe registers fn and returns a handle for Unsubscribe.
func (t *Tracker) Subscribe(fn Observer) Subscription {
	if fn == nil {
		return 0
	}
	t.next++
	t.observers = append(t.observers, observerEntry{id: t.next, fn: fn})
	return t.next
}

// Unsubscribe removes a previously registered observer. Unknown handles are ignored.
func (t *Tracker) Unsubscribe(id Subscription) {
	for i, entry := range t.observers {
		if entry.id == id {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

// Observers returns the number of registered observers.
func (t *Tracker) Observers() int {
	return len(t.observers)
}

func (t *Tracker) fire() {
	// copy so observers may unsubscribe themselves while being notified
	snapshot := make([]observerEntry, len(t.observers))
	copy(snapshot, t.observers)
	for _, entry := range snapshot {
		entry.fn(t.valid)
	}
}

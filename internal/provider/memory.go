package provider

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var _ Provider = (*Memory)(nil)

var ErrEventNotFound = errors.New("event not found")

// Memory keeps calendars and events in process memory. Nothing is persisted.
type Memory struct {
	mu        sync.RWMutex
	denied    bool
	calendars map[string]Calendar
	events    map[string]map[string]Event
	last      time.Time
}

func NewMemory(calendars ...Calendar) *Memory {
	m := &Memory{
		calendars: make(map[string]Calendar, len(calendars)),
		events:    make(map[string]map[string]Event, len(calendars)),
	}
	for _, cal := range calendars {
		if cal.ID == "" {
			cal.ID = cal.Name
		}
		m.calendars[cal.ID] = cal
		m.events[cal.ID] = make(map[string]Event)
	}
	return m
}

// Deny makes every subsequent Authorize call fail.
func (m *Memory) Deny() {
	m.mu.Lock()
	m.denied = true
	m.mu.Unlock()
}

func (m *Memory) Authorize(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.denied {
		return errors.Wrap(ErrAccessDenied, "memory")
	}
	return nil
}

func (m *Memory) FindCalendar(_ context.Context, name string) (Calendar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, cal := range m.calendars {
		if cal.Name == name {
			return cal, nil
		}
	}
	return Calendar{}, errors.Wrapf(ErrCalendarNotFound, "%q", name)
}

func (m *Memory) Events(_ context.Context, cal Calendar, day time.Time) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	evs, ok := m.events[cal.ID]
	if !ok {
		return nil, errors.Wrapf(ErrCalendarNotFound, "%q", cal.Name)
	}
	out := make([]Event, 0, len(evs))
	for _, ev := range evs {
		if OnDay(ev.Start, day) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Modified.Before(out[j].Modified) })
	return out, nil
}

func (m *Memory) CreateEvent(_ context.Context, cal Calendar, ev Event) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	evs, ok := m.events[cal.ID]
	if !ok {
		return Event{}, errors.Wrapf(ErrCalendarNotFound, "%q", cal.Name)
	}
	now := time.Now().UTC()
	if !now.After(m.last) {
		now = m.last.Add(time.Microsecond)
	}
	m.last = now
	ev.ID = uuid.NewString()
	ev.Start = Day(ev.Start)
	ev.Modified = now
	evs[ev.ID] = ev
	return ev, nil
}

func (m *Memory) DeleteEvent(_ context.Context, cal Calendar, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	evs, ok := m.events[cal.ID]
	if !ok {
		return errors.Wrapf(ErrCalendarNotFound, "%q", cal.Name)
	}
	if _, ok := evs[ev.ID]; !ok {
		return errors.Wrapf(ErrEventNotFound, "%s", ev.ID)
	}
	delete(evs, ev.ID)
	return nil
}

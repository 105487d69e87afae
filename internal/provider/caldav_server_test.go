package provider

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPrincipal = "/user/"
	testHomeSet   = "/user/calendars/"
)

// calendarBackend is a minimal in-memory caldav.Backend serving one calendar.
type calendarBackend struct {
	mu      sync.Mutex
	cal     caldav.Calendar
	objects map[string]caldav.CalendarObject
}

func newCalendarBackend(name string) *calendarBackend {
	return &calendarBackend{
		cal: caldav.Calendar{
			Path:                  testHomeSet + "transfer/",
			Name:                  name,
			MaxResourceSize:       1 << 20,
			SupportedComponentSet: []string{ical.CompEvent},
		},
		objects: make(map[string]caldav.CalendarObject),
	}
}

func (b *calendarBackend) CurrentUserPrincipal(context.Context) (string, error) {
	return testPrincipal, nil
}

func (b *calendarBackend) CalendarHomeSetPath(context.Context) (string, error) {
	return testHomeSet, nil
}

func (b *calendarBackend) CreateCalendar(context.Context, *caldav.Calendar) error {
	return errors.New("not supported")
}

func (b *calendarBackend) ListCalendars(context.Context) ([]caldav.Calendar, error) {
	return []caldav.Calendar{b.cal}, nil
}

func (b *calendarBackend) GetCalendar(_ context.Context, p string) (*caldav.Calendar, error) {
	if strings.TrimSuffix(p, "/") != strings.TrimSuffix(b.cal.Path, "/") {
		return nil, errors.Errorf("calendar %s not found", p)
	}
	cal := b.cal
	return &cal, nil
}

func (b *calendarBackend) GetCalendarObject(_ context.Context, p string, _ *caldav.CalendarCompRequest) (*caldav.CalendarObject, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[p]
	if !ok {
		return nil, errors.Errorf("object %s not found", p)
	}
	return &obj, nil
}

func (b *calendarBackend) ListCalendarObjects(_ context.Context, p string, _ *caldav.CalendarCompRequest) ([]caldav.CalendarObject, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	prefix := strings.TrimSuffix(p, "/") + "/"
	var out []caldav.CalendarObject
	for objPath, obj := range b.objects {
		if strings.HasPrefix(objPath, prefix) {
			out = append(out, obj)
		}
	}
	return out, nil
}

func (b *calendarBackend) QueryCalendarObjects(ctx context.Context, p string, query *caldav.CalendarQuery) ([]caldav.CalendarObject, error) {
	objs, err := b.ListCalendarObjects(ctx, p, &query.CompRequest)
	if err != nil {
		return nil, err
	}
	return caldav.Filter(query, objs)
}

func (b *calendarBackend) PutCalendarObject(_ context.Context, p string, cal *ical.Calendar, _ *caldav.PutCalendarObjectOptions) (*caldav.CalendarObject, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj := caldav.CalendarObject{
		Path:    p,
		ModTime: time.Now().UTC(),
		ETag:    p,
		Data:    cal,
	}
	b.objects[p] = obj
	return &obj, nil
}

func (b *calendarBackend) DeleteCalendarObject(_ context.Context, p string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[p]; !ok {
		return errors.Errorf("object %s not found", p)
	}
	delete(b.objects, p)
	return nil
}

func (b *calendarBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

func TestCalDAVEventLifecycle(t *testing.T) {
	ctx := context.Background()
	backend := newCalendarBackend("FileTransfer")
	srv := httptest.NewServer(&caldav.Handler{Backend: backend})
	defer srv.Close()

	c, err := NewCalDAV(CalDAVOptions{URL: srv.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	require.NoError(t, c.Authorize(ctx))

	_, err = c.FindCalendar(ctx, "Elsewhere")
	assert.True(t, errors.Is(err, ErrCalendarNotFound), "got %v", err)

	cal, err := c.FindCalendar(ctx, "FileTransfer")
	require.NoError(t, err)
	assert.Equal(t, "FileTransfer", cal.Name)
	assert.Equal(t, int64(1<<20), cal.MaxResourceSize)

	day := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	notes := "a.txt|3|ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad|YWJj"
	created, err := c.CreateEvent(ctx, cal, Event{Title: "a.txt", Notes: notes, Start: day})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(created.ID, cal.ID), "event path %s", created.ID)
	assert.True(t, strings.HasSuffix(created.ID, ".ics"), "event path %s", created.ID)
	assert.Equal(t, 1, backend.count())

	evs, err := c.Events(ctx, cal, day)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, created.ID, evs[0].ID)
	assert.Equal(t, "a.txt", evs[0].Title)
	assert.Equal(t, notes, evs[0].Notes)
	assert.True(t, day.Equal(evs[0].Start))

	evs, err = c.Events(ctx, cal, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Empty(t, evs)
	evs, err = c.Events(ctx, cal, day.AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.Empty(t, evs)

	require.NoError(t, c.DeleteEvent(ctx, cal, created))
	assert.Zero(t, backend.count())

	evs, err = c.Events(ctx, cal, day)
	require.NoError(t, err)
	assert.Empty(t, evs)
}

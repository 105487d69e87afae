package provider

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	CalendarDateFormat = "20060102"
	CalendarTimeFormat = "20060102T150405"
	calendarUTCFormat  = "20060102T150405Z"
)

var (
	ErrAccessDenied     = errors.New("calendar access denied")
	ErrCalendarNotFound = errors.New("calendar not found")
	ErrReadOnly         = errors.New("calendar provider is read-only")
)

type Calendar struct {
	ID   string
	Name string
	// 0 when the provider does not advertise a limit
	MaxResourceSize int64
}

type Event struct {
	ID       string
	Title    string
	Notes    string
	Start    time.Time
	Modified time.Time
}

type Provider interface {
	Authorize(ctx context.Context) error
	FindCalendar(ctx context.Context, name string) (Calendar, error)
	Events(ctx context.Context, cal Calendar, day time.Time) ([]Event, error)
	CreateEvent(ctx context.Context, cal Calendar, ev Event) (Event, error)
	DeleteEvent(ctx context.Context, cal Calendar, ev Event) error
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func OnDay(t, day time.Time) bool {
	start := Day(day)
	return !t.Before(start) && t.Before(start.AddDate(0, 0, 1))
}

// GetCalendarTime parses the DATE and DATE-TIME forms found in ICS values.
func GetCalendarTime(timeStr string, location *time.Location) (out time.Time, ok bool) {
	if location == nil {
		location = time.UTC
	}
	var err error
	switch {
	case len(timeStr) == len(CalendarDateFormat):
		// all-day values name a date, not an instant
		out, err = time.ParseInLocation(CalendarDateFormat, timeStr, time.UTC)
	case strings.HasSuffix(timeStr, "Z"):
		out, err = time.Parse(calendarUTCFormat, timeStr)
	default:
		out, err = time.ParseInLocation(CalendarTimeFormat, timeStr, location)
	}
	if err != nil {
		return time.Time{}, false
	}
	return out, true
}

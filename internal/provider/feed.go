package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var _ Provider = (*Feed)(nil)

type FeedOptions struct {
	URL     string
	User    string
	Pass    string
	Timeout time.Duration
}

// Feed reads transfer events from a published ICS subscription URL. It
// cannot write, so it only serves the receiving side.
type Feed struct {
	url string
	rc  *resty.Client

	mu  sync.Mutex
	cal *ics.Calendar
}

func NewFeed(opts FeedOptions) (*Feed, error) {
	if opts.URL == "" {
		return nil, errors.New("feed url is required")
	}
	rc := resty.New().SetTimeout(opts.Timeout)
	if opts.User != "" {
		rc.SetBasicAuth(opts.User, opts.Pass)
	}
	return &Feed{url: opts.URL, rc: rc}, nil
}

func (f *Feed) Authorize(ctx context.Context) error {
	cal, err := f.fetch(ctx)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.cal = cal
	f.mu.Unlock()
	return nil
}

func (f *Feed) FindCalendar(ctx context.Context, name string) (Calendar, error) {
	f.mu.Lock()
	cal := f.cal
	f.mu.Unlock()
	if cal == nil {
		var err error
		if cal, err = f.fetch(ctx); err != nil {
			return Calendar{}, err
		}
	}
	feedName := calendarName(cal)
	if feedName == "" {
		log.Debug().Str("url", f.url).Msg("feed has no calendar name, assuming it matches")
		return Calendar{ID: f.url, Name: name}, nil
	}
	if feedName != name {
		return Calendar{}, errors.Wrapf(ErrCalendarNotFound, "%q (feed is %q)", name, feedName)
	}
	return Calendar{ID: f.url, Name: feedName}, nil
}

func (f *Feed) Events(ctx context.Context, _ Calendar, day time.Time) ([]Event, error) {
	cal, err := f.fetch(ctx)
	if err != nil {
		return nil, err
	}
	var out []Event
	for _, event := range cal.Events() {
		ev := Event{
			ID:    ValueOrEmpty(event.ComponentBase.GetProperty(ics.ComponentPropertyUniqueId)),
			Title: unescapeText(ValueOrEmpty(event.ComponentBase.GetProperty(ics.ComponentPropertySummary))),
			Notes: unescapeText(ValueOrEmpty(event.ComponentBase.GetProperty(ics.ComponentPropertyDescription))),
		}
		start, ok := GetCalendarTime(ValueOrEmpty(event.ComponentBase.GetProperty(ics.ComponentPropertyDtStart)), time.UTC)
		if !ok {
			log.Warn().Str("eventID", ev.ID).Str("eventTitle", ev.Title).Msg("event has no start date")
			continue
		}
		if !OnDay(start, day) {
			continue
		}
		ev.Start = start
		modStr := ValueOrEmpty(event.ComponentBase.GetProperty(ics.ComponentPropertyLastModified))
		if modStr == "" {
			modStr = ValueOrEmpty(event.ComponentBase.GetProperty(ics.ComponentPropertyDtstamp))
		}
		ev.Modified, _ = GetCalendarTime(modStr, time.UTC)
		out = append(out, ev)
	}
	return out, nil
}

func (f *Feed) CreateEvent(context.Context, Calendar, Event) (Event, error) {
	return Event{}, errors.Wrap(ErrReadOnly, "feed")
}

func (f *Feed) DeleteEvent(context.Context, Calendar, Event) error {
	return errors.Wrap(ErrReadOnly, "feed")
}

func (f *Feed) fetch(ctx context.Context) (*ics.Calendar, error) {
	resp, err := f.rc.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(f.url)
	if err != nil {
		return nil, errors.Wrap(err, "error getting calendar feed")
	}
	body := resp.RawBody()
	defer body.Close()
	switch resp.StatusCode() {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, errors.Wrapf(ErrAccessDenied, "%s", resp.Status())
	}
	if resp.IsError() {
		return nil, errors.New(fmt.Sprintf("error getting calendar feed: %s", resp.Status()))
	}
	cal, err := ics.ParseCalendar(body)
	if err != nil {
		return nil, errors.Wrap(err, "error parsing calendar feed")
	}
	return cal, nil
}

func calendarName(cal *ics.Calendar) string {
	for _, prop := range cal.CalendarProperties {
		if prop.IANAToken == string(ics.PropertyXWRCalName) {
			return unescapeText(prop.Value)
		}
	}
	return ""
}

func ValueOrEmpty(prop *ics.IANAProperty) string {
	if prop == nil {
		return ""
	}
	return prop.Value
}

var textUnescaper = strings.NewReplacer(`\\`, `\`, `\;`, `;`, `\,`, `,`, `\n`, "\n", `\N`, "\n")

// unescapeText undoes RFC 5545 TEXT escaping. It is a no-op on values the
// parser already unescaped, since transfer names never contain a backslash.
func unescapeText(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	return textUnescaper.Replace(s)
}

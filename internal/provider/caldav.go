package provider

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var _ Provider = (*CalDAV)(nil)

const productID = "-//calxfer//calxfer//EN"

type CalDAVOptions struct {
	URL     string
	User    string
	Pass    string
	Timeout time.Duration
}

type CalDAV struct {
	url string
	rc  *resty.Client
	cl  *caldav.Client
}

func NewCalDAV(opts CalDAVOptions) (*CalDAV, error) {
	if opts.URL == "" {
		return nil, errors.New("caldav url is required")
	}
	rc := resty.New().SetTimeout(opts.Timeout)
	var httpClient webdav.HTTPClient = deniedGuard{rc.GetClient()}
	if opts.User != "" {
		rc.SetBasicAuth(opts.User, opts.Pass)
		httpClient = webdav.HTTPClientWithBasicAuth(httpClient, opts.User, opts.Pass)
	}
	cl, err := caldav.NewClient(httpClient, opts.URL)
	if err != nil {
		return nil, errors.Wrap(err, "error creating caldav client")
	}
	return &CalDAV{
		url: opts.URL,
		rc:  rc,
		cl:  cl,
	}, nil
}

func (c *CalDAV) Authorize(ctx context.Context) error {
	resp, err := c.rc.R().SetContext(ctx).Options(c.url)
	if err != nil {
		return errors.Wrap(err, "error probing caldav server")
	}
	switch resp.StatusCode() {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.Wrapf(ErrAccessDenied, "%s", resp.Status())
	}
	if resp.IsError() {
		return errors.New(fmt.Sprintf("error probing caldav server: %s", resp.Status()))
	}
	if !hasCalendarAccess(resp.Header().Values("DAV")) {
		log.Warn().Str("url", c.url).Msg("server does not advertise calendar-access")
	}
	return nil
}

func (c *CalDAV) FindCalendar(ctx context.Context, name string) (Calendar, error) {
	principal, err := c.cl.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return Calendar{}, errors.Wrap(err, "error finding current user principal")
	}
	homeSet, err := c.cl.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return Calendar{}, errors.Wrap(err, "error finding calendar home set")
	}
	cals, err := c.cl.FindCalendars(ctx, homeSet)
	if err != nil {
		return Calendar{}, errors.Wrap(err, "error listing calendars")
	}
	for _, cal := range cals {
		log.Debug().Str("path", cal.Path).Str("name", cal.Name).Msg("found calendar")
		if cal.Name == name {
			return Calendar{ID: cal.Path, Name: cal.Name, MaxResourceSize: cal.MaxResourceSize}, nil
		}
	}
	return Calendar{}, errors.Wrapf(ErrCalendarNotFound, "%q", name)
}

func (c *CalDAV) Events(ctx context.Context, cal Calendar, day time.Time) ([]Event, error) {
	start := Day(day)
	// a window equal to the all-day span is dropped by servers that compare
	// boundaries strictly, so query around it and filter with OnDay
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{
				Name:     ical.CompEvent,
				AllProps: true,
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: start.AddDate(0, 0, -1),
				End:   start.AddDate(0, 0, 2),
			}},
		},
	}
	objs, err := c.cl.QueryCalendar(ctx, cal.ID, query)
	if err != nil {
		return nil, errors.Wrap(err, "error querying calendar")
	}
	var out []Event
	for _, obj := range objs {
		for _, ev := range eventsFromObject(obj) {
			// some servers ignore the time-range filter
			if OnDay(ev.Start, start) {
				out = append(out, ev)
			}
		}
	}
	return out, nil
}

func (c *CalDAV) CreateEvent(ctx context.Context, cal Calendar, ev Event) (Event, error) {
	uid := uuid.NewString()
	objPath := path.Join(cal.ID, uid+".ics")
	now := time.Now().UTC()
	obj, err := c.cl.PutCalendarObject(ctx, objPath, newEventCalendar(uid, ev, now))
	if err != nil {
		return Event{}, errors.Wrap(err, "error creating calendar event")
	}
	if obj != nil && obj.Path != "" {
		objPath = obj.Path
	}
	return Event{
		ID:       objPath,
		Title:    ev.Title,
		Notes:    ev.Notes,
		Start:    Day(ev.Start),
		Modified: now,
	}, nil
}

func (c *CalDAV) DeleteEvent(ctx context.Context, _ Calendar, ev Event) error {
	if err := c.cl.RemoveAll(ctx, ev.ID); err != nil {
		return errors.Wrap(err, "error deleting calendar event")
	}
	return nil
}

func newEventCalendar(uid string, ev Event, now time.Time) *ical.Calendar {
	day := Day(ev.Start)
	vev := ical.NewEvent()
	vev.Props.SetText(ical.PropUID, uid)
	vev.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	vev.Props.SetDateTime(ical.PropLastModified, now.UTC())
	vev.Props.SetDate(ical.PropDateTimeStart, day)
	vev.Props.SetDate(ical.PropDateTimeEnd, day.AddDate(0, 0, 1))
	vev.Props.SetText(ical.PropSummary, ev.Title)
	vev.Props.SetText(ical.PropDescription, ev.Notes)
	vev.Props.SetText(ical.PropTransparency, "TRANSPARENT")

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Children = append(cal.Children, vev.Component)
	return cal
}

func eventsFromObject(obj caldav.CalendarObject) []Event {
	if obj.Data == nil {
		return nil
	}
	var out []Event
	for _, vev := range obj.Data.Events() {
		title, _ := vev.Props.Text(ical.PropSummary)
		notes, _ := vev.Props.Text(ical.PropDescription)
		start, err := vev.DateTimeStart(time.UTC)
		if err != nil {
			log.Warn().Err(err).Str("path", obj.Path).Msg("event has invalid start date")
			continue
		}
		modified, err := vev.Props.DateTime(ical.PropLastModified, time.UTC)
		if err != nil || modified.IsZero() {
			modified = obj.ModTime
		}
		out = append(out, Event{
			ID:       obj.Path,
			Title:    title,
			Notes:    notes,
			Start:    start,
			Modified: modified,
		})
	}
	return out
}

func hasCalendarAccess(dav []string) bool {
	for _, v := range dav {
		for _, class := range strings.Split(v, ",") {
			if strings.TrimSpace(class) == "calendar-access" {
				return true
			}
		}
	}
	return false
}

// deniedGuard turns 401 and 403 responses into ErrAccessDenied so they can be
// told apart from other webdav failures.
type deniedGuard struct {
	next webdav.HTTPClient
}

func (g deniedGuard) Do(req *http.Request) (*http.Response, error) {
	resp, err := g.next.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return nil, errors.Wrapf(ErrAccessDenied, "%s %s: %s", req.Method, req.URL.Path, resp.Status)
	}
	return resp, nil
}

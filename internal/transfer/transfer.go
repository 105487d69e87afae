package transfer

import (
	"calxfer/internal/payload"
	"calxfer/internal/provider"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

const (
	DefaultCalendar = "FileTransfer"
	deleteWorkers   = 4
	// room for the VCALENDAR/VEVENT envelope around the notes
	icsOverhead = 1024
)

var (
	ErrFileNotFound   = errors.New("file not found")
	ErrNotRegularFile = errors.New("not a regular file")
	ErrNoSuchFile     = errors.New("no such file in calendar")
	ErrBadDestination = errors.New("destination is not a directory")
	ErrTooLarge       = errors.New("file exceeds the calendar's resource size limit")
)

type Options struct {
	Calendar            string
	Date                time.Time
	DeleteAfterDownload bool
}

type Entry struct {
	payload.Record
	Title    string    `json:"title"`
	EventID  string    `json:"eventID"`
	Modified time.Time `json:"modified"`
}

type Transfer struct {
	p    provider.Provider
	cal  provider.Calendar
	day  time.Time
	opts Options
}

func New(ctx context.Context, p provider.Provider, opts Options) (*Transfer, error) {
	if opts.Calendar == "" {
		opts.Calendar = DefaultCalendar
	}
	if err := p.Authorize(ctx); err != nil {
		return nil, errors.Wrap(err, "error requesting calendar access")
	}
	cal, err := p.FindCalendar(ctx, opts.Calendar)
	if err != nil {
		return nil, err
	}
	t := &Transfer{
		p:    p,
		cal:  cal,
		day:  provider.Day(opts.Date),
		opts: opts,
	}
	log.Debug().
		Str("calendar", cal.Name).
		Str("calendarID", cal.ID).
		Time("date", t.day).
		Int64("maxResourceSize", cal.MaxResourceSize).
		Msg("transfer calendar located")
	return t, nil
}

func (t *Transfer) Calendar() provider.Calendar {
	return t.cal
}

// Upload stores the file as an event titled with its base name, replacing any
// earlier event of the same name once the new one exists.
func (t *Transfer) Upload(ctx context.Context, path string) (payload.Record, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return payload.Record{}, errors.Wrapf(ErrFileNotFound, "%s", path)
	}
	if err != nil {
		return payload.Record{}, errors.Wrap(err, "error reading file")
	}
	if !info.Mode().IsRegular() {
		return payload.Record{}, errors.Wrapf(ErrNotRegularFile, "%s", path)
	}
	name := filepath.Base(path)
	if err := payload.ValidateName(name); err != nil {
		return payload.Record{}, err
	}
	if limit := t.cal.MaxResourceSize; limit > 0 {
		if size := resourceSize(payload.EncodedLen(name, info.Size())); size > limit {
			return payload.Record{}, errors.Wrapf(ErrTooLarge, "%s encodes to about %d bytes, limit is %d", name, size, limit)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return payload.Record{}, errors.Wrap(err, "error reading file")
	}
	notes, rec, err := payload.Encode(name, data)
	if err != nil {
		return payload.Record{}, err
	}

	events, err := t.p.Events(ctx, t.cal, t.day)
	if err != nil {
		return payload.Record{}, err
	}
	previous := titled(events, name)

	ev, err := t.p.CreateEvent(ctx, t.cal, provider.Event{Title: name, Notes: notes, Start: t.day})
	if err != nil {
		return payload.Record{}, err
	}
	replaced, err := t.deleteAll(ctx, previous)
	if err != nil {
		log.Warn().Err(err).Str("name", name).Msg("error removing previous versions")
	}
	log.Info().
		Str("name", name).
		Int64("size", rec.Size).
		Str("eventID", ev.ID).
		Int("replaced", replaced).
		Msg("file uploaded")
	return rec, nil
}

// Download writes the most recent version of name into dir and returns the
// written path.
func (t *Transfer) Download(ctx context.Context, name, dir string) (string, error) {
	if err := payload.ValidateName(name); err != nil {
		return "", err
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", errors.Wrapf(ErrBadDestination, "%s", dir)
	}
	events, err := t.p.Events(ctx, t.cal, t.day)
	if err != nil {
		return "", err
	}
	ev, ok := latest(titled(events, name))
	if !ok {
		return "", errors.Wrapf(ErrNoSuchFile, "%s", name)
	}
	rec, data, err := payload.Decode(ev.Notes)
	if err != nil {
		return "", errors.Wrapf(err, "event %s", ev.ID)
	}
	if rec.Name != name {
		return "", errors.Wrapf(payload.ErrMalformed, "event %s titled %q carries %q", ev.ID, name, rec.Name)
	}
	dst := filepath.Join(dir, name)
	if err := writeFile(dst, data); err != nil {
		return "", err
	}
	log.Info().Str("name", name).Int64("size", rec.Size).Str("path", dst).Msg("file downloaded")

	if t.opts.DeleteAfterDownload {
		if err := t.p.DeleteEvent(ctx, t.cal, ev); err != nil {
			return dst, errors.Wrap(err, "file written but event not removed")
		}
	}
	return dst, nil
}

func (t *Transfer) List(ctx context.Context) ([]Entry, error) {
	events, err := t.p.Events(ctx, t.cal, t.day)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(events))
	for _, ev := range events {
		rec, err := payload.DecodeHeader(ev.Notes)
		if err != nil {
			log.Warn().Err(err).
				Str("eventID", ev.ID).
				Str("eventTitle", ev.Title).
				Msg("skipping event with unreadable notes")
			continue
		}
		entries = append(entries, Entry{Record: rec, Title: ev.Title, EventID: ev.ID, Modified: ev.Modified})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Name != entries[j].Name {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].Modified.Before(entries[j].Modified)
	})
	return entries, nil
}

// Cleanup removes the events carrying name, or every event on the transfer
// date when name is empty.
func (t *Transfer) Cleanup(ctx context.Context, name string) (int, error) {
	if name != "" {
		if err := payload.ValidateName(name); err != nil {
			return 0, err
		}
	}
	events, err := t.p.Events(ctx, t.cal, t.day)
	if err != nil {
		return 0, err
	}
	if name != "" {
		events = titled(events, name)
		if len(events) == 0 {
			return 0, errors.Wrapf(ErrNoSuchFile, "%s", name)
		}
	}
	removed, err := t.deleteAll(ctx, events)
	log.Info().Str("name", name).Int("removed", removed).Msg("cleanup finished")
	return removed, err
}

func (t *Transfer) deleteAll(ctx context.Context, events []provider.Event) (int, error) {
	var removed atomic.Int64
	p := pool.New().WithContext(ctx).WithMaxGoroutines(deleteWorkers)
	for _, ev := range events {
		p.Go(func(ctx context.Context) error {
			if err := t.p.DeleteEvent(ctx, t.cal, ev); err != nil {
				return errors.Wrapf(err, "event %s", ev.ID)
			}
			removed.Add(1)
			return nil
		})
	}
	err := p.Wait()
	return int(removed.Load()), err
}

func titled(events []provider.Event, name string) []provider.Event {
	var out []provider.Event
	for _, ev := range events {
		if ev.Title == name {
			out = append(out, ev)
		}
	}
	return out
}

func latest(events []provider.Event) (provider.Event, bool) {
	if len(events) == 0 {
		return provider.Event{}, false
	}
	best := events[0]
	for _, ev := range events[1:] {
		if ev.Modified.After(best.Modified) {
			best = ev
		}
	}
	return best, true
}

// resourceSize estimates the stored object size: notes folded at 75 octets
// per line plus the envelope.
func resourceSize(notesLen int64) int64 {
	return notesLen + notesLen/73*3 + icsOverhead
}

func writeFile(dst string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.part")
	if err != nil {
		return errors.Wrap(err, "error creating temp file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "error writing file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "error syncing file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "error closing file")
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return errors.Wrap(err, "error setting file mode")
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return errors.Wrap(err, "error moving file into place")
	}
	return nil
}

package transfer

import (
	"calxfer/internal/payload"
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/adhocore/gronx"
	"github.com/adhocore/gronx/pkg/tasker"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

const downloadWorkers = 4

// Watcher keeps dir in step with the files published on the transfer date.
type Watcher struct {
	t    *Transfer
	dir  string
	ctx  context.Context
	pool *pool.ContextPool

	mu   sync.Mutex
	seen map[string]string
}

func NewWatcher(ctx context.Context, t *Transfer, dir string) (*Watcher, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, errors.Wrapf(ErrBadDestination, "%s", dir)
	}
	return &Watcher{
		t:    t,
		dir:  dir,
		ctx:  ctx,
		pool: pool.New().WithContext(ctx).WithMaxGoroutines(1),
		seen: make(map[string]string),
	}, nil
}

// Once downloads every file whose content differs from what dir holds and
// returns how many were fetched.
func (w *Watcher) Once(ctx context.Context) (int, error) {
	entries, err := w.t.List(ctx)
	if err != nil {
		return 0, err
	}
	// List orders versions oldest first, so the last one per name wins.
	newest := make(map[string]Entry, len(entries))
	for _, e := range entries {
		// Download looks events up by title
		if e.Title != e.Name {
			log.Warn().
				Str("eventID", e.EventID).
				Str("eventTitle", e.Title).
				Str("name", e.Name).
				Msg("skipping event whose title does not match its file name")
			continue
		}
		newest[e.Name] = e
	}

	var fetched atomic.Int64
	p := pool.New().WithContext(ctx).WithMaxGoroutines(downloadWorkers)
	for _, e := range newest {
		if w.current(e) {
			continue
		}
		p.Go(func(ctx context.Context) error {
			if _, err := w.t.Download(ctx, e.Name, w.dir); err != nil {
				log.Err(err).Str("name", e.Name).Msg("error downloading file")
				return errors.Wrap(err, e.Name)
			}
			w.mark(e.Name, e.Checksum)
			fetched.Add(1)
			return nil
		})
	}
	err = p.Wait()
	return int(fetched.Load()), err
}

// Run polls on the cron schedule until the watcher's context is done.
func (w *Watcher) Run(schedule string) error {
	if !gronx.New().IsValid(schedule) {
		return errors.Errorf("invalid watch schedule %q", schedule)
	}
	w.poll(w.ctx)

	taskr := tasker.New(tasker.Option{})
	taskr.Task(schedule, func(ctx context.Context) (int, error) {
		return w.poll(ctx)
	}, false)
	w.pool.Go(func(ctx context.Context) error {
		taskr.Run()
		return nil
	})
	<-w.ctx.Done()
	taskr.Stop()
	return w.pool.Wait()
}

func (w *Watcher) poll(ctx context.Context) (int, error) {
	n, err := w.Once(ctx)
	if err != nil {
		log.Err(err).Str("task", "watch").Msg("poll failed")
		return 1, err
	}
	if n > 0 {
		log.Info().Str("task", "watch").Int("fetched", n).Msg("poll finished")
	} else {
		log.Debug().Str("task", "watch").Msg("nothing new")
	}
	return 0, nil
}

func (w *Watcher) current(e Entry) bool {
	path := filepath.Join(w.dir, e.Name)
	if _, err := os.Stat(path); err != nil {
		return false
	}
	w.mu.Lock()
	sum, ok := w.seen[e.Name]
	w.mu.Unlock()
	if ok && sum == e.Checksum {
		return true
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	if payload.Checksum(data) != e.Checksum {
		return false
	}
	w.mark(e.Name, e.Checksum)
	return true
}

func (w *Watcher) mark(name, checksum string) {
	w.mu.Lock()
	w.seen[name] = checksum
	w.mu.Unlock()
}

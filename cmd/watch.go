package cmd

import (
	"calxfer/internal/config"
	"calxfer/internal/transfer"
	"context"
	"fmt"
)

func watchCmd(ctx context.Context, e *env, args []string) error {
	t, err := e.transfer(ctx)
	if err != nil {
		return err
	}
	w, err := transfer.NewWatcher(ctx, t, args[0])
	if err != nil {
		return err
	}
	schedule := e.cfg.String(config.WATCH_SCHEDULE)
	fmt.Fprintf(e.out, "watching %q into %s (%s)\n", t.Calendar().Name, args[0], schedule)
	return w.Run(schedule)
}

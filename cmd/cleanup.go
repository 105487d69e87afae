package cmd

import (
	"context"
	"fmt"
)

func cleanupCmd(ctx context.Context, e *env, args []string) error {
	var name string
	if len(args) == 1 {
		name = args[0]
	}
	t, err := e.transfer(ctx)
	if err != nil {
		return err
	}
	n, err := t.Cleanup(ctx, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "removed %d event(s)\n", n)
	return nil
}

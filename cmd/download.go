package cmd

import (
	"context"
	"fmt"
)

func downloadCmd(ctx context.Context, e *env, args []string) error {
	t, err := e.transfer(ctx)
	if err != nil {
		return err
	}
	path, err := t.Download(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "downloaded %s -> %s\n", args[0], path)
	return nil
}

package cmd

import (
	"context"
	"fmt"
)

func uploadCmd(ctx context.Context, e *env, args []string) error {
	t, err := e.transfer(ctx)
	if err != nil {
		return err
	}
	rec, err := t.Upload(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "uploaded %s (%d bytes)\n", rec.Name, rec.Size)
	return nil
}

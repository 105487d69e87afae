package cmd

import (
	"context"
	"fmt"
	"time"
)

func listCmd(ctx context.Context, e *env, _ []string) error {
	t, err := e.transfer(ctx)
	if err != nil {
		return err
	}
	entries, err := t.List(ctx)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		modified := "-"
		if !entry.Modified.IsZero() {
			modified = entry.Modified.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(e.out, "%s\t%d\t%s\t%s\n", entry.Name, entry.Size, entry.Checksum, modified)
	}
	return nil
}

package cmd

import (
	"calxfer/internal/config"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

var errUsage = errors.New("usage")

type command struct {
	usage   string
	minArgs int
	maxArgs int
	run     func(ctx context.Context, env *env, args []string) error
}

type commandRegistry map[string]command

var commands = commandRegistry{
	"upload":   {usage: "upload <path>", minArgs: 1, maxArgs: 1, run: uploadCmd},
	"download": {usage: "download <name> <dir>", minArgs: 2, maxArgs: 2, run: downloadCmd},
	"list":     {usage: "list", run: listCmd},
	"cleanup":  {usage: "cleanup [name]", maxArgs: 1, run: cleanupCmd},
	"watch":    {usage: "watch <dir>", minArgs: 1, maxArgs: 1, run: watchCmd},
}

// env carries what a command needs besides its arguments.
type env struct {
	cfg         *koanf.Koanf
	out         io.Writer
	newProvider providerFactory
}

func Run() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := Execute(ctx, config.Gist(), config.Args(), os.Stdout)
	cancel()
	switch {
	case errors.Is(err, errUsage):
		usage(os.Stderr, err)
		os.Exit(2)
	case err != nil:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func Execute(ctx context.Context, cfg *koanf.Koanf, args []string, out io.Writer) error {
	return execute(ctx, &env{cfg: cfg, out: out, newProvider: providerFromConfig}, args)
}

func execute(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return errors.Wrapf(errUsage, "unknown command %q", args[0])
	}
	rest := args[1:]
	if len(rest) < cmd.minArgs || len(rest) > cmd.maxArgs {
		return errors.Wrapf(errUsage, "%s", cmd.usage)
	}
	return cmd.run(ctx, e, rest)
}

func usage(w io.Writer, err error) {
	if err.Error() != errUsage.Error() {
		fmt.Fprintf(w, "error: %v\n", err)
	}
	help(w)
}

func help(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(w, "Usage: calxfer [flags] <command> [args]")
	fmt.Fprintln(w, "Commands:")
	for _, name := range names {
		fmt.Fprintf(w, "  %s\n", commands[name].usage)
	}
	fmt.Fprintln(w, "Example: calxfer --caldav.url https://dav.example.com upload ./notes.txt")
	fmt.Fprintln(w, "Config params (name|required|default):\v")
	fmt.Fprintln(w, config.Sprint())
}

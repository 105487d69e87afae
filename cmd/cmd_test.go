package cmd

import (
	"bytes"
	"calxfer/internal/config"
	"calxfer/internal/provider"
	"calxfer/internal/transfer"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEnv(t *testing.T, flags ...string) (*env, *bytes.Buffer, *provider.Memory) {
	t.Helper()
	cfg, _, err := config.Load(append([]string{"--provider", "memory"}, flags...))
	require.NoError(t, err)
	mem := provider.NewMemory(provider.Calendar{Name: cfg.String(config.CALENDAR_NAME)})
	out := &bytes.Buffer{}
	return &env{
		cfg: cfg,
		out: out,
		newProvider: func(*koanf.Koanf) (provider.Provider, error) {
			return mem, nil
		},
	}, out, mem
}

func TestUploadListDownloadCleanup(t *testing.T) {
	ctx := context.Background()
	e, out, _ := newTestEnv(t)

	src := filepath.Join(t.TempDir(), "report.txt")
	require.NoError(t, os.WriteFile(src, []byte("quarterly"), 0o600))

	require.NoError(t, execute(ctx, e, []string{"upload", src}))
	assert.Equal(t, "uploaded report.txt (9 bytes)\n", out.String())

	out.Reset()
	require.NoError(t, execute(ctx, e, []string{"list"}))
	fields := strings.Split(strings.TrimSpace(out.String()), "\t")
	require.Len(t, fields, 4)
	assert.Equal(t, "report.txt", fields[0])
	assert.Equal(t, "9", fields[1])
	assert.Len(t, fields[2], 64)

	dir := t.TempDir()
	out.Reset()
	require.NoError(t, execute(ctx, e, []string{"download", "report.txt", dir}))
	assert.Equal(t, "downloaded report.txt -> "+filepath.Join(dir, "report.txt")+"\n", out.String())
	got, err := os.ReadFile(filepath.Join(dir, "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, "quarterly", string(got))

	out.Reset()
	require.NoError(t, execute(ctx, e, []string{"cleanup"}))
	assert.Equal(t, "removed 1 event(s)\n", out.String())

	err = execute(ctx, e, []string{"download", "report.txt", dir})
	assert.True(t, errors.Is(err, transfer.ErrNoSuchFile), "got %v", err)
}

func TestUsageErrors(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEnv(t)

	for _, args := range [][]string{
		nil,
		{"sync"},
		{"upload"},
		{"upload", "a", "b"},
		{"download", "a"},
		{"list", "extra"},
		{"cleanup", "a", "b"},
		{"watch"},
	} {
		err := execute(ctx, e, args)
		assert.Truef(t, errors.Is(err, errUsage), "%v: got %v", args, err)
	}
}

func TestProviderErrorsSurface(t *testing.T) {
	ctx := context.Background()

	e, _, mem := newTestEnv(t)
	mem.Deny()
	err := execute(ctx, e, []string{"list"})
	assert.True(t, errors.Is(err, provider.ErrAccessDenied), "got %v", err)

	e, _, _ = newTestEnv(t, "--calendar.name", "Missing")
	e.newProvider = func(*koanf.Koanf) (provider.Provider, error) {
		return provider.NewMemory(provider.Calendar{Name: "FileTransfer"}), nil
	}
	err = execute(ctx, e, []string{"list"})
	assert.True(t, errors.Is(err, provider.ErrCalendarNotFound), "got %v", err)

	e, _, _ = newTestEnv(t)
	err = execute(ctx, e, []string{"upload", filepath.Join(t.TempDir(), "nope")})
	assert.True(t, errors.Is(err, transfer.ErrFileNotFound), "got %v", err)
}

func TestProviderFromConfig(t *testing.T) {
	cfg, _, err := config.Load([]string{"--provider", "memory"})
	require.NoError(t, err)
	p, err := providerFromConfig(cfg)
	require.NoError(t, err)
	assert.IsType(t, &provider.Memory{}, p)

	cfg, _, err = config.Load([]string{"--provider", "feed", "--feed.url", "https://example.com/a.ics"})
	require.NoError(t, err)
	p, err = providerFromConfig(cfg)
	require.NoError(t, err)
	assert.IsType(t, &provider.Feed{}, p)

	cfg, _, err = config.Load([]string{"--provider", "caldav", "--caldav.url", "https://dav.example.com/"})
	require.NoError(t, err)
	p, err = providerFromConfig(cfg)
	require.NoError(t, err)
	assert.IsType(t, &provider.CalDAV{}, p)

	cfg, _, err = config.Load([]string{"--provider", "caldav"})
	require.NoError(t, err)
	_, err = providerFromConfig(cfg)
	assert.Error(t, err)

	cfg, _, err = config.Load([]string{"--provider", "carrier-pigeon"})
	require.NoError(t, err)
	_, err = providerFromConfig(cfg)
	assert.Error(t, err)
}

func TestCleanupFailurePrintsNoCount(t *testing.T) {
	ctx := context.Background()
	e, out, _ := newTestEnv(t)

	err := execute(ctx, e, []string{"cleanup", "absent.txt"})
	assert.True(t, errors.Is(err, transfer.ErrNoSuchFile), "got %v", err)
	assert.Empty(t, out.String())
}

func TestUsageShowsDetail(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEnv(t)

	var buf bytes.Buffer
	usage(&buf, execute(ctx, e, []string{"sync"}))
	assert.True(t, strings.HasPrefix(buf.String(), `error: unknown command "sync"`), buf.String())
	assert.Contains(t, buf.String(), "Usage: calxfer")

	buf.Reset()
	usage(&buf, execute(ctx, e, []string{"download", "a"}))
	assert.True(t, strings.HasPrefix(buf.String(), "error: download <name> <dir>"), buf.String())

	buf.Reset()
	usage(&buf, execute(ctx, e, nil))
	assert.True(t, strings.HasPrefix(buf.String(), "Usage: calxfer"), buf.String())
}

func TestHelpListsCommands(t *testing.T) {
	var buf bytes.Buffer
	help(&buf)
	for _, cmd := range commands {
		assert.Contains(t, buf.String(), cmd.usage)
	}
}

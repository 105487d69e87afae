package cmd

import (
	"calxfer/internal/config"
	"calxfer/internal/provider"
	"calxfer/internal/transfer"
	"context"

	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

type providerFactory func(cfg *koanf.Koanf) (provider.Provider, error)

func providerFromConfig(cfg *koanf.Koanf) (provider.Provider, error) {
	timeout := cfg.Duration(config.HTTP_TIMEOUT)
	switch name := cfg.String(config.PROVIDER); name {
	case "caldav":
		return provider.NewCalDAV(provider.CalDAVOptions{
			URL:     cfg.String(config.CALDAV_URL),
			User:    cfg.String(config.CALDAV_USER),
			Pass:    cfg.String(config.CALDAV_PASS),
			Timeout: timeout,
		})
	case "feed":
		return provider.NewFeed(provider.FeedOptions{
			URL:     cfg.String(config.FEED_URL),
			User:    cfg.String(config.FEED_USER),
			Pass:    cfg.String(config.FEED_PASS),
			Timeout: timeout,
		})
	case "memory":
		return provider.NewMemory(provider.Calendar{Name: cfg.String(config.CALENDAR_NAME)}), nil
	default:
		return nil, errors.Errorf("unknown provider %q", name)
	}
}

func (e *env) transfer(ctx context.Context) (*transfer.Transfer, error) {
	p, err := e.newProvider(e.cfg)
	if err != nil {
		return nil, err
	}
	date, err := config.Date(e.cfg)
	if err != nil {
		return nil, err
	}
	return transfer.New(ctx, p, transfer.Options{
		Calendar:            e.cfg.String(config.CALENDAR_NAME),
		Date:                date,
		DeleteAfterDownload: e.cfg.Bool(config.DOWNLOAD_DELETE),
	})
}

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
)

var (
	cfg  *koanf.Koanf
	args []string
)

const (
	CONFIG          = "config"
	LOG_LEVEL       = "log.level"
	LOG_FORMAT      = "log.format"
	PROVIDER        = "provider"
	CALENDAR_NAME   = "calendar.name"
	CALENDAR_DATE   = "calendar.date"
	CALDAV_URL      = "caldav.url"
	CALDAV_USER     = "caldav.user"
	CALDAV_PASS     = "caldav.pass"
	FEED_URL        = "feed.url"
	FEED_USER       = "feed.user"
	FEED_PASS       = "feed.pass"
	HTTP_TIMEOUT    = "http.timeout"
	DOWNLOAD_DELETE = "download.delete"
	WATCH_SCHEDULE  = "watch.schedule"
	prefix          = "CALXFER_"
	DateFormat      = "2006-01-02"
)

var defaults = map[string]any{
	LOG_LEVEL:       "info",
	LOG_FORMAT:      "console",
	PROVIDER:        "caldav",
	CALENDAR_NAME:   "FileTransfer",
	CALENDAR_DATE:   "2000-01-01",
	HTTP_TIMEOUT:    "30s",
	DOWNLOAD_DELETE: false,
	WATCH_SCHEDULE:  "* * * * *",
}

func Gist() *koanf.Koanf {
	if cfg == nil {
		ini()
	}
	return cfg
}

// Args returns the positional command line arguments left after flags.
func Args() []string {
	Gist()
	return args
}

func Sprint() string {
	sb := strings.Builder{}
	sb.WriteString("config|optional|-\n")
	sb.WriteString("log.level|optional|info\n")
	sb.WriteString("log.format|optional|console\n")
	sb.WriteString("provider|optional|caldav (caldav, feed, memory)\n")
	sb.WriteString("calendar.name|optional|FileTransfer\n")
	sb.WriteString("calendar.date|optional|2000-01-01\n")
	sb.WriteString("caldav.url|required for caldav|-\n")
	sb.WriteString("caldav.user|optional|-\n")
	sb.WriteString("caldav.pass|optional|-\n")
	sb.WriteString("feed.url|required for feed|-\n")
	sb.WriteString("feed.user|optional|-\n")
	sb.WriteString("feed.pass|optional|-\n")
	sb.WriteString("http.timeout|optional|30s\n")
	sb.WriteString("download.delete|optional|false\n")
	sb.WriteString("watch.schedule|optional|* * * * *\n")
	sb.WriteString("Every key can also be set as " + prefix + "<KEY> with dots replaced by underscores.\n")
	return sb.String()
}

// Load builds the configuration from defaults, an optional TOML file, the
// environment and argv, later sources winning. It returns the positional
// arguments as well.
func Load(argv []string) (*koanf.Koanf, []string, error) {
	k := koanf.New(".")
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, nil, errors.Wrapf(err, "error setting default %s", key)
		}
	}

	f := newFlagSet()
	if err := f.Parse(argv); err != nil {
		return nil, nil, err
	}
	if path, _ := f.GetString(CONFIG); path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, nil, errors.Wrapf(err, "error loading config file %s", path)
		}
	}
	if err := k.Load(env.Provider(prefix, ".", envKey), nil); err != nil {
		return nil, nil, errors.Wrap(err, "error loading environment")
	}
	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, nil, errors.Wrap(err, "error loading flags")
	}
	if _, err := Date(k); err != nil {
		return nil, nil, err
	}
	if _, err := time.ParseDuration(k.String(HTTP_TIMEOUT)); err != nil {
		return nil, nil, errors.Wrapf(err, "invalid %s", HTTP_TIMEOUT)
	}
	return k, f.Args(), nil
}

// Date is the fixed transfer date at midnight UTC.
func Date(k *koanf.Koanf) (time.Time, error) {
	d, err := time.Parse(DateFormat, k.String(CALENDAR_DATE))
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid %s", CALENDAR_DATE)
	}
	return d, nil
}

func newFlagSet() *flag.FlagSet {
	f := flag.NewFlagSet("config", flag.ContinueOnError)
	f.Usage = func() {
		fmt.Fprintln(os.Stderr, f.FlagUsages())
	}
	f.String(CONFIG, "", "path to a TOML config file")
	f.String(LOG_LEVEL, "info", "log level")
	f.String(LOG_FORMAT, "console", "log format (console, json)")
	f.String(PROVIDER, "caldav", "calendar provider (caldav, feed, memory)")
	f.String(CALENDAR_NAME, "FileTransfer", "name of the transfer calendar")
	f.String(CALENDAR_DATE, "2000-01-01", "date holding the transfer events")
	f.String(CALDAV_URL, "", "caldav url")
	f.String(CALDAV_USER, "", "caldav user")
	f.String(CALDAV_PASS, "", "caldav password")
	f.String(FEED_URL, "", "ics feed url")
	f.String(FEED_USER, "", "ics feed user")
	f.String(FEED_PASS, "", "ics feed password")
	f.String(HTTP_TIMEOUT, "30s", "timeout of a single provider request")
	f.Bool(DOWNLOAD_DELETE, false, "delete the event after a successful download")
	f.String(WATCH_SCHEDULE, "* * * * *", "cron expression for watch polling")
	return f
}

func envKey(s string) string {
	return strings.Replace(strings.ToLower(strings.TrimPrefix(s, prefix)), "_", ".", -1)
}

func ini() {
	k, rest, err := Load(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("error loading config")
	}
	cfg, args = k, rest
	if err := SetupLogger(cfg); err != nil {
		log.Fatal().Err(err).Msg("error configuring logger")
	}
	printCfg()
}

func SetupLogger(k *koanf.Koanf) error {
	lvl, err := zerolog.ParseLevel(k.String(LOG_LEVEL))
	if err != nil {
		return errors.Wrap(err, "error parsing log level")
	}
	zerolog.SetGlobalLevel(lvl)
	switch k.String(LOG_FORMAT) {
	case "json":
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	case "console":
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	default:
		return errors.Errorf("unknown log format %q", k.String(LOG_FORMAT))
	}
	return nil
}

func printCfg() {
	log.Debug().Msgf("provider: %s", cfg.String(PROVIDER))
	log.Debug().Msgf("calendar: %s on %s", cfg.String(CALENDAR_NAME), cfg.String(CALENDAR_DATE))
	log.Debug().Msgf("caldav_url: %s", cfg.String(CALDAV_URL))
	log.Debug().Msgf("caldav_user: %s", cfg.String(CALDAV_USER))
	log.Debug().Msgf("caldav_pass: %s", mask(cfg.String(CALDAV_PASS)))
	log.Debug().Msgf("feed_url: %s", cfg.String(FEED_URL))
	log.Debug().Msgf("feed_user: %s", cfg.String(FEED_USER))
	log.Debug().Msgf("feed_pass: %s", mask(cfg.String(FEED_PASS)))
	log.Debug().Msgf("http_timeout: %s", cfg.String(HTTP_TIMEOUT))
	log.Debug().Msgf("watch_schedule: %s", cfg.String(WATCH_SCHEDULE))
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

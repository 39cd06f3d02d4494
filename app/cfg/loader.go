package cfg

import (
	"cmp"
	"fmt"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Database configuration
	DBPath string `long:"db-path" env:"DB_PATH" default:"./feedshed.db" description:"Path to the SQLite database file"`

	// Application configuration
	SourcesDir        string `long:"sources-dir" env:"SOURCES_DIR" default:"./sources" description:"Directory containing source registry files"`
	Port              string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	WorkerCount       int    `long:"worker-count" env:"WORKER_COUNT" default:"5" description:"Number of background workers for source polling"`
	SchedulerInterval int    `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"60" description:"Scheduler tick interval in seconds"`
	BatchSize         int    `long:"batch-size" env:"BATCH_SIZE" default:"30" description:"Maximum number of due sources polled per scheduler tick"`
	APIAccessKey      string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Outbound identity
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"Feedshed/1.0" description:"Product token used in the crawler User-Agent"`
	ServerURL string `long:"server-url" env:"SERVER_URL" default:"https://github.com/feedshed/feedshed" description:"Contact URL embedded in the crawler User-Agent"`

	// Proxy discovery
	ProxyListURL string `long:"proxy-list-url" env:"PROXY_LIST_URL" default:"https://raw.githubusercontent.com/clarketm/proxy-list/master/proxy-list.txt" description:"Plain-text proxy list for discovery"`
	ProxyPageURL string `long:"proxy-page-url" env:"PROXY_PAGE_URL" default:"http://www.workingproxies.org" description:"HTML proxy page used as discovery fallback"`

	SanitizePolicyFile string `long:"sanitize-policy" env:"SANITIZE_POLICY" description:"YAML file overriding the default HTML sanitizer allow-lists (optional)"`

	FetchRate float64 `long:"fetch-rate" env:"FETCH_RATE" default:"2" description:"Outbound fetch rate limit in requests per second"`

	OnlyStalled bool `long:"only-stalled" env:"ONLY_STALLED" description:"Poll only sources without a post in the last 30 days"`

	Debug bool `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:             raw.DBPath,
		SourcesDir:         raw.SourcesDir,
		Port:               raw.Port,
		WorkerCount:        raw.WorkerCount,
		SchedulerInterval:  raw.SchedulerInterval,
		BatchSize:          raw.BatchSize,
		APIAccessKey:       raw.APIAccessKey,
		UserAgent:          raw.UserAgent,
		ServerURL:          raw.ServerURL,
		ProxyListURL:       raw.ProxyListURL,
		ProxyPageURL:       raw.ProxyPageURL,
		SanitizePolicyFile: raw.SanitizePolicyFile,
		FetchRate:          raw.FetchRate,
		OnlyStalled:        raw.OnlyStalled,
		Debug:              raw.Debug,
		Version:            GetVersion(),
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

// Set installs a configuration directly, bypassing flag parsing. Used by tests.
func Set(c *Cfg) {
	globalCfg = c
}

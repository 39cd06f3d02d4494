package cfg

type Cfg struct {
	// Database configuration
	DBPath string

	// Application configuration
	SourcesDir        string
	Port              string
	WorkerCount       int
	SchedulerInterval int
	BatchSize         int
	APIAccessKey      string

	// Outbound identity
	UserAgent string
	ServerURL string

	// Proxy discovery
	ProxyListURL string
	ProxyPageURL string

	// Sanitizer policy override (optional YAML file)
	SanitizePolicyFile string

	// Outbound fetch rate limit, requests per second
	FetchRate float64

	// Restrict polling to sources without a recent post
	OnlyStalled bool

	Debug   bool
	Version string
}

package cfg

import (
	"time"
)

type Cfg struct {
	// Storage configuration
	DBPath      string
	SourcesFile string

	// Application configuration
	Port              string
	BaseUrl           string
	WorkerCount       int
	SchedulerInterval int
	APIAccessKey      string
	Once              bool

	// Outbound fetch configuration
	FetchTimeout     time.Duration
	MaxRedirects     int
	HostRateInterval time.Duration
	MaxBodyBytes     int64

	// Trust cache configuration
	TrustTTL       time.Duration
	TrustCacheSize int

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}

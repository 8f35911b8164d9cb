package crawler

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// Mode selects between synthetic records and real fetching.
type Mode string

// Supported crawl modes.
const (
	ModeFake Mode = "fake"
	ModeReal Mode = "real"
)

// Default values applied to every CrawlConfig at ingress.
const (
	DefaultMaxRecords        = 100
	DefaultRequestTimeout    = 10 * time.Second
	DefaultRetryCount        = 2
	DefaultBackoffBase       = 250 * time.Millisecond
	DefaultGlobalConcurrency = 5
	DefaultPerHostLimit      = 2
)

// CrawlConfig captures the per-crawl knobs supplied with a seed.
type CrawlConfig struct {
	MaxRecords        int
	Mode              Mode
	RequestTimeout    time.Duration
	RetryCount        int
	BackoffBase       time.Duration
	GlobalConcurrency int
	PerHostLimit      int
	Proxy             string
	Headers           map[string]string
}

// DefaultCrawlConfig returns a CrawlConfig with every field at its default.
func DefaultCrawlConfig() CrawlConfig {
	return CrawlConfig{
		MaxRecords:        DefaultMaxRecords,
		Mode:              ModeFake,
		RequestTimeout:    DefaultRequestTimeout,
		RetryCount:        DefaultRetryCount,
		BackoffBase:       DefaultBackoffBase,
		GlobalConcurrency: DefaultGlobalConcurrency,
		PerHostLimit:      DefaultPerHostLimit,
	}
}

// Validate enforces required values and reasonable limits.
func (c CrawlConfig) Validate() error {
	switch c.Mode {
	case ModeFake, ModeReal:
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeFake, ModeReal, c.Mode)
	}
	if c.MaxRecords < 0 {
		return fmt.Errorf("max_profiles must be >= 0")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout_s must be > 0")
	}
	if c.RetryCount < 0 {
		return fmt.Errorf("retries must be >= 0")
	}
	if c.BackoffBase < 0 {
		return fmt.Errorf("backoff_s must be >= 0")
	}
	if c.GlobalConcurrency <= 0 {
		return fmt.Errorf("concurrency must be > 0")
	}
	if c.PerHostLimit <= 0 {
		return fmt.Errorf("per_domain_limit must be > 0")
	}
	if c.Proxy != "" {
		u, err := url.Parse(c.Proxy)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("proxy must be an absolute URL, got %q", c.Proxy)
		}
	}
	return nil
}

// crawlConfigWire is the JSON shape of CrawlConfig; durations travel as
// fractional seconds.
type crawlConfigWire struct {
	MaxRecords      int               `json:"max_profiles"`
	Mode            Mode              `json:"mode"`
	RequestTimeoutS float64           `json:"request_timeout_s"`
	Retries         int               `json:"retries"`
	BackoffS        float64           `json:"backoff_s"`
	Concurrency     int               `json:"concurrency"`
	PerDomainLimit  int               `json:"per_domain_limit"`
	Proxy           string            `json:"proxy,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
}

func (c CrawlConfig) toWire() crawlConfigWire {
	return crawlConfigWire{
		MaxRecords:      c.MaxRecords,
		Mode:            c.Mode,
		RequestTimeoutS: c.RequestTimeout.Seconds(),
		Retries:         c.RetryCount,
		BackoffS:        c.BackoffBase.Seconds(),
		Concurrency:     c.GlobalConcurrency,
		PerDomainLimit:  c.PerHostLimit,
		Proxy:           c.Proxy,
		Headers:         c.Headers,
	}
}

// MarshalJSON encodes the config using the ingress field names.
func (c CrawlConfig) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(c.toWire())
	if err != nil {
		return nil, fmt.Errorf("marshal crawl config: %w", err)
	}
	return data, nil
}

// UnmarshalJSON decodes on top of the receiver's current values, so decoding
// into DefaultCrawlConfig() leaves omitted fields at their defaults.
func (c *CrawlConfig) UnmarshalJSON(data []byte) error {
	w := c.toWire()
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("unmarshal crawl config: %w", err)
	}
	*c = CrawlConfig{
		MaxRecords:        w.MaxRecords,
		Mode:              w.Mode,
		RequestTimeout:    secondsToDuration(w.RequestTimeoutS),
		RetryCount:        w.Retries,
		BackoffBase:       secondsToDuration(w.BackoffS),
		GlobalConcurrency: w.Concurrency,
		PerHostLimit:      w.PerDomainLimit,
		Proxy:             w.Proxy,
		Headers:           w.Headers,
	}
	return nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

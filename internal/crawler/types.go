package crawler

import (
	"net/http"
	"time"
)

// SeedType names how a seed value should be resolved into a source URL.
type SeedType string

// Seed types understood by the source adapter. Any other value is resolved
// through a configured URL template.
const (
	SeedTypeURL  SeedType = "url"
	SeedTypeTag  SeedType = "tag"
	SeedTypeUser SeedType = "user"
)

// SeedDescriptor is the immutable input of one crawl invocation.
type SeedDescriptor struct {
	Type   SeedType    `json:"seed_type"`
	Value  string      `json:"seed_value"`
	Config CrawlConfig `json:"crawl_config"`
}

// Image is one picture attached to a record.
type Image struct {
	URL    string `json:"url"`
	Width  *int   `json:"w"`
	Height *int   `json:"h"`
}

// RawRecord is a normalized unit of crawled content prior to enrichment.
// Its JSON form is the payload persisted by store gateways.
type RawRecord struct {
	Identity         string   `json:"username"`
	Followers        int      `json:"followers"`
	Following        int      `json:"following"`
	IsPrivate        bool     `json:"is_private"`
	Bio              string   `json:"bio"`
	Captions         []string `json:"captions"`
	Images           []Image  `json:"images"`
	LinkDomains      []string `json:"link_domains"`
	RecentActivityTS *string  `json:"recent_activity_ts"`
}

// Fingerprint is the hex SHA-256 digest of a record's canonical projection.
type Fingerprint string

// FeatureSet holds the lightweight attributes derived from a RawRecord.
type FeatureSet struct {
	HasLink          bool       `json:"has_link"`
	RecentActivityAt *time.Time `json:"recent_activity_at"`
	BioTokens        []string   `json:"bio_tokens"`
	KeywordHits      []string   `json:"keyword_hits"`
	CaptionCount     int        `json:"caption_count"`
	HasImages        bool       `json:"has_images"`
	LinkDomainsCount int        `json:"link_domains_count"`
}

// UpsertRequest carries everything a store gateway needs to persist a record.
// Expected, when set, is the fingerprint the caller read before deciding to
// write; the store rejects the write with ErrConflict if it no longer matches.
// A non-nil pointer to an empty fingerprint means "no row existed".
type UpsertRequest struct {
	Record      RawRecord
	Fingerprint Fingerprint
	Expected    *Fingerprint
	Features    FeatureSet
}

// TransportRequest is a single HTTP attempt issued by the fetch gateway.
type TransportRequest struct {
	URL     string
	Headers http.Header
	Timeout time.Duration
}

// TransportResponse is the raw result of one HTTP attempt.
type TransportResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// QueueItem wraps a crawl job ready to run.
type QueueItem struct {
	JobID     string
	Seed      SeedDescriptor
	Submitted time.Time
	// Trace carries the submitter's trace context in text-map form.
	Trace map[string]string
}

package domain

import "time"

// Status is the liveness state consumers report for a service.
type Status string

const (
	StatusOnline  Status = "Online"
	StatusOffline Status = "Offline"
)

// MetricResponseTime is the only metric kind the registry aggregates.
const MetricResponseTime = "response_time"

// Descriptor is the registry record for one service instance.
//
// A Descriptor is uniquely identified by its ID; Endpoint is unique too and is
// what an announcing service is matched on when it re-registers.
type Descriptor struct {
	// ─────────────────────────────
	// Identity
	// ─────────────────────────────

	// ID is assigned by the registry on first save.
	ID string `json:"id"`

	// Type is the service type name consumers query for.
	// Example: UserService
	Type string `json:"type"`

	// Name is a free-form display name.
	Name string `json:"name,omitempty"`

	// Endpoint is the base URL of the service.
	// Example: http://10.0.0.12:8080
	Endpoint string `json:"endpoint"`

	// ─────────────────────────────
	// Locators (relative to Endpoint)
	// ─────────────────────────────

	HealthCheckRoute string `json:"healthCheckRoute,omitempty"`
	SchemaRoute      string `json:"schemaRoute,omitempty"`
	DocsPath         string `json:"docsPath,omitempty"`

	// ─────────────────────────────
	// Deployment metadata
	// ─────────────────────────────

	Region  string `json:"region,omitempty"`
	Stage   string `json:"stage,omitempty"`
	Version string `json:"version,omitempty"`

	// ─────────────────────────────
	// Liveness & metrics
	// ─────────────────────────────

	Status Status `json:"status"`

	// RTimes holds the most recent response-time samples, oldest first.
	// It never holds more than WindowSize entries.
	RTimes []float64 `json:"rtimes"`

	// AvgTime is the arithmetic mean of RTimes.
	AvgTime float64 `json:"avgTime"`

	// Timestamp is when the service announced itself.
	Timestamp time.Time `json:"timestamp"`

	// UpdatedAt is set by the registry on every write.
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy so callers can mutate without racing the owner.
func (d *Descriptor) Clone() *Descriptor {
	if d == nil {
		return nil
	}
	c := *d
	if d.RTimes != nil {
		c.RTimes = append([]float64(nil), d.RTimes...)
	}
	return &c
}

// MatchesAny reports whether the descriptor's type is one of types.
func (d *Descriptor) MatchesAny(types []string) bool {
	for _, t := range types {
		if d.Type == t {
			return true
		}
	}
	return false
}

// RecordResponseTime pushes a sample into the rolling window and refreshes AvgTime.
func (d *Descriptor) RecordResponseTime(v float64) {
	d.RTimes = PushSample(d.RTimes, v)
	if avg, ok := Mean(d.RTimes); ok {
		d.AvgTime = avg
	}
}

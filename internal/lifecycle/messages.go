package lifecycle

import "github.com/MrSnakeDoc/discovery/internal/domain"

// Inbound event names.
const (
	EventSubscribe = "subscribe"
	EventInit      = "init"
	EventOnline    = "online"
	EventOffline   = "offline"
	EventMetrics   = "metrics"
)

type SubscribeRequest struct {
	Types []string `json:"types"`
}

// InitRequest announces a connection. Types are pushed back as a snapshot;
// Descriptor, when present, registers the caller as a service.
type InitRequest struct {
	Types      []string           `json:"types"`
	Descriptor *domain.Descriptor `json:"descriptor,omitempty"`
}

type StatusRequest struct {
	ServiceID string `json:"serviceId"`
}

type MetricsRequest struct {
	ServiceID string  `json:"serviceId"`
	Type      string  `json:"type"`
	Value     float64 `json:"value"`
}

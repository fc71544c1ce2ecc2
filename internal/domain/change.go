package domain

import "fmt"

// ChangeKind classifies a registry mutation.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
	ChangeUpdated ChangeKind = "updated"
)

// Outbound event names pushed to connections.
const (
	EventServiceInit    = "service.init"
	EventServiceAdded   = "service.added"
	EventServiceRemoved = "service.removed"
	EventServiceUpdated = "service.updated"
	EventRefresh        = "refresh_event"
	EventRejected       = "rejected"
)

// EventName maps a change kind to the transport event carrying it.
func (k ChangeKind) EventName() (string, error) {
	switch k {
	case ChangeAdded:
		return EventServiceAdded, nil
	case ChangeRemoved:
		return EventServiceRemoved, nil
	case ChangeUpdated:
		return EventServiceUpdated, nil
	default:
		return "", fmt.Errorf("unknown change kind %q", string(k))
	}
}

// ChangeEvent is produced by a registry watch.
type ChangeEvent struct {
	Kind       ChangeKind  `json:"kind"`
	Descriptor *Descriptor `json:"descriptor"`
}

// RefreshNotice tells other connections that registry state changed.
type RefreshNotice struct {
	ServiceID string `json:"serviceId"`
}

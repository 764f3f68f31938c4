package enums

import "fmt"

// EventName identifies the commerce action a tracking event records.
type EventName string

const (
	EventNamePurchase EventName = "Purchase"
	EventNameRefund   EventName = "Refund"
)

var validEventNames = []EventName{
	EventNamePurchase,
	EventNameRefund,
}

// IsValid reports whether the value is one of the event names the engine acts on.
// Other names are stored verbatim but never matched against.
func (e EventName) IsValid() bool {
	for _, candidate := range validEventNames {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEventName converts the raw string to EventName.
func ParseEventName(value string) (EventName, error) {
	for _, candidate := range validEventNames {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event name %q", value)
}

// EventSource describes where a tracking event was observed.
type EventSource string

const (
	EventSourceBrowser EventSource = "browser"
	EventSourceServer  EventSource = "server"
	EventSourceShopify EventSource = "shopify"
)

var validEventSources = []EventSource{
	EventSourceBrowser,
	EventSourceServer,
	EventSourceShopify,
}

// IsValid reports whether the value matches the canonical event source enum.
func (s EventSource) IsValid() bool {
	for _, candidate := range validEventSources {
		if candidate == s {
			return true
		}
	}
	return false
}

// Rank orders sources by how authoritative their purchase record is when the
// same order was observed more than once.
func (s EventSource) Rank() int {
	switch s {
	case EventSourceShopify:
		return 3
	case EventSourceServer:
		return 2
	case EventSourceBrowser:
		return 1
	default:
		return 0
	}
}

// ParseEventSource converts the raw string to EventSource.
func ParseEventSource(value string) (EventSource, error) {
	for _, candidate := range validEventSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event source %q", value)
}

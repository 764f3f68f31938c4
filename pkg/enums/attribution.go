package enums

import "fmt"

// AttributionMethod records how an event's entity ids were obtained.
type AttributionMethod string

const (
	AttributionMethodDeterministic AttributionMethod = "deterministic"
	AttributionMethodModeled       AttributionMethod = "modeled"
	AttributionMethodRetroactive   AttributionMethod = "retroactive"
	AttributionMethodNone          AttributionMethod = "none"
)

var validAttributionMethods = []AttributionMethod{
	AttributionMethodDeterministic,
	AttributionMethodModeled,
	AttributionMethodRetroactive,
	AttributionMethodNone,
}

// IsValid reports whether the value matches the canonical attribution method enum.
func (m AttributionMethod) IsValid() bool {
	for _, candidate := range validAttributionMethods {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseAttributionMethod converts the raw string to AttributionMethod.
func ParseAttributionMethod(value string) (AttributionMethod, error) {
	for _, candidate := range validAttributionMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid attribution method %q", value)
}

// AttributionStrategy names the matcher that produced a candidate.
type AttributionStrategy string

const (
	AttributionStrategyDirect        AttributionStrategy = "direct"
	AttributionStrategySignalMatch   AttributionStrategy = "signal_match"
	AttributionStrategyTimeProximity AttributionStrategy = "time_proximity"
	AttributionStrategyRemap         AttributionStrategy = "remap"
)

// SignalType is one of the identity signals usable for matching.
type SignalType string

const (
	SignalClickID   SignalType = "click_id"
	SignalFBC       SignalType = "fbc"
	SignalFBP       SignalType = "fbp"
	SignalEmailHash SignalType = "email_hash"
)

// MatchSignals lists the matchable signals in priority order.
var MatchSignals = []SignalType{
	SignalClickID,
	SignalFBC,
	SignalFBP,
	SignalEmailHash,
}

// IsValid reports whether the value is a matchable signal.
func (s SignalType) IsValid() bool {
	for _, candidate := range MatchSignals {
		if candidate == s {
			return true
		}
	}
	return false
}

// Column returns the tracking_events column holding the signal.
func (s SignalType) Column() string {
	return string(s)
}

// UnmappedReason classifies why a purchase carries no entity ids.
type UnmappedReason string

const (
	UnmappedReasonNoSignal          UnmappedReason = "no_signal"
	UnmappedReasonUTMOnly           UnmappedReason = "utm_only"
	UnmappedReasonSignalOnly        UnmappedReason = "signal_only"
	UnmappedReasonFirstTouchOnly    UnmappedReason = "first_touch_only"
	UnmappedReasonUnresolvedMapping UnmappedReason = "unresolved_mapping"
)

// UnmappedReasons lists every reason in classification order.
var UnmappedReasons = []UnmappedReason{
	UnmappedReasonNoSignal,
	UnmappedReasonUTMOnly,
	UnmappedReasonSignalOnly,
	UnmappedReasonFirstTouchOnly,
	UnmappedReasonUnresolvedMapping,
}

// EntityLevel selects which advertising entity id to aggregate on.
type EntityLevel string

const (
	EntityLevelCampaign EntityLevel = "campaign"
	EntityLevelAdSet    EntityLevel = "adset"
	EntityLevelAd       EntityLevel = "ad"
)

var validEntityLevels = []EntityLevel{
	EntityLevelCampaign,
	EntityLevelAdSet,
	EntityLevelAd,
}

// IsValid reports whether the value matches the canonical entity level enum.
func (l EntityLevel) IsValid() bool {
	for _, candidate := range validEntityLevels {
		if candidate == l {
			return true
		}
	}
	return false
}

// ParseEntityLevel converts the raw string to EntityLevel.
func ParseEntityLevel(value string) (EntityLevel, error) {
	for _, candidate := range validEntityLevels {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid entity level %q", value)
}

package attribution

import (
	"github.com/angelmondragon/attribution-backend/pkg/config"
	"github.com/angelmondragon/attribution-backend/pkg/enums"
)

// Policy gates whether a fallback candidate is trusted enough to persist. The
// floor is chosen by the strongest signal that matched.
type Policy struct {
	ClickIDFloor    float64
	FBCFloor        float64
	WeakSignalFloor float64
	GlobalFloor     float64
}

// DefaultPolicy returns the empirically tuned floors.
func DefaultPolicy() Policy {
	return Policy{
		ClickIDFloor:    0.20,
		FBCFloor:        0.22,
		WeakSignalFloor: 0.28,
		GlobalFloor:     0.25,
	}
}

// PolicyFromConfig reads floors from config, keeping defaults for unset values.
func PolicyFromConfig(cfg config.AttributionConfig) Policy {
	policy := DefaultPolicy()
	if cfg.ClickIDFloor > 0 {
		policy.ClickIDFloor = cfg.ClickIDFloor
	}
	if cfg.FBCFloor > 0 {
		policy.FBCFloor = cfg.FBCFloor
	}
	if cfg.WeakSignalFloor > 0 {
		policy.WeakSignalFloor = cfg.WeakSignalFloor
	}
	if cfg.GlobalFloor > 0 {
		policy.GlobalFloor = cfg.GlobalFloor
	}
	return policy
}

// Accept reports whether the candidate may be written.
func (p Policy) Accept(c *Candidate) bool {
	if c == nil || c.Entities.Empty() {
		return false
	}
	return c.Confidence >= p.floorFor(c)
}

func (p Policy) floorFor(c *Candidate) float64 {
	switch {
	case c.HasSignal(enums.SignalClickID):
		return p.ClickIDFloor
	case c.HasSignal(enums.SignalFBC):
		return p.FBCFloor
	case c.HasSignal(enums.SignalFBP), c.HasSignal(enums.SignalEmailHash):
		return p.WeakSignalFloor
	default:
		return p.GlobalFloor
	}
}

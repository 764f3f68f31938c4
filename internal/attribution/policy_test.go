package attribution

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/angelmondragon/attribution-backend/internal/signals"
	"github.com/angelmondragon/attribution-backend/pkg/config"
	"github.com/angelmondragon/attribution-backend/pkg/enums"
)

func candidateWith(confidence float64, matched ...enums.SignalType) *Candidate {
	return &Candidate{
		Entities:       signals.EntityIDs{CampaignID: "c-1"},
		Confidence:     confidence,
		MatchedSignals: matched,
	}
}

func TestPolicyFloors(t *testing.T) {
	policy := DefaultPolicy()

	cases := []struct {
		name   string
		c      *Candidate
		accept bool
	}{
		{"click id at floor", candidateWith(0.20, enums.SignalClickID), true},
		{"click id below floor", candidateWith(0.199, enums.SignalClickID), false},
		{"click id wins over weaker signals", candidateWith(0.21, enums.SignalClickID, enums.SignalFBP), true},
		{"fbc below floor", candidateWith(0.21, enums.SignalFBC), false},
		{"fbc at floor", candidateWith(0.22, enums.SignalFBC), true},
		{"fbp below weak floor", candidateWith(0.27, enums.SignalFBP), false},
		{"email at weak floor", candidateWith(0.28, enums.SignalEmailHash), true},
		{"no signals uses global floor", candidateWith(0.25), true},
		{"no signals below global floor", candidateWith(0.249), false},
		{"nil candidate", nil, false},
		{"no entities", &Candidate{Confidence: 0.98, MatchedSignals: []enums.SignalType{enums.SignalClickID}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.accept, policy.Accept(tc.c))
		})
	}
}

func TestPolicyFromConfigKeepsDefaultsForUnset(t *testing.T) {
	policy := PolicyFromConfig(config.AttributionConfig{ClickIDFloor: 0.4})
	assert.Equal(t, 0.4, policy.ClickIDFloor)
	assert.Equal(t, 0.22, policy.FBCFloor)
	assert.Equal(t, 0.25, policy.GlobalFloor)
}

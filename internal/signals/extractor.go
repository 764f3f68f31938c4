package signals

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/angelmondragon/attribution-backend/pkg/enums"
)

// Input is the source-agnostic material the extractor reads. Slices are in
// priority order; empty entries are skipped.
type Input struct {
	URLs       []string
	Attributes []Attribute
	Emails     []string
	Phones     []string
	IP         string
	UserAgent  string
}

// Signals are the normalized identity values stored on a tracking event.
type Signals struct {
	ClickID   string
	FBC       string
	FBP       string
	EmailHash string
	PhoneHash string
	IPHash    string
	UserAgent string
}

// Get returns the value of a matchable signal.
func (s Signals) Get(signal enums.SignalType) string {
	switch signal {
	case enums.SignalClickID:
		return s.ClickID
	case enums.SignalFBC:
		return s.FBC
	case enums.SignalFBP:
		return s.FBP
	case enums.SignalEmailHash:
		return s.EmailHash
	default:
		return ""
	}
}

// Present returns the matchable signals carrying a value, in priority order.
func (s Signals) Present() map[enums.SignalType]string {
	out := map[enums.SignalType]string{}
	for _, signal := range enums.MatchSignals {
		if value := s.Get(signal); value != "" {
			out[signal] = value
		}
	}
	return out
}

// HasAny reports whether any matchable signal is present.
func (s Signals) HasAny() bool {
	return len(s.Present()) > 0
}

// EntityIDs identifies the advertising entities an event is attributed to.
type EntityIDs struct {
	CampaignID string `json:"campaign_id,omitempty"`
	AdSetID    string `json:"adset_id,omitempty"`
	AdID       string `json:"ad_id,omitempty"`
}

// Empty reports whether no entity id is set.
func (e EntityIDs) Empty() bool {
	return e.CampaignID == "" && e.AdSetID == "" && e.AdID == ""
}

// Key identifies the (campaign, ad set, ad) triple.
func (e EntityIDs) Key() string {
	return e.CampaignID + "|" + e.AdSetID + "|" + e.AdID
}

// Extraction is everything the extractor derives from one order.
type Extraction struct {
	Signals    Signals
	UTM        UTM
	FirstTouch FirstTouch
	Direct     EntityIDs
}

// Extractor turns raw order material into normalized signals.
type Extractor struct {
	now func() time.Time
}

// NewExtractor builds an extractor. now stamps synthesized fbc values and
// defaults to time.Now.
func NewExtractor(now func() time.Time) *Extractor {
	if now == nil {
		now = time.Now
	}
	return &Extractor{now: now}
}

// ExtractOrder runs the extractor over a commerce order record.
func (e *Extractor) ExtractOrder(order Order) Extraction {
	return e.Extract(order.Input())
}

// Extract derives signals, UTM fields, first-touch attributes and direct
// entity ids from in.
func (e *Extractor) Extract(in Input) Extraction {
	urls := make([][]Param, 0, len(in.URLs))
	for _, raw := range in.URLs {
		if params := ParseQuery(raw); len(params) > 0 {
			urls = append(urls, params)
		}
	}
	fromURL := func(field Field) string {
		aliases := URLAliases.Keys(field)
		for _, params := range urls {
			if value := lookupParams(params, aliases); value != "" {
				return value
			}
		}
		return ""
	}
	fromAttrs := func(field Field) string {
		return lookupAttributes(in.Attributes, AttributeAliases.Keys(field))
	}
	firstOf := func(values ...string) string {
		for _, value := range values {
			if value != "" {
				return value
			}
		}
		return ""
	}

	observedFBC := firstOf(fromAttrs(FieldFBC), fromURL(FieldFBC))
	clickID := firstOf(
		fromAttrs(FieldClickID),
		fromAttrs(FieldFirstTouchClickID),
		fromURL(FieldClickID),
		ClickIDFromFBC(observedFBC),
	)
	fbc := observedFBC
	if fbc == "" && clickID != "" {
		fbc = fmt.Sprintf("fb.1.%d.%s", e.now().Unix(), clickID)
	}

	email := firstOf(append(append([]string{}, in.Emails...), fromAttrs(FieldEmail))...)
	phone := firstOf(in.Phones...)

	out := Extraction{
		Signals: Signals{
			ClickID:   clickID,
			FBC:       fbc,
			FBP:       firstOf(fromAttrs(FieldFBP), fromURL(FieldFBP)),
			EmailHash: HashEmail(email),
			PhoneHash: HashPhone(phone),
			IPHash:    HashValue(in.IP),
			UserAgent: strings.TrimSpace(in.UserAgent),
		},
		UTM: UTM{
			Campaign: firstOf(fromAttrs(FieldUTMCampaign), fromURL(FieldUTMCampaign)),
			Medium:   firstOf(fromAttrs(FieldUTMMedium), fromURL(FieldUTMMedium)),
			Content:  firstOf(fromAttrs(FieldUTMContent), fromURL(FieldUTMContent)),
			Source:   firstOf(fromAttrs(FieldUTMSource), fromURL(FieldUTMSource)),
		},
		FirstTouch: FirstTouch{
			ClickID:     fromAttrs(FieldFirstTouchClickID),
			UTMCampaign: fromAttrs(FieldFirstUTMCampaign),
			UTMSource:   fromAttrs(FieldFirstUTMSource),
			Landing:     fromAttrs(FieldFirstLanding),
		},
		Direct: EntityIDs{
			CampaignID: firstOf(fromURL(FieldCampaignID), fromAttrs(FieldCampaignID)),
			AdSetID:    firstOf(fromURL(FieldAdSetID), fromAttrs(FieldAdSetID)),
			AdID:       firstOf(fromURL(FieldAdID), fromAttrs(FieldAdID)),
		},
	}
	return out
}

// ClickIDFromFBC returns the click id embedded in an fbc cookie value
// (fb.<subdomain>.<timestamp>.<click id>), or "" when the value is not fbc-shaped.
func ClickIDFromFBC(fbc string) string {
	parts := strings.Split(strings.TrimSpace(fbc), ".")
	if len(parts) < 4 || parts[0] != "fb" {
		return ""
	}
	return strings.Join(parts[3:], ".")
}

// HashEmail returns the SHA-256 hex digest of the trimmed, lower-cased email.
func HashEmail(email string) string {
	return HashValue(strings.ToLower(strings.TrimSpace(email)))
}

// HashPhone hashes the digits of a phone number.
func HashPhone(phone string) string {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, phone)
	return HashValue(digits)
}

// HashValue returns the SHA-256 hex digest of the trimmed value, or "" for empty input.
func HashValue(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

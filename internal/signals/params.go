package signals

import (
	"net/url"
	"strings"
)

// Field names a canonical value the extractor looks up by alias.
type Field string

const (
	FieldClickID           Field = "click_id"
	FieldFirstTouchClickID Field = "first_touch_click_id"
	FieldFBC               Field = "fbc"
	FieldFBP               Field = "fbp"
	FieldEmail             Field = "email"
	FieldUTMCampaign       Field = "utm_campaign"
	FieldUTMMedium         Field = "utm_medium"
	FieldUTMContent        Field = "utm_content"
	FieldUTMSource         Field = "utm_source"
	FieldFirstUTMCampaign  Field = "first_utm_campaign"
	FieldFirstUTMSource    Field = "first_utm_source"
	FieldFirstLanding      Field = "first_landing"
	FieldCampaignID        Field = "campaign_id"
	FieldAdSetID           Field = "adset_id"
	FieldAdID              Field = "ad_id"
)

// AliasTable is an ordered list of canonical fields and the keys that may carry them.
type AliasTable []AliasEntry

// AliasEntry lists alias keys for one canonical field in priority order.
type AliasEntry struct {
	Field   Field
	Aliases []string
}

// Keys returns the aliases registered for field.
func (t AliasTable) Keys(field Field) []string {
	for _, entry := range t {
		if entry.Field == field {
			return entry.Aliases
		}
	}
	return nil
}

// URLAliases are the query parameter names recognized on landing and referrer URLs.
var URLAliases = AliasTable{
	{FieldClickID, []string{"fbclid"}},
	{FieldFBC, []string{"fbc", "_fbc"}},
	{FieldFBP, []string{"fbp", "_fbp"}},
	{FieldUTMCampaign, []string{"utm_campaign"}},
	{FieldUTMMedium, []string{"utm_medium"}},
	{FieldUTMContent, []string{"utm_content"}},
	{FieldUTMSource, []string{"utm_source"}},
	{FieldCampaignID, []string{"campaign_id", "fb_campaign_id", "hsa_cam", "utm_campaign_id"}},
	{FieldAdSetID, []string{"adset_id", "ad_set_id", "fb_adset_id", "hsa_grp", "utm_adset_id"}},
	{FieldAdID, []string{"ad_id", "fb_ad_id", "hsa_ad", "utm_ad_id"}},
}

// AttributeAliases are the order metadata names recognized by the extractor.
var AttributeAliases = AliasTable{
	{FieldClickID, []string{"fbclid", "_fbclid", "click_id", "clickid", "fb_click_id"}},
	{FieldFirstTouchClickID, []string{"ft_fbclid", "first_fbclid", "first_touch_fbclid", "_ft_fbclid"}},
	{FieldFBC, []string{"fbc", "_fbc", "fb_fbc"}},
	{FieldFBP, []string{"fbp", "_fbp", "fb_fbp"}},
	{FieldEmail, []string{"email", "customer_email", "_email"}},
	{FieldUTMCampaign, []string{"utm_campaign", "_utm_campaign"}},
	{FieldUTMMedium, []string{"utm_medium", "_utm_medium"}},
	{FieldUTMContent, []string{"utm_content", "_utm_content"}},
	{FieldUTMSource, []string{"utm_source", "_utm_source"}},
	{FieldFirstUTMCampaign, []string{"first_utm_campaign", "ft_utm_campaign"}},
	{FieldFirstUTMSource, []string{"first_utm_source", "ft_utm_source"}},
	{FieldFirstLanding, []string{"first_landing", "ft_landing", "first_touch_landing", "landing_page"}},
	{FieldCampaignID, []string{"campaign_id", "fb_campaign_id", "_campaign_id", "hsa_cam"}},
	{FieldAdSetID, []string{"adset_id", "ad_set_id", "fb_adset_id", "_adset_id", "hsa_grp"}},
	{FieldAdID, []string{"ad_id", "fb_ad_id", "_ad_id", "hsa_ad"}},
}

// Param is one decoded query parameter with its key lower-cased.
type Param struct {
	Key   string
	Value string
}

// ParseQuery extracts parameters from a full URL, a path with a query string or
// a bare query string. It never fails: malformed escapes keep their raw text.
func ParseQuery(raw string) []Param {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if idx := strings.IndexByte(raw, '#'); idx >= 0 {
		raw = raw[:idx]
	}
	if idx := strings.IndexByte(raw, '?'); idx >= 0 {
		raw = raw[idx+1:]
	} else if !strings.Contains(raw, "=") {
		return nil
	}

	params := []Param{}
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		key = strings.ToLower(decodeComponent(key))
		if key == "" {
			continue
		}
		params = append(params, Param{Key: key, Value: decodeComponent(value)})
	}
	return params
}

// decodeComponent turns '+' into spaces and percent-decodes, returning the raw
// input when the escape sequence is malformed.
func decodeComponent(raw string) string {
	spaced := strings.ReplaceAll(raw, "+", " ")
	decoded, err := url.PathUnescape(spaced)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return strings.TrimSpace(decoded)
}

// lookupParams returns the first non-empty value whose key matches an alias.
// Aliases are tried in order, so earlier aliases win within one URL.
func lookupParams(params []Param, aliases []string) string {
	for _, alias := range aliases {
		alias = strings.ToLower(alias)
		for _, param := range params {
			if param.Key == alias && param.Value != "" {
				return param.Value
			}
		}
	}
	return ""
}

// lookupAttributes returns the first non-empty attribute value matching an alias.
func lookupAttributes(attrs []Attribute, aliases []string) string {
	for _, alias := range aliases {
		for _, attr := range attrs {
			if strings.EqualFold(attr.Name.String(), alias) {
				if value := attr.Value.String(); value != "" {
					return value
				}
			}
		}
	}
	return ""
}

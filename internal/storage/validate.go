package storage

import (
	"net/url"
	"strings"

	"hearth/internal/notify"
)

// maxPerHourSuspicious flags likely misconfiguration without rejecting it.
const maxPerHourSuspicious = 100

// ValidationError rejects a write at the store boundary with itemized
// reasons. Nothing is persisted when it is returned.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Reasons, "; ")
}

// ValidateSubscription checks the invariants required before persistence:
// secure transport scheme and both credential keys present.
func ValidateSubscription(s notify.Subscription) error {
	var reasons []string
	if strings.TrimSpace(s.RecipientID) == "" {
		reasons = append(reasons, "recipient_id is required")
	}
	u, err := url.Parse(strings.TrimSpace(s.Endpoint))
	switch {
	case err != nil || u.Host == "":
		reasons = append(reasons, "endpoint is not a valid URL")
	case u.Scheme != "https":
		reasons = append(reasons, "endpoint must use https")
	}
	if strings.TrimSpace(s.P256dh) == "" {
		reasons = append(reasons, "p256dh key is empty")
	}
	if strings.TrimSpace(s.Auth) == "" {
		reasons = append(reasons, "auth key is empty")
	}
	if len(reasons) > 0 {
		return &ValidationError{Reasons: reasons}
	}
	return nil
}

// ValidatePreferences checks hour bounds and the hourly cap. It returns the
// list of non-fatal warnings (e.g. a suspiciously large max_per_hour) along
// with a hard error, if any.
func ValidatePreferences(p notify.Preferences) (warnings []string, err error) {
	var reasons []string
	if strings.TrimSpace(p.RecipientID) == "" {
		reasons = append(reasons, "recipient_id is required")
	}
	if p.QuietStart != nil && (*p.QuietStart < 0 || *p.QuietStart > 23) {
		reasons = append(reasons, "quiet_hours_start must be between 0 and 23")
	}
	if p.QuietEnd != nil && (*p.QuietEnd < 0 || *p.QuietEnd > 23) {
		reasons = append(reasons, "quiet_hours_end must be between 0 and 23")
	}
	if (p.QuietStart == nil) != (p.QuietEnd == nil) {
		reasons = append(reasons, "quiet hours need both start and end, or neither")
	}
	if p.MaxPerHour < 1 {
		reasons = append(reasons, "max_per_hour must be >= 1")
	}
	for cat := range p.Enabled {
		if !cat.Valid() {
			reasons = append(reasons, "unknown category: "+string(cat))
		}
	}
	if len(reasons) > 0 {
		return nil, &ValidationError{Reasons: reasons}
	}
	if p.MaxPerHour > maxPerHourSuspicious {
		warnings = append(warnings, "max_per_hour is unusually high; check for misconfiguration")
	}
	return warnings, nil
}

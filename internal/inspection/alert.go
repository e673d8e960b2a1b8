package inspection

import "strings"

// alertLabels is the alert vocabulary. Matching is exact after lower-casing;
// any other label, including ones the producer may add later, does not alert.
var alertLabels = map[string]struct{}{
	"low":         {},
	"full":        {},
	"tap_missing": {},
}

// IsAlerting reports whether label marks a sub-check as abnormal.
func IsAlerting(label string) bool {
	_, ok := alertLabels[strings.ToLower(label)]
	return ok
}

// HasAlert is the logical OR of the tap and level alert flags.
func HasAlert(tap, level SubCheck) bool {
	return tap.Alerting() || level.Alerting()
}

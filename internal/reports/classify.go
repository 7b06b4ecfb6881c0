package reports

import "strings"

// Subject keywords are checked first (most reliable), then body marker
// phrases. Anything else stays unrecognized.
var subjectKinds = []struct {
	keywords []string
	kind     ReportKind
}{
	{[]string{"voice", "fail"}, KindVoiceFailure},
	{[]string{"undeliverable", "voice"}, KindVoiceFailure},
	{[]string{"monthly"}, KindMonthly},
	{[]string{"opt"}, KindTextFailure},
	{[]string{"invalid"}, KindTextFailure},
	{[]string{"notice", "failure"}, KindTextFailure},
}

var bodyMarkers = []struct {
	marker string
	kind   ReportKind
}{
	{markerVoiceTable, KindVoiceFailure},
	{markerMonthlyStats, KindMonthly},
	{markerRemovedBarcodes, KindMonthly},
	{markerOptedOut, KindTextFailure},
	{markerInvalid, KindTextFailure},
}

// Classify decides what kind of vendor report this message is.
func Classify(meta ReportMeta, body string) ReportKind {
	subject := strings.ToLower(meta.Subject)
	for _, sk := range subjectKinds {
		all := true
		for _, kw := range sk.keywords {
			if !strings.Contains(subject, kw) {
				all = false
				break
			}
		}
		if all {
			return sk.kind
		}
	}

	lower := strings.ToLower(body)
	for _, bm := range bodyMarkers {
		if strings.Contains(lower, strings.ToLower(bm.marker)) {
			return bm.kind
		}
	}

	return KindUnrecognized
}

package reports

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify_SubjectFirst(t *testing.T) {
	require.Equal(t, KindVoiceFailure,
		Classify(ReportMeta{Subject: "Voice notices failed this week"}, ""))
	require.Equal(t, KindTextFailure,
		Classify(ReportMeta{Subject: "Patrons who opted out"}, ""))
	require.Equal(t, KindTextFailure,
		Classify(ReportMeta{Subject: "Invalid numbers"}, ""))
	require.Equal(t, KindMonthly,
		Classify(ReportMeta{Subject: "Monthly statistics for October"}, ""))
}

func TestClassify_BodyFallback(t *testing.T) {
	require.Equal(t, KindTextFailure,
		Classify(ReportMeta{Subject: "FYI"}, textReportBody))
	require.Equal(t, KindVoiceFailure,
		Classify(ReportMeta{Subject: "FYI"}, voiceReportBody))
	require.Equal(t, KindMonthly,
		Classify(ReportMeta{Subject: "FYI"}, "...\nBarcodes removed from the service:\n"))
}

// Fails closed: ни subject, ни body не совпали — репорт не угадывается в
// чужую категорию и не даёт ни одной записи.
func TestClassify_Unrecognized(t *testing.T) {
	kind, recs := Parse(ReportMeta{Subject: "Out of office"}, "I will be back Monday.")
	require.Equal(t, KindUnrecognized, kind)
	require.Empty(t, recs)
}

package reports

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BearBump/NoticeBox/internal/models"
)

const voiceReportBody = `Undeliverable voice notices

Phone | Barcode | Patron Name | Description

270-555-0101 | 21234567801 | SMITH, JOHN | Line busy after 3 attempts
270-555-0102 | 21234567802 | DOE, JANE |
No answer, voicemail box full
270-555-0103 | 21234567803 | ROE, RICHARD |
`

func TestExtractVoiceTable(t *testing.T) {
	recs := ExtractFailures(voiceReportBody, KindVoiceFailure, meta())
	require.Len(t, recs, 3)

	require.Equal(t, "270-555-0101", recs[0].Phone)
	require.Equal(t, "21234567801", recs[0].PatronBarcode)
	require.Equal(t, "SMITH, JOHN", recs[0].PatronName)
	require.Equal(t, "Line busy after 3 attempts", recs[0].Reason)
	require.Equal(t, models.FailureVoiceUndelivered, recs[0].FailureType)

	// Описание на отдельной строке сливается в ожидающую запись.
	require.Equal(t, "270-555-0102", recs[1].Phone)
	require.Equal(t, "No answer, voicemail box full", recs[1].Reason)

	// Запись без продолжения к концу текста всё равно эмитится.
	require.Equal(t, "270-555-0103", recs[2].Phone)
	require.Empty(t, recs[2].Reason)
}

func TestExtractVoiceTable_ContinuationStartsNoNewRecord(t *testing.T) {
	body := `Phone | Barcode | Patron Name | Description
270-555-0102 | 21234567802 | DOE, JANE |
No answer, voicemail box full
`
	recs := ExtractFailures(body, KindVoiceFailure, meta())
	require.Len(t, recs, 1)
	require.Equal(t, "No answer, voicemail box full", recs[0].Reason)
}

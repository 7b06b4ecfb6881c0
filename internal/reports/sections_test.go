package reports

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BearBump/NoticeBox/internal/models"
)

const textReportBody = `Weekly notice failure report.

The following numbers have opted out of receiving notices:

270-555-0123::21234567890
270-555-0124::No associated barcode found
270-555-0125::21234567891::4
270-555-0123::21234567890::150042::3
270-555-0126::21234567892::150043::7::HOLD

The following numbers are invalid phone numbers:

270-555-0200::21234567900
`

func meta() ReportMeta {
	return ReportMeta{
		MessageID:  "msg-1",
		Subject:    "Weekly notice failure report",
		ReceivedAt: time.Date(2025, 11, 8, 6, 0, 0, 0, time.UTC),
	}
}

func TestExtractFailures_SectionDelimited(t *testing.T) {
	recs := ExtractFailures(textReportBody, KindTextFailure, meta())
	require.Len(t, recs, 6)

	// 2 поля: phone + barcode.
	require.Equal(t, "270-555-0123", recs[0].Phone)
	require.Equal(t, "21234567890", recs[0].PatronBarcode)
	require.Equal(t, models.AccountActive, recs[0].AccountStatus)
	require.Equal(t, models.FailureOptedOut, recs[0].FailureType)

	// "No associated barcode found": аккаунт удалён, barcode очищен.
	require.Equal(t, "270-555-0124", recs[1].Phone)
	require.Empty(t, recs[1].PatronBarcode)
	require.Equal(t, models.AccountDeleted, recs[1].AccountStatus)

	// 3 поля с маленьким числом: это branch id, а не patron id.
	require.Equal(t, "4", recs[2].Branch)
	require.Empty(t, recs[2].PatronID)

	// >=4 полей: phone, barcode, patron id, branch.
	require.Equal(t, "150042", recs[3].PatronID)
	require.Equal(t, "3", recs[3].Branch)
	require.Equal(t, models.AccountActive, recs[3].AccountStatus)

	// Опциональная 5-я колонка — тип уведомления.
	require.Equal(t, "HOLD", recs[4].NoticeType)

	// Секция invalid парсится независимо от opted-out.
	require.Equal(t, models.FailureInvalidNumber, recs[5].FailureType)
	require.Equal(t, "270-555-0200", recs[5].Phone)

	for _, r := range recs {
		require.Equal(t, "msg-1", r.SourceMessage)
		require.Equal(t, meta().ReceivedAt, r.ReceivedAt)
	}
}

func TestExtractFailures_Idempotent(t *testing.T) {
	a := ExtractFailures(textReportBody, KindTextFailure, meta())
	b := ExtractFailures(textReportBody, KindTextFailure, meta())
	require.Equal(t, a, b)
}

func TestExtractFailures_MalformedSectionDoesNotSuppressOthers(t *testing.T) {
	body := `The following numbers have opted out of receiving notices:

garbage line without any delimiter
another one

The following numbers are invalid phone numbers:

270-555-0200::21234567900
`
	recs := ExtractFailures(body, KindTextFailure, meta())
	require.Len(t, recs, 1)
	require.Equal(t, models.FailureInvalidNumber, recs[0].FailureType)
}

// Характеризационный тест: если маркеры секций перекрываются, одна и та же
// строка извлекается дважды (один раз на секцию). Поведение исходного
// формата сохранено намеренно, без дедупликации.
func TestExtractFailures_OverlappingSections(t *testing.T) {
	body := `The following numbers have opted out of receiving notices and are invalid phone numbers:

270-555-0300::21234567999
`
	recs := ExtractFailures(body, KindTextFailure, meta())
	require.Len(t, recs, 2)
	require.Equal(t, models.FailureOptedOut, recs[0].FailureType)
	require.Equal(t, models.FailureInvalidNumber, recs[1].FailureType)
	require.Equal(t, recs[0].Phone, recs[1].Phone)
}

func TestExtractRedactedBarcodes(t *testing.T) {
	body := `Monthly notice statistics

Barcodes removed from the service:

*******7890
xxxx4321
not-a-barcode
21234567890
`
	recs := ExtractFailures(body, KindMonthly, meta())
	require.Len(t, recs, 2)
	for _, r := range recs {
		require.True(t, r.BarcodePartial)
		require.Equal(t, models.AccountDeleted, r.AccountStatus)
		require.Equal(t, models.FailureBarcodeRemoved, r.FailureType)
		require.Empty(t, r.Phone)
	}
	require.Equal(t, "7890", recs[0].PatronBarcode)
	require.Equal(t, "4321", recs[1].PatronBarcode)

	// Полные баркоды из fixtures никогда не совпадают с partial-значениями.
	for _, r := range recs {
		require.NotEqual(t, "21234567890", r.PatronBarcode)
	}
}

func TestExtractFailures_DropsRecordsWithoutIdentity(t *testing.T) {
	body := `The following numbers are invalid phone numbers:

::No associated barcode found
`
	recs := ExtractFailures(body, KindTextFailure, meta())
	require.Empty(t, recs)
}

package reports

import (
	"strings"

	"github.com/BearBump/NoticeBox/internal/models"
)

// extractVoiceTable parses the tabular voice-failure report: pipe-delimited
// columns phone | barcode | patron name | description. The vendor wraps long
// descriptions onto their own line right after a row that left the
// description column empty; such a line is merged into the pending record,
// not started as a new one.
func extractVoiceTable(body string) []*models.FailureRecord {
	var out []*models.FailureRecord
	var pending *models.FailureRecord

	flush := func() {
		if pending != nil {
			out = append(out, pending)
			pending = nil
		}
	}

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if !strings.Contains(line, "|") {
			// Строка-продолжение описания для незакрытой записи.
			if pending != nil {
				pending.Reason = line
				flush()
			}
			continue
		}

		if isVoiceHeader(line) {
			continue
		}

		cols := splitDelimited(line)
		if len(cols) < 2 {
			continue
		}

		flush()
		rec := &models.FailureRecord{
			Phone:         cols[0],
			PatronBarcode: cols[1],
			FailureType:   models.FailureVoiceUndelivered,
			AccountStatus: models.AccountActive,
		}
		if len(cols) >= 3 {
			rec.PatronName = cols[2]
		}
		if len(cols) >= 4 && cols[3] != "" {
			rec.Reason = cols[3]
			out = append(out, rec)
		} else {
			// Описание пустое: ждём строку-продолжение.
			pending = rec
		}
	}

	// Запись без продолжения к концу текста всё равно отдаём.
	flush()
	return out
}

func isVoiceHeader(line string) bool {
	lower := strings.ToLower(line)
	return strings.Contains(lower, "phone") &&
		strings.Contains(lower, "barcode") &&
		strings.Contains(lower, "description")
}

package reports

import (
	"regexp"
	"strings"

	"github.com/BearBump/NoticeBox/internal/models"
)

// Section markers as they appear in the vendor text. The vendor has changed
// surrounding prose before; match on the stable core phrases only.
const (
	markerOptedOut        = "have opted out of receiving notices"
	markerInvalid         = "invalid phone numbers"
	markerRemovedBarcodes = "barcodes removed from the service"
	markerMonthlyStats    = "monthly notice statistics"
	markerVoiceTable      = "phone | barcode | patron name | description"

	noBarcodeToken = "no associated barcode found"
)

// allMarkers доубляется как список заголовков: конец секции — это строка со
// следующим известным маркером (или конец текста).
var allMarkers = []string{
	markerOptedOut,
	markerInvalid,
	markerRemovedBarcodes,
	markerMonthlyStats,
}

// extractSections pulls the opted-out and invalid-number lists. Each
// extractor scans the whole body independently; if the vendor ever overlaps
// the markers the same line can be extracted twice. That is the observed
// behavior of the source format and is pinned by a test, not deduplicated.
func extractSections(body string) []*models.FailureRecord {
	var out []*models.FailureRecord
	out = append(out, parseSectionLines(sectionBody(body, markerOptedOut), models.FailureOptedOut)...)
	out = append(out, parseSectionLines(sectionBody(body, markerInvalid), models.FailureInvalidNumber)...)
	return out
}

// sectionBody returns the lines between the start marker and the next known
// section heading (or end of text). Empty string when the marker is absent.
func sectionBody(body, startMarker string) string {
	lower := strings.ToLower(body)
	start := strings.Index(lower, strings.ToLower(startMarker))
	if start < 0 {
		return ""
	}
	rest := body[start:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	} else {
		return ""
	}

	end := len(rest)
	restLower := strings.ToLower(rest)
	for _, m := range allMarkers {
		if strings.EqualFold(m, startMarker) {
			continue
		}
		if i := strings.Index(restLower, strings.ToLower(m)); i >= 0 && i < end {
			end = i
		}
	}
	return rest[:end]
}

func parseSectionLines(section, failureType string) []*models.FailureRecord {
	if section == "" {
		return nil
	}
	var out []*models.FailureRecord
	for _, line := range strings.Split(section, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		rec := parseDelimitedLine(line, failureType)
		if rec == nil {
			continue
		}
		out = append(out, rec)
	}
	return out
}

var smallNumeric = regexp.MustCompile(`^\d{1,4}$`)

// parseDelimitedLine parses one colon-or-pipe delimited list entry. Field
// count decides semantics, in this exact precedence order (the source
// format is genuinely ambiguous without it):
//
//	2 fields                    phone + barcode
//	"no associated barcode"     account deleted, barcode cleared
//	3 fields, 3rd small numeric phone + barcode + branch id (not a patron id)
//	>=4 fields                  phone, barcode, patron id, branch, notice type
func parseDelimitedLine(line, failureType string) *models.FailureRecord {
	fields := splitDelimited(line)
	if len(fields) < 2 {
		return nil
	}

	rec := &models.FailureRecord{
		Phone:         fields[0],
		FailureType:   failureType,
		AccountStatus: models.AccountActive,
	}

	if strings.EqualFold(fields[1], noBarcodeToken) ||
		strings.Contains(strings.ToLower(fields[1]), "no associated barcode") {
		rec.AccountStatus = models.AccountDeleted
		rec.PatronBarcode = ""
		return rec
	}

	rec.PatronBarcode = fields[1]
	switch {
	case len(fields) == 2:
		// phone + barcode, больше ничего.
	case len(fields) == 3 && smallNumeric.MatchString(fields[2]):
		rec.Branch = fields[2]
	case len(fields) == 3:
		rec.PatronID = fields[2]
	default:
		rec.PatronID = fields[2]
		rec.Branch = fields[3]
		if len(fields) >= 5 {
			rec.NoticeType = fields[4]
		}
	}
	return rec
}

// splitDelimited splits on "::" first, falling back to "|".
func splitDelimited(line string) []string {
	var parts []string
	if strings.Contains(line, "::") {
		parts = strings.Split(line, "::")
	} else if strings.Contains(line, "|") {
		parts = strings.Split(line, "|")
	} else {
		return nil
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// redactedBarcode: маска + хвостовые цифры, напр. "*******7890" или "xxxx4321".
var redactedBarcode = regexp.MustCompile(`^[*xX]{3,}(\d{2,})$`)

// extractRedactedBarcodes harvests the monthly "removed barcodes" section.
// These lines carry no phone number; the visible trailing digits are stored
// with BarcodePartial=true so they are only ever matched by a
// partial-barcode-aware lookup.
func extractRedactedBarcodes(body string) []*models.FailureRecord {
	section := sectionBody(body, markerRemovedBarcodes)
	if section == "" {
		return nil
	}
	var out []*models.FailureRecord
	for _, line := range strings.Split(section, "\n") {
		line = strings.TrimSpace(line)
		m := redactedBarcode.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		out = append(out, &models.FailureRecord{
			PatronBarcode:  m[1],
			BarcodePartial: true,
			FailureType:    models.FailureBarcodeRemoved,
			AccountStatus:  models.AccountDeleted,
		})
	}
	return out
}

package reports

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/NoticeBox/internal/models"
)

// Summary is the parsed monthly aggregate report. Counts only contains
// labels the report actually carried: "not reported" and "reported as zero"
// are different things.
type Summary struct {
	Counts       map[string]int64 `json:"counts"`
	KeywordUsage map[string]int64 `json:"keywordUsage"`
}

// Fixed label → regex table; each entry is independently optional.
var summaryLabels = []struct {
	label string
	re    *regexp.Regexp
}{
	{"hold_notices_sent", regexp.MustCompile(`(?im)^\s*hold notices sent:?\s+(\d+)`)},
	{"overdue_notices_sent", regexp.MustCompile(`(?im)^\s*overdue notices sent:?\s+(\d+)`)},
	{"renewal_notices_sent", regexp.MustCompile(`(?im)^\s*renewal notices sent:?\s+(\d+)`)},
	{"voice_calls_attempted", regexp.MustCompile(`(?im)^\s*voice calls attempted:?\s+(\d+)`)},
	{"voice_calls_failed", regexp.MustCompile(`(?im)^\s*voice calls failed:?\s+(\d+)`)},
	{"text_messages_sent", regexp.MustCompile(`(?im)^\s*text messages sent:?\s+(\d+)`)},
	{"new_registrations", regexp.MustCompile(`(?im)^\s*new registrations:?\s+(\d+)`)},
	{"patrons_opted_out", regexp.MustCompile(`(?im)^\s*patrons opted out:?\s+(\d+)`)},
}

var keywordUsage = regexp.MustCompile(`(?m)^\s*([A-Z][A-Z0-9]+)\s+was used\s+(\d+)\s+times?\b`)

// ExtractSummary pulls the aggregate counters out of a monthly report.
func ExtractSummary(body string) Summary {
	s := Summary{
		Counts:       map[string]int64{},
		KeywordUsage: map[string]int64{},
	}

	for _, sl := range summaryLabels {
		m := sl.re.FindStringSubmatch(body)
		if m == nil {
			continue
		}
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		s.Counts[sl.label] = n
	}

	for _, m := range keywordUsage.FindAllStringSubmatch(body, -1) {
		n, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			continue
		}
		s.KeywordUsage[strings.ToUpper(m[1])] = n
	}

	return s
}

// ParseSubmissionExport parses a delimited vendor submission export file
// (one "barcode|category|timestamp" line per handed-off notice) into
// SubmissionRecords. Malformed lines are skipped, not fatal.
func ParseSubmissionExport(sourceFile string, channel models.ChannelID, content string) []*models.SubmissionRecord {
	var out []*models.SubmissionRecord
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := splitDelimited(line)
		if len(fields) < 3 {
			continue
		}
		ts, err := parseExportTime(fields[2])
		if err != nil {
			continue
		}
		out = append(out, &models.SubmissionRecord{
			PatronBarcode: fields[0],
			Category:      strings.ToLower(fields[1]),
			Channel:       channel,
			SubmittedAt:   ts,
			SourceFile:    sourceFile,
		})
	}
	return out
}

// Таймстемпы в экспортах вендора встречаются в нескольких форматах.
var exportTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006 15:04",
}

func parseExportTime(s string) (time.Time, error) {
	for _, layout := range exportTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Errorf("unsupported export timestamp: %q", s)
}

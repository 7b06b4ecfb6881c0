// Package match holds the shared identity/time matching primitives used by
// channel verifiers. Pure functions, no I/O.
package match

import (
	"strings"
	"time"
)

// SameCalendarDay reports whether a and b fall on the same UTC calendar day.
func SameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// WithinWindow reports whether t lies inside [center-before, center+after].
// Both boundaries are included: a record stamped exactly window-hours away
// from the attempt still counts as evidence.
func WithinWindow(t, center time.Time, before, after time.Duration) bool {
	lo := center.Add(-before)
	hi := center.Add(after)
	return !t.Before(lo) && !t.After(hi)
}

// BarcodesEqual compares two barcodes respecting redaction: a partial
// (redacted) barcode never matches a full one, in either direction. Two
// partial barcodes match on their visible trailing digits.
func BarcodesEqual(a string, aPartial bool, b string, bPartial bool) bool {
	if a == "" || b == "" {
		return false
	}
	if aPartial != bPartial {
		return false
	}
	if !aPartial {
		return a == b
	}
	if len(a) <= len(b) {
		return strings.HasSuffix(b, a)
	}
	return strings.HasSuffix(a, b)
}

// MatchesPartial reports whether a full barcode ends with the visible
// digits of a redacted one. This is the only sanctioned way to line a
// partial record up against a full barcode, and callers must surface the
// match as partial, never as confirmed identity.
func MatchesPartial(full, partialSuffix string) bool {
	if full == "" || partialSuffix == "" {
		return false
	}
	return strings.HasSuffix(full, partialSuffix)
}

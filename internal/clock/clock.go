// Package clock renders timestamps in the fixed UTC+7 civil time used for
// commit messages and release versions, independent of the host time zone.
package clock

import "time"

// Offset is applied to the UTC instant before calendar fields are read.
const Offset = 7 * time.Hour

const (
	timestampLayout = "060102-150405"
	dateLayout      = "060102"
	minuteLayout    = "1504"
)

// Now is the instant source. Tests replace it.
type Now func() time.Time

// Shifted returns t moved into UTC+7 civil time, expressed in UTC so that
// its calendar fields read as UTC+7 wall-clock values.
func Shifted(t time.Time) time.Time {
	return t.UTC().Add(Offset)
}

// Timestamp formats t as yyMMdd-HHmmss in UTC+7.
func Timestamp(t time.Time) string {
	return Shifted(t).Format(timestampLayout)
}

// Version formats t as 1.yyMMdd.1HHmm in UTC+7.
func Version(t time.Time) string {
	s := Shifted(t)
	return "1." + s.Format(dateLayout) + ".1" + s.Format(minuteLayout)
}

// CommitMessage is the fixed-format message for a data directory push.
func CommitMessage(t time.Time) string {
	return "[runner-sync] Update .runner-data at " + Timestamp(t)
}

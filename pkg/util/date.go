package util

import (
	"strings"
	"time"
)

var dateTplReplacer = strings.NewReplacer(
	"YYYY", "2006",
	"YY", "06",
	"MM", "01",
	"DD", "02",
	"hh", "15",
	"mm", "04",
	"ss", "05",
)

// FormatDateTpl formats t using a template with placeholders.
//
// Supported placeholders:
//   - YYYY: 4-digit year
//   - YY: 2-digit year
//   - MM: 2-digit month (01-12)
//   - DD: 2-digit day (01-31)
//   - hh: 2-digit hour (00-23)
//   - mm: 2-digit minute (00-59)
//   - ss: 2-digit second (00-59)
//
// A zero t formats as "never".
//
// Example:
//
//	FormatDateTpl(t, "YYYY-MM-DD hh:mm:ss") // "2023-11-10 00:00:00"
func FormatDateTpl(t time.Time, tpl string) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(dateTplReplacer.Replace(tpl))
}

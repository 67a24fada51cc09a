package notification

import (
	"fmt"
	"strings"
	"time"
)

// CUFTimeLayout is the UTC, second precision format written into usage records.
const CUFTimeLayout = "2006-01-02T15:04:05Z"

// Fractional seconds are accepted after the seconds field by time.Parse even
// when a layout omits them.
var timeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"02 01 2006 15:04:05",
}

// ParseError reports a notification field that holds an unparsable date.
type ParseError struct {
	Field string
	Value string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse %s %q as a time", e.Field, e.Value)
}

// ParseTime parses value in any of the accepted notification layouts and
// returns it in UTC. An empty value is reported as absent, not as an error.
func ParseTime(field, value string) (time.Time, bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true, nil
		}
	}
	return time.Time{}, false, &ParseError{Field: field, Value: value}
}

func FormatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(CUFTimeLayout)
}

// Window is the usage interval covered by a record.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow computes start = max(launched, beginning) and end = min(deleted, ending)
// when deleted is set, else ending. Zero launched or deleted values are absent.
func NewWindow(launched, beginning, ending, deleted time.Time) Window {
	w := Window{Start: beginning, End: ending}
	if !launched.IsZero() && launched.After(beginning) {
		w.Start = launched
	}
	if !deleted.IsZero() && deleted.Before(ending) {
		w.End = deleted
	}
	return w
}

func (w Window) StartTime() string { return FormatTime(w.Start) }

func (w Window) EndTime() string { return FormatTime(w.End) }

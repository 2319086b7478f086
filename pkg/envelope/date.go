package envelope

import (
	"strings"
	"time"
)

const dateLayout = "2006-01-02T15:04:05.000Z07:00"

var decodeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
}

// EncodeDate кодирует время для CPIM DateTime и XML документов:
// UTC с миллисекундами, "2024-01-02T03:04:05.678Z".
func EncodeDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// DecodeDate разбирает дату ISO 8601 в одном из встречающихся вариантов.
func DecodeDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	for _, layout := range decodeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

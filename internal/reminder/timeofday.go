package reminder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hpungsan/classmate/internal/errors"
)

// TimeOfDay is a wall-clock time in the scheduler's zone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

var timePattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})\s*(AM|PM)?$`)

// ParseTimeOfDay accepts 12-hour ("8:30 PM", "8:30PM", "8:30 pm IST") and
// 24-hour ("20:30", "08:30") forms. A trailing IST marker is ignored.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	input := s
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimSpace(strings.TrimSuffix(s, "IST"))

	m := timePattern.FindStringSubmatch(s)
	if m == nil {
		return TimeOfDay{}, errors.NewInvalidTime(input)
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if minute > 59 {
		return TimeOfDay{}, errors.NewInvalidTime(input)
	}

	switch m[3] {
	case "":
		if hour > 23 {
			return TimeOfDay{}, errors.NewInvalidTime(input)
		}
	default:
		if hour < 1 || hour > 12 {
			return TimeOfDay{}, errors.NewInvalidTime(input)
		}
		hour %= 12
		if m[3] == "PM" {
			hour += 12
		}
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

// MustParseTimeOfDay is ParseTimeOfDay for literals known to be valid.
func MustParseTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the canonical HH:MM form.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Clock12 returns the 12-hour form, e.g. "08:30 PM".
func (t TimeOfDay) Clock12() string {
	suffix := "AM"
	if t.Hour >= 12 {
		suffix = "PM"
	}
	h := t.Hour % 12
	if h == 0 {
		h = 12
	}
	return fmt.Sprintf("%02d:%02d %s", h, t.Minute, suffix)
}

// MarshalText implements encoding.TextMarshaler.
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// minutes since midnight
func (t TimeOfDay) minutes() int {
	return t.Hour*60 + t.Minute
}

package timetable

import "strings"

// Days lists the weekdays a timetable may hold, in canonical order.
// Sunday is never part of a timetable.
var Days = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// Period is one scheduled slot (class, lab, lecture) on a given day.
type Period struct {
	// Time is the slot label as produced by structuring, e.g. "9:00-9:55".
	// It is never parsed into a numeric range.
	Time string `json:"time"`

	// Subject is the short subject code, e.g. "DSA"
	Subject string `json:"subject"`

	// FullName is the expanded subject name (optional)
	FullName string `json:"full_name,omitempty"`

	// Type is the kind of slot such as "Theory" or "Lab" (optional)
	Type string `json:"type,omitempty"`

	// Room is the location (optional)
	Room string `json:"room,omitempty"`
}

// Timetable maps a day name to its periods in chronological order.
// Keys are always members of Days.
type Timetable map[string][]Period

// Slot is a period together with the day it belongs to.
type Slot struct {
	Day string
	Period
}

// NormalizeDay maps a day name in any case to its canonical form.
// Returns false for Sunday and for anything that is not a weekday.
func NormalizeDay(s string) (string, bool) {
	s = strings.TrimSpace(s)
	for _, day := range Days {
		if strings.EqualFold(s, day) {
			return day, true
		}
	}
	return "", false
}

// Len returns the total number of periods across all days.
func (t Timetable) Len() int {
	n := 0
	for _, periods := range t {
		n += len(periods)
	}
	return n
}

// IsEmpty reports whether the timetable holds no periods at all.
func (t Timetable) IsEmpty() bool {
	return t.Len() == 0
}

// Day returns a copy of the periods for day, or nil if the day is absent.
func (t Timetable) Day(day string) []Period {
	periods, ok := t[day]
	if !ok {
		return nil
	}
	out := make([]Period, len(periods))
	copy(out, periods)
	return out
}

// Clone returns a deep copy of the timetable.
func (t Timetable) Clone() Timetable {
	if t == nil {
		return nil
	}
	out := make(Timetable, len(t))
	for day, periods := range t {
		cp := make([]Period, len(periods))
		copy(cp, periods)
		out[day] = cp
	}
	return out
}

// Flatten returns every period in canonical day order, keeping the
// period order within each day.
func (t Timetable) Flatten() []Slot {
	slots := make([]Slot, 0, t.Len())
	for _, day := range Days {
		for _, p := range t[day] {
			slots = append(slots, Slot{Day: day, Period: p})
		}
	}
	return slots
}

// Describe synthesizes the text that gets embedded for one period.
// The output depends only on its inputs so identical timetables always
// embed identically.
func Describe(day string, p Period) string {
	var b strings.Builder
	b.WriteString("Day: ")
	b.WriteString(day)
	b.WriteString(", Time: ")
	b.WriteString(p.Time)
	b.WriteString(", Subject: ")
	b.WriteString(p.Subject)
	b.WriteString(", Full Name: ")
	b.WriteString(p.FullName)
	b.WriteString(", Type: ")
	b.WriteString(p.Type)
	return b.String()
}

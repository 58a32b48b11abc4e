package timetable

import (
	"fmt"
	"strings"
)

// FormatWeek renders the whole timetable for display in chat (Markdown).
func FormatWeek(t Timetable) string {
	if len(t) == 0 {
		return "No timetable data available."
	}

	var b strings.Builder
	b.WriteString("*Your Weekly Timetable*\n\n")
	for _, day := range Days {
		periods, ok := t[day]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "*%s*\n", strings.ToUpper(day))
		if len(periods) == 0 {
			b.WriteString("No classes scheduled\n\n")
			continue
		}
		for _, p := range periods {
			fmt.Fprintf(&b, "%s - %s", orNA(p.Time), orNA(p.Subject))
			if p.FullName != "" {
				fmt.Fprintf(&b, " (%s)", p.FullName)
			}
			if p.Type != "" {
				fmt.Fprintf(&b, " [%s]", p.Type)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatDay renders the periods for one day as the "tomorrow" digest.
// An absent or empty day yields the free-day message.
func FormatDay(day string, periods []Period) string {
	if len(periods) == 0 {
		return fmt.Sprintf("*Tomorrow (%s)*\n\nNo classes scheduled! Enjoy your free day!", day)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*Tomorrow's Schedule (%s)*\n\n", day)
	for _, p := range periods {
		fmt.Fprintf(&b, "*%s* - %s", orNA(p.Time), orNA(p.Subject))
		if p.FullName != "" {
			fmt.Fprintf(&b, "\n    %s", p.FullName)
		}
		if p.Type != "" {
			fmt.Fprintf(&b, " [%s]", p.Type)
		}
		if p.Room != "" {
			fmt.Fprintf(&b, " @ %s", p.Room)
		}
		b.WriteString("\n\n")
	}
	b.WriteString("Don't forget to bring your materials! Good luck!")
	return b.String()
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

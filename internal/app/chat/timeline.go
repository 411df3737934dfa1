package chat

import (
	"math"
	"time"
)

type RowKind string

const (
	RowDay     RowKind = "day"
	RowMessage RowKind = "message"
)

// Row is one line of a rendered stream: a day separator or a message bubble.
type Row struct {
	Kind RowKind
	// Day is set on separators, Label is its human heading.
	Day   time.Time
	Label string

	Entry Entry
	Mine  bool
	// ShowAvatar marks the first bubble of a run from the other participant.
	ShowAvatar bool
}

// Timeline lays entries out with a separator whenever the calendar day changes in now's
// location.
func Timeline(entries []Entry, viewerID string, now time.Time) []Row {
	loc := now.Location()
	rows := make([]Row, 0, len(entries)+4)
	var lastDay time.Time
	lastSender := ""
	for _, e := range entries {
		day := dayOf(e.Message.CreatedAt.In(loc))
		if !day.Equal(lastDay) {
			rows = append(rows, Row{Kind: RowDay, Day: day, Label: DayLabel(day, now)})
			lastDay = day
			lastSender = ""
		}
		mine := e.Mine(viewerID)
		rows = append(rows, Row{
			Kind:       RowMessage,
			Entry:      e,
			Mine:       mine,
			ShowAvatar: !mine && e.Message.SenderID != lastSender,
		})
		lastSender = e.Message.SenderID
	}
	return rows
}

// DayLabel renders "Today", "Yesterday", a weekday within the last week, or a date.
func DayLabel(day, now time.Time) string {
	today := dayOf(now)
	day = dayOf(day.In(now.Location()))
	switch diff := int(math.Round(today.Sub(day).Hours() / 24)); {
	case diff == 0:
		return "Today"
	case diff == 1:
		return "Yesterday"
	case diff > 1 && diff < 7:
		return day.Weekday().String()
	case day.Year() == today.Year():
		return day.Format("Jan 2")
	default:
		return day.Format("Jan 2, 2006")
	}
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

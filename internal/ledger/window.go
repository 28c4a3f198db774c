// SPDX-License-Identifier: Apache-2.0

package ledger

import "time"

// dayStart aligns t to UTC midnight.
func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// weekStart aligns t to the most recent occurrence of the configured week
// boundary weekday at UTC midnight.
func weekStart(t time.Time, boundary time.Weekday) time.Time {
	day := dayStart(t)
	offset := (int(day.Weekday()) - int(boundary) + 7) % 7
	return day.AddDate(0, 0, -offset)
}

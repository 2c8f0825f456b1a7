package service

import (
	"strings"

	"github.com/opensis/registrar/internal/models"
)

// ConflictChecker decides whether a candidate section's day/time clashes
// with any section the student is already registered in. It returns the
// first conflicting schedule, or nil.
type ConflictChecker func(candidate string, registered []models.SectionSchedule) *models.SectionSchedule

// ExactConflictChecker reproduces the legacy behavior: two sections
// conflict only when their day/time strings are byte-identical. Real
// interval overlap is deliberately not attempted here.
func ExactConflictChecker(candidate string, registered []models.SectionSchedule) *models.SectionSchedule {
	for i := range registered {
		if registered[i].DayTime == candidate {
			return &registered[i]
		}
	}
	return nil
}

// OverlapConflictChecker detects genuine interval overlaps for schedules
// of the form "Mon,Wed 10:00-11:30". Unparseable values fall back to the
// exact-match rule so enabling it can only widen detection.
func OverlapConflictChecker(candidate string, registered []models.SectionSchedule) *models.SectionSchedule {
	candDays, candStart, candEnd, ok := parseDayTime(candidate)
	if !ok {
		return ExactConflictChecker(candidate, registered)
	}
	for i := range registered {
		days, start, end, ok := parseDayTime(registered[i].DayTime)
		if !ok {
			if registered[i].DayTime == candidate {
				return &registered[i]
			}
			continue
		}
		if shareDay(candDays, days) && candStart < end && start < candEnd {
			return &registered[i]
		}
	}
	return nil
}

// parseDayTime splits "Mon,Wed 10:00-11:30" into day tokens and minutes
// since midnight.
func parseDayTime(raw string) (days []string, start, end int, ok bool) {
	fields := strings.Fields(raw)
	if len(fields) != 2 {
		return nil, 0, 0, false
	}
	days = strings.Split(fields[0], ",")
	span := strings.SplitN(fields[1], "-", 2)
	if len(span) != 2 {
		return nil, 0, 0, false
	}
	start, ok = parseClock(span[0])
	if !ok {
		return nil, 0, 0, false
	}
	end, ok = parseClock(span[1])
	if !ok || end <= start {
		return nil, 0, 0, false
	}
	return days, start, end, true
}

func parseClock(raw string) (int, bool) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 || len(parts[0]) == 0 || len(parts[1]) != 2 {
		return 0, false
	}
	hours, ok := parseNum(parts[0])
	if !ok || hours > 23 {
		return 0, false
	}
	minutes, ok := parseNum(parts[1])
	if !ok || minutes > 59 {
		return 0, false
	}
	return hours*60 + minutes, true
}

func parseNum(raw string) (int, bool) {
	n := 0
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

func shareDay(a, b []string) bool {
	for _, da := range a {
		for _, db := range b {
			if strings.EqualFold(strings.TrimSpace(da), strings.TrimSpace(db)) {
				return true
			}
		}
	}
	return false
}

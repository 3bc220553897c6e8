package billing

import (
	"strings"
	"time"
)

type PeriodUnit string

const (
	UnitMonth PeriodUnit = "month"
	UnitYear  PeriodUnit = "year"
)

// Period is the structured billing duration of a plan.
type Period struct {
	Unit  PeriodUnit
	Count int
}

func Monthly() Period { return Period{Unit: UnitMonth, Count: 1} }
func Yearly() Period  { return Period{Unit: UnitYear, Count: 1} }

// AddTo returns base advanced by one billing period.
func (p Period) AddTo(base time.Time) time.Time {
	switch p.Unit {
	case UnitYear:
		return base.AddDate(p.Count, 0, 0)
	default:
		return base.AddDate(0, p.Count, 0)
	}
}

// ParsePeriodLabel maps a legacy display label ("1 mois", "12 mois",
// "24 mois", "1 an", "année") to a structured Period. Labels written by
// earlier versions of the back-office only exist as display strings, so
// the recognized substrings must stay stable; anything unrecognized
// falls back to one month.
func ParsePeriodLabel(label string) Period {
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, "24"):
		return Period{Unit: UnitYear, Count: 2}
	case strings.Contains(l, "12"), strings.Contains(l, "année"), strings.Contains(l, "an"):
		return Period{Unit: UnitYear, Count: 1}
	default:
		return Period{Unit: UnitMonth, Count: 1}
	}
}

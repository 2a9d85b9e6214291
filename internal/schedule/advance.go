// Package schedule computes the next due instant of a recurring rule.
//
// Each frequency has its own Advancer strategy. The calculator is pure:
// same inputs always produce the same output, no I/O, no clock reads.
//
// Monthly and yearly advancement is calendar-aware and re-anchors on the
// rule's start date: the target day of month is the anchor's day, clamped
// to the last valid day of the target month. A rule anchored on the 31st
// therefore lands on Feb 29 (leap) or Feb 28 and recovers to the 31st in
// longer months instead of drifting the way naive day arithmetic would.
package schedule

import (
	"fmt"
	"time"

	"ledgerd/internal/core"
)

// Advancer is the strategy interface for one frequency. Next returns the
// due instant that follows after; anchor is the rule's start instant and
// supplies the day-of-month (and month, for yearly) to re-anchor on.
type Advancer interface {
	Next(after, anchor time.Time) time.Time
}

// DailyAdvancer advances by one calendar day.
type DailyAdvancer struct{}

func (DailyAdvancer) Next(after, _ time.Time) time.Time {
	return after.AddDate(0, 0, 1)
}

// WeeklyAdvancer advances by seven calendar days.
type WeeklyAdvancer struct{}

func (WeeklyAdvancer) Next(after, _ time.Time) time.Time {
	return after.AddDate(0, 0, 7)
}

// MonthlyAdvancer advances to the next calendar month, day clamped to the
// anchor's day-of-month or the last day of the target month.
type MonthlyAdvancer struct{}

func (MonthlyAdvancer) Next(after, anchor time.Time) time.Time {
	year, month := after.Year(), after.Month()+1
	return onDay(year, month, anchor.Day(), after)
}

// YearlyAdvancer advances to the anchor's month in the next calendar year,
// with the same day clamping (Feb 29 anchors fall on Feb 28 in non-leap
// years and recover on the next leap year).
type YearlyAdvancer struct{}

func (YearlyAdvancer) Next(after, anchor time.Time) time.Time {
	return onDay(after.Year()+1, anchor.Month(), anchor.Day(), after)
}

// onDay builds an instant in the given year/month on day, clamped to the
// month's length, preserving after's clock time and location. time.Date
// normalizes out-of-range values, so year/month may arrive denormalized
// (e.g. month 13).
func onDay(year int, month time.Month, day int, after time.Time) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, after.Location())
	last := lastDayOfMonth(first.Year(), first.Month(), after.Location())
	if day > last {
		day = last
	}
	h, m, s := after.Clock()
	return time.Date(first.Year(), first.Month(), day, h, m, s, after.Nanosecond(), after.Location())
}

func lastDayOfMonth(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// advancers maps frequencies to their strategies.
var advancers = map[core.Frequency]Advancer{
	core.Daily:   DailyAdvancer{},
	core.Weekly:  WeeklyAdvancer{},
	core.Monthly: MonthlyAdvancer{},
	core.Yearly:  YearlyAdvancer{},
}

// GetAdvancer returns the strategy for a frequency. Unknown frequencies are
// an error, never silently treated as monthly.
func GetAdvancer(frequency core.Frequency) (Advancer, error) {
	adv, ok := advancers[frequency]
	if !ok {
		return nil, fmt.Errorf("frequency %q: %w", frequency, core.ErrInvalidFrequency)
	}
	return adv, nil
}

// NextDue returns the due instant that follows after for the given
// frequency, re-anchored on anchor. The result is strictly after its input
// for every supported frequency.
func NextDue(after time.Time, frequency core.Frequency, anchor time.Time) (time.Time, error) {
	adv, err := GetAdvancer(frequency)
	if err != nil {
		return time.Time{}, err
	}
	return adv.Next(after, anchor), nil
}

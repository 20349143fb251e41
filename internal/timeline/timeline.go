package timeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"exportalpha/internal/config"
	"exportalpha/internal/repository"
)

var (
	ErrInvalidDateRange = errors.New("timeline: start date must be before end date")
	ErrEmptyCalendar    = errors.New("timeline: trading-day calendar is empty")
)

// Tick is one replayable step of a run: one trading day crossed with one
// intraday slot. Ticks are immutable once built.
type Tick struct {
	Date          time.Time
	DateInt       int
	TimeSlot      string
	IsSignalTick  bool
	IsClosingTick bool
}

// Month returns the tick's evaluation month as "YYYY-MM".
func (t Tick) Month() string {
	return t.Date.Format("2006-01")
}

// Builder constructs the ordered tick sequence for a date range. Day
// selection depends on where the range sits relative to the calendar:
// fully inside uses calendar days only, fully outside falls back to plain
// weekdays, and a straddling range stitches the two.
type Builder struct {
	Repo   repository.MarketData
	Logger *zap.Logger
	Market config.MarketConfig
}

// Build returns the full timeline for [start, end].
func (b *Builder) Build(ctx context.Context, start, end time.Time) ([]Tick, error) {
	start = truncateDay(start)
	end = truncateDay(end)
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: %s >= %s", ErrInvalidDateRange,
			start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	rows, err := b.Repo.ListTradingDays(ctx)
	if err != nil {
		return nil, fmt.Errorf("timeline: load trading days: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrEmptyCalendar
	}

	calendar := make([]time.Time, 0, len(rows))
	for _, r := range rows {
		d, err := ParseDateInt(r.DateInt)
		if err != nil {
			return nil, fmt.Errorf("timeline: bad calendar entry %d: %w", r.DateInt, err)
		}
		calendar = append(calendar, d)
	}
	calMin, calMax := calendar[0], calendar[len(calendar)-1]

	var days []time.Time
	switch {
	case !start.Before(calMin) && !end.After(calMax):
		days = filterRange(calendar, start, end)
		b.info("range inside calendar bounds, using calendar days", len(days))
	case start.After(calMax) || end.Before(calMin):
		days = weekdays(start, end)
		b.info("range outside calendar bounds, using weekdays", len(days))
	default:
		if start.Before(calMin) {
			days = append(days, weekdays(start, calMin.AddDate(0, 0, -1))...)
		}
		days = append(days, filterRange(calendar, maxDay(start, calMin), minDay(end, calMax))...)
		if end.After(calMax) {
			days = append(days, weekdays(calMax.AddDate(0, 0, 1), end)...)
		}
		// Segments are generated in ascending order, so concatenation
		// already yields a sorted day list.
		b.info("range straddles calendar bounds, stitched day list", len(days))
	}

	slots := Slots(b.Market)
	ticks := make([]Tick, 0, len(days)*len(slots))
	for _, day := range days {
		signalDay := day.Day() == b.Market.SignalDay
		for _, slot := range slots {
			ticks = append(ticks, Tick{
				Date:          day,
				DateInt:       DateInt(day),
				TimeSlot:      slot,
				IsSignalTick:  signalDay && slot == b.Market.SignalSlot,
				IsClosingTick: slot == b.Market.ClosingSlot,
			})
		}
	}
	return ticks, nil
}

func (b *Builder) info(msg string, days int) {
	if b.Logger != nil {
		b.Logger.Info(msg, zap.Int("days", days))
	}
}

// Slots returns the ordered intraday slot labels, "HHMM_HHMM", covering
// open to close in fixed-width steps.
func Slots(m config.MarketConfig) []string {
	open := m.OpenHour*60 + m.OpenMinute
	close := m.CloseHour*60 + m.CloseMinute
	var slots []string
	for cur := open; cur < close; cur += m.SlotMinutes {
		next := cur + m.SlotMinutes
		slots = append(slots, fmt.Sprintf("%02d%02d_%02d%02d",
			cur/60, cur%60, next/60, next%60))
	}
	return slots
}

// DateInt encodes a date as YYYYMMDD.
func DateInt(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// ParseDateInt decodes a YYYYMMDD integer.
func ParseDateInt(d int) (time.Time, error) {
	return time.Parse("20060102", fmt.Sprintf("%08d", d))
}

// SlotStart extracts the slot's opening hour and minute from a
// "HHMM_HHMM" label.
func SlotStart(slot string) (hour, minute int, err error) {
	if len(slot) < 4 {
		return 0, 0, fmt.Errorf("timeline: malformed slot %q", slot)
	}
	hour, err1 := strconv.Atoi(slot[:2])
	minute, err2 := strconv.Atoi(slot[2:4])
	if err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("timeline: malformed slot %q", slot)
	}
	return hour, minute, nil
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func filterRange(days []time.Time, start, end time.Time) []time.Time {
	var out []time.Time
	for _, d := range days {
		if !d.Before(start) && !d.After(end) {
			out = append(out, d)
		}
	}
	return out
}

func weekdays(start, end time.Time) []time.Time {
	var out []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			out = append(out, d)
		}
	}
	return out
}

func maxDay(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minDay(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

// Package calendar is the market calendar (C7): a boolean/temporal oracle
// over trading days and sessions in the exchange's fixed timezone, backed by
// an on-disk JSON holiday cache that is used while it is under 30 days old.
package calendar

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

const freshness = 30 * 24 * time.Hour

// Session is a trading day's open/close wall-clock times.
type Session struct {
	Open  time.Time
	Close time.Time
}

var (
	regularOpen  = hm(10, 0)
	regularClose = hm(18, 30)
	shortClose   = hm(15, 30)

	activeZoneOpen  = hm(11, 0)
	activeZoneClose = hm(16, 0)
)

func hm(h, m int) time.Time {
	return time.Date(0, 1, 1, h, m, 0, 0, time.UTC)
}

// holidayFile is the on-disk cache shape: {generatedAt, holidays[], shortSessions[]}.
type holidayFile struct {
	GeneratedAt   time.Time `json:"generatedAt"`
	Holidays      []string  `json:"holidays"`
	ShortSessions []string  `json:"shortSessions"`
}

// Calendar answers trading-day and trading-session questions. It loads its
// holiday set once at construction and can be reloaded atomically.
type Calendar struct {
	loc           *time.Location
	path          string
	holidays      map[string]bool
	shortSessions map[string]bool
}

// New builds a Calendar for the given IANA location, loading the holiday
// cache from path if it exists and is fresh, otherwise falling back to the
// deterministic fixed national-holiday list.
func New(loc *time.Location, path string) (*Calendar, error) {
	c := &Calendar{loc: loc, path: path, shortSessions: map[string]bool{}}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads the on-disk holiday cache, falling back to the fixed list
// when the file is missing or stale. Readers observe the new set atomically
// (the map is swapped, not mutated in place).
func (c *Calendar) Reload() error {
	holidays, shortSessions, err := c.loadFromDisk()
	if err != nil {
		holidays = fixedHolidaySet(time.Now().In(c.loc).Year())
		shortSessions = map[string]bool{}
	}
	c.holidays = holidays
	c.shortSessions = shortSessions
	return nil
}

func (c *Calendar) loadFromDisk() (map[string]bool, map[string]bool, error) {
	if c.path == "" {
		return nil, nil, fmt.Errorf("no holiday cache path configured")
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, nil, err
	}
	var f holidayFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, nil, err
	}
	if time.Since(f.GeneratedAt) > freshness {
		return nil, nil, fmt.Errorf("holiday cache stale")
	}
	set := make(map[string]bool, len(f.Holidays))
	for _, d := range f.Holidays {
		set[d] = true
	}
	shortSet := make(map[string]bool, len(f.ShortSessions))
	for _, d := range f.ShortSessions {
		shortSet[d] = true
	}
	return set, shortSet, nil
}

// fixedHolidaySet is the deterministic fallback: a short list of fixed
// national holidays, shifted to Monday when they fall on a weekend.
func fixedHolidaySet(year int) map[string]bool {
	fixed := []time.Month{time.January, time.May, time.June, time.November}
	days := []int{1, 1, 12, 4}
	set := make(map[string]bool, len(fixed))
	for i, month := range fixed {
		d := time.Date(year, month, days[i], 0, 0, 0, 0, time.UTC)
		if d.Weekday() == time.Saturday {
			d = d.AddDate(0, 0, 2)
		} else if d.Weekday() == time.Sunday {
			d = d.AddDate(0, 0, 1)
		}
		set[d.Format("2006-01-02")] = true
	}
	return set
}

func dateKey(t time.Time) string { return t.Format("2006-01-02") }

// IsTradingDay is false on Sat/Sun and any date in the holiday set.
func (c *Calendar) IsTradingDay(d time.Time) bool {
	d = d.In(c.loc)
	if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		return false
	}
	return !c.holidays[dateKey(d)]
}

// TradingHours returns the open/close wall-clock times for a trading day, or
// an error for a non-trading day.
func (c *Calendar) TradingHours(d time.Time) (Session, error) {
	d = d.In(c.loc)
	if !c.IsTradingDay(d) {
		return Session{}, fmt.Errorf("%s is not a trading day", dateKey(d))
	}
	close := regularClose
	if c.shortSessions[dateKey(d)] {
		close = shortClose
	}
	return Session{
		Open:  combine(d, regularOpen),
		Close: combine(d, close),
	}, nil
}

func combine(day, clock time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, day.Location())
}

// IsMarketOpenNow composes TradingHours with the current instant.
func (c *Calendar) IsMarketOpenNow(now time.Time) (bool, string) {
	now = now.In(c.loc)
	if !c.IsTradingDay(now) {
		return false, "not a trading day"
	}
	session, err := c.TradingHours(now)
	if err != nil {
		return false, err.Error()
	}
	if now.Before(session.Open) {
		return false, "before session open"
	}
	if now.After(session.Close) {
		return false, "after session close"
	}
	return true, "market open"
}

// InActiveZone reports whether now falls within the narrower [11:00, 16:00]
// window used by the time filter.
func (c *Calendar) InActiveZone(now time.Time) bool {
	now = now.In(c.loc)
	open := combine(now, activeZoneOpen)
	close := combine(now, activeZoneClose)
	return !now.Before(open) && !now.After(close)
}

// NextTradingDay walks forward one day at a time skipping non-trading days.
func (c *Calendar) NextTradingDay(d time.Time) time.Time {
	d = d.In(c.loc).AddDate(0, 0, 1)
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// PreviousTradingDay walks backward one day at a time skipping non-trading
// days.
func (c *Calendar) PreviousTradingDay(d time.Time) time.Time {
	d = d.In(c.loc).AddDate(0, 0, -1)
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// SaveHolidayCache writes the current holiday and short-session sets to disk
// in the {generatedAt, holidays[], shortSessions[]} shape consumed by
// loadFromDisk.
func (c *Calendar) SaveHolidayCache() error {
	dates := make([]string, 0, len(c.holidays))
	for d := range c.holidays {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	shortDates := make([]string, 0, len(c.shortSessions))
	for d := range c.shortSessions {
		shortDates = append(shortDates, d)
	}
	sort.Strings(shortDates)
	f := holidayFile{GeneratedAt: time.Now(), Holidays: dates, ShortSessions: shortDates}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// Package window decides whether a bot may run against its source right now.
//
// Some sources ask to be scraped only outside their business hours. A bot
// declares either an explicit set of permitted hours, or just the timezone the
// source lives in, in which case the standard overnight block applies.
// Weekends are always permitted.
package window

import (
	"fmt"
	"time"

	"golang.org/x/exp/slices"
)

// defaultAllowedHours is the overnight block used when only a timezone is declared.
// 24 is kept for parity with configured lists; time.Hour() never returns it.
var defaultAllowedHours = []int{18, 19, 20, 21, 22, 23, 24, 0, 1, 2, 3, 4, 5, 6, 7, 8}

// Policy is a source's declared operating window.
type Policy struct {
	// AllowedHours lists permitted hours of day (inclusive). Takes precedence over Timezone.
	AllowedHours []int `yaml:"allowed_hours,omitempty"`

	// Timezone is an IANA zone name, e.g. "America/Panama".
	Timezone string `yaml:"timezone,omitempty"`
}

// HourRange returns the inclusive hours from..to, e.g. HourRange(2, 5) = [2 3 4 5].
func HourRange(from, to int) []int {
	if to < from {
		return nil
	}
	hours := make([]int, 0, to-from+1)
	for h := from; h <= to; h++ {
		hours = append(hours, h)
	}
	return hours
}

// Guard evaluates a Policy against the current time.
type Guard struct {
	allowed []int
	loc     *time.Location
	now     func() time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		g.now = now
	}
}

// New builds a Guard. Returns an error if the timezone is unknown or an hour is out of range.
func New(p Policy, opts ...Option) (*Guard, error) {
	g := &Guard{now: time.Now}
	for _, opt := range opts {
		opt(g)
	}

	for _, h := range p.AllowedHours {
		if h < 0 || h > 24 {
			return nil, fmt.Errorf("allowed hour %d out of range 0-24", h)
		}
	}
	if len(p.AllowedHours) > 0 {
		g.allowed = slices.Clone(p.AllowedHours)
	}

	if p.Timezone != "" {
		loc, err := time.LoadLocation(p.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", p.Timezone, err)
		}
		g.loc = loc
	}

	return g, nil
}

// AllowedHours returns the permitted hours of day, or nil if the source is unrestricted.
func (g *Guard) AllowedHours() []int {
	if g.allowed != nil {
		return slices.Clone(g.allowed)
	}
	if g.loc != nil {
		return slices.Clone(defaultAllowedHours)
	}
	return nil
}

// CurrentTimeInZone returns now in the declared timezone, or in process local time.
func (g *Guard) CurrentTimeInZone() time.Time {
	now := g.now()
	if g.loc != nil {
		return now.In(g.loc)
	}
	return now
}

// InProhibitedTime reports whether running now is prohibited.
// restricted is false when the source declares no window at all; prohibited is then false too.
func (g *Guard) InProhibitedTime() (prohibited, restricted bool) {
	hours := g.AllowedHours()
	if hours == nil {
		return false, false
	}
	return prohibitedAt(g.CurrentTimeInZone(), hours), true
}

// prohibitedAt applies the window rule: weekends are free, weekdays only within hours.
func prohibitedAt(t time.Time, hours []int) bool {
	if isWeekend(t) {
		return false
	}
	return !slices.Contains(hours, t.Hour())
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

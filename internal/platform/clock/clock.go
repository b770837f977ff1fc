// Package clock provides a small seam over time.Now so pipeline day-boundary
// math (the strict-recovery window, fixed-hour triggers) can run against a
// fake instant in tests
package clock

import "time"

// Clock is the time source every component that makes day-boundary or
// scheduling decisions depends on instead of calling time.Now directly
type Clock interface {
	// Now returns the current instant in the clock's configured location
	Now() time.Time

	// Today returns the start of the current day (00:00:00) in the clock's location
	Today() time.Time

	// EndOfDay returns 23:59:59.999999999 of t's calendar day in the clock's location
	EndOfDay(t time.Time) time.Time

	// EndOfTomorrow returns the end of the day following Today()
	EndOfTomorrow() time.Time

	// InTZ returns an equivalent clock anchored to loc
	InTZ(loc *time.Location) Clock
}

// Real is a Clock backed by the system clock
type Real struct {
	loc *time.Location
}

// NewReal returns a Real clock in loc; loc defaults to time.Local when nil
func NewReal(loc *time.Location) Real {
	if loc == nil {
		loc = time.Local
	}
	return Real{loc: loc}
}

// Now returns time.Now in the clock's location
func (r Real) Now() time.Time { return time.Now().In(r.loc) }

// Today returns the start of the current day
func (r Real) Today() time.Time { return startOfDay(r.Now()) }

// EndOfDay returns the end of t's calendar day
func (r Real) EndOfDay(t time.Time) time.Time { return endOfDay(t.In(r.loc)) }

// EndOfTomorrow returns the end of the day after today
func (r Real) EndOfTomorrow() time.Time {
	return endOfDay(startOfDay(r.Now()).AddDate(0, 0, 1))
}

// InTZ returns a Real clock anchored to loc
func (r Real) InTZ(loc *time.Location) Clock { return NewReal(loc) }

// Fake is a Clock with a settable instant, for deterministic tests
type Fake struct {
	instant time.Time
	loc     *time.Location
}

// NewFake returns a Fake clock fixed at t, in t's own location
func NewFake(t time.Time) *Fake {
	return &Fake{instant: t, loc: t.Location()}
}

// Set moves the fake clock to t
func (f *Fake) Set(t time.Time) { f.instant = t }

// Advance moves the fake clock forward by d
func (f *Fake) Advance(d time.Duration) { f.instant = f.instant.Add(d) }

// Now returns the fixed instant
func (f *Fake) Now() time.Time { return f.instant }

// Today returns the start of the fixed instant's calendar day
func (f *Fake) Today() time.Time { return startOfDay(f.instant) }

// EndOfDay returns the end of t's calendar day
func (f *Fake) EndOfDay(t time.Time) time.Time { return endOfDay(t.In(f.loc)) }

// EndOfTomorrow returns the end of the day after the fixed instant's day
func (f *Fake) EndOfTomorrow() time.Time {
	return endOfDay(startOfDay(f.instant).AddDate(0, 0, 1))
}

// InTZ returns a Fake clock with the same instant reinterpreted in loc
func (f *Fake) InTZ(loc *time.Location) Clock {
	return NewFake(f.instant.In(loc))
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 999999999, t.Location())
}

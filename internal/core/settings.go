package core

import "time"

// Settings supplies the sweep parameters. Implementations may return
// different values over time; the sweeper re-reads them at the start of
// every cycle.
type Settings interface {
	EvictionInterval() time.Duration
	MaxIdleTime() time.Duration
}

// StaticSettings is a Settings with fixed values.
type StaticSettings struct {
	Interval time.Duration
	MaxIdle  time.Duration
}

func (s StaticSettings) EvictionInterval() time.Duration { return s.Interval }

func (s StaticSettings) MaxIdleTime() time.Duration { return s.MaxIdle }

package domain

import "time"

// ClockState is one persisted snapshot of a simulation's (round, day).
type ClockState struct {
	SimulationID string
	Round        int
	Day          int
	Timestamp    time.Time
}

// Before reports whether c precedes other in (round, day) order.
func (c ClockState) Before(other ClockState) bool {
	if c.Round != other.Round {
		return c.Round < other.Round
	}
	return c.Day < other.Day
}

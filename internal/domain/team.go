package domain

import "time"

// TeamType distinguishes player teams from the synthetic liquidity manager.
type TeamType string

const (
	TeamPlayers          TeamType = "PLAYERS"
	TeamLiquidityManager TeamType = "LIQUIDITY_MANAGER"
)

// Team represents a participant of one simulation. Cash and share
// balances are derived from the ledger and never stored on the team.
type Team struct {
	TeamID       string
	SimulationID string
	Name         string
	Type         TeamType
	CreatedAt    time.Time
}

// IsLiquidityManager reports whether the team is the synthetic liquidity
// provider of its simulation.
func (t *Team) IsLiquidityManager() bool {
	return t.Type == TeamLiquidityManager
}

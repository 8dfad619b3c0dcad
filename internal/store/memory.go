package store

// Memory is the in-memory Store used when no database is configured and
// in tests.
type Memory struct {
	*SimulationStore
	*MarketStore
	*OrderStore
	*LedgerStore
	*ClockStore
	*WebhookStore
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{
		SimulationStore: NewSimulationStore(),
		MarketStore:     NewMarketStore(),
		OrderStore:      NewOrderStore(),
		LedgerStore:     NewLedgerStore(),
		ClockStore:      NewClockStore(),
		WebhookStore:    NewWebhookStore(),
	}
}

package domain

import "errors"

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrSimulationNotFound       = errors.New("simulation_not_found")
	ErrTeamNotFound             = errors.New("team_not_found")
	ErrStockNotFound            = errors.New("stock_not_found")
	ErrOrderNotFound            = errors.New("order_not_found")
	ErrWebhookNotFound          = errors.New("webhook_not_found")
	ErrPricePathNotFound        = errors.New("price_path_not_found")
	ErrAlreadyInitialized       = errors.New("simulation_already_initialized")
	ErrMarketClosed             = errors.New("market_closed")
	ErrInsufficientBalance      = errors.New("insufficient_balance")
	ErrPriceOutOfBand           = errors.New("price_out_of_band")
	ErrInvalidStateTransition   = errors.New("invalid_state_transition")
	ErrInvalidOrderTransition   = errors.New("invalid_order_transition")
	ErrStalePriceSeed           = errors.New("stale_price_seed")
	ErrConcurrentMatchConflict  = errors.New("concurrent_match_conflict")
	ErrUnbalancedTransaction    = errors.New("unbalanced_transaction")
	ErrEmptyTransaction         = errors.New("empty_transaction")
	ErrMalformedTransactionLine = errors.New("malformed_transaction_line")
	ErrClockNotStarted          = errors.New("clock_not_started")
	ErrClockRegression          = errors.New("clock_regression")
)

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/tradesim/internal/domain"
	"github.com/efreitasn/tradesim/internal/oracle"
	"github.com/efreitasn/tradesim/internal/service"
)

// SimulationHandler handles HTTP requests for simulation endpoints.
type SimulationHandler struct {
	simSvc *service.SimulationService
}

// NewSimulationHandler creates a new SimulationHandler.
func NewSimulationHandler(simSvc *service.SimulationService) *SimulationHandler {
	return &SimulationHandler{simSvc: simSvc}
}

// createSimulationRequest is the JSON request body for POST /simulations.
// Omitted fields keep the configured defaults.
type createSimulationRequest struct {
	Name                    string           `json:"name"`
	NbCompanies             *int             `json:"nb_companies"`
	NbRounds                *int             `json:"nb_rounds"`
	NbDays                  *int             `json:"nb_days"`
	DayDuration             *string          `json:"day_duration"`
	DividendPayoffRate      *decimal.Decimal `json:"dividend_payoff_rate"`
	InterestRate            *decimal.Decimal `json:"interest_rate"`
	DiscountRate            *decimal.Decimal `json:"discount_rate"`
	InitialValue            *decimal.Decimal `json:"initial_value"`
	Mu                      *float64         `json:"mu"`
	Sigma                   *float64         `json:"sigma"`
	PauseBetweenRounds      *bool            `json:"pause_between_rounds"`
	Capital                 *decimal.Decimal `json:"capital"`
	NbShares                *int64           `json:"nb_shares"`
	TransactionCost         *decimal.Decimal `json:"transaction_cost"`
	VariableTransactionCost *decimal.Decimal `json:"variable_transaction_cost"`
	PriceBand               *decimal.Decimal `json:"price_band"`
}

type tickerResponse struct {
	NbCompanies        int             `json:"nb_companies"`
	NbRounds           int             `json:"nb_rounds"`
	NbDays             int             `json:"nb_days"`
	DayDuration        string          `json:"day_duration"`
	DividendPayoffRate decimal.Decimal `json:"dividend_payoff_rate"`
	InterestRate       decimal.Decimal `json:"interest_rate"`
	DiscountRate       decimal.Decimal `json:"discount_rate"`
	InitialValue       decimal.Decimal `json:"initial_value"`
	Mu                 float64         `json:"mu"`
	Sigma              float64         `json:"sigma"`
	PauseBetweenRounds bool            `json:"pause_between_rounds"`
}

// simulationResponse is the JSON representation of a simulation.
type simulationResponse struct {
	SimulationID            string          `json:"simulation_id"`
	Name                    string          `json:"name"`
	State                   string          `json:"state"`
	Ticker                  tickerResponse  `json:"ticker"`
	Capital                 decimal.Decimal `json:"capital"`
	NbShares                int64           `json:"nb_shares"`
	TransactionCost         decimal.Decimal `json:"transaction_cost"`
	VariableTransactionCost decimal.Decimal `json:"variable_transaction_cost"`
	PriceBand               decimal.Decimal `json:"price_band"`
	CreatedAt               string          `json:"created_at"`
	UpdatedAt               string          `json:"updated_at"`
}

type teamResponse struct {
	TeamID       string `json:"team_id"`
	SimulationID string `json:"simulation_id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	CreatedAt    string `json:"created_at"`
}

type clockResponse struct {
	SimulationID string  `json:"simulation_id"`
	Round        int     `json:"round"`
	Day          int     `json:"day"`
	Timestamp    *string `json:"timestamp"`
}

type stockResponse struct {
	StockID      string           `json:"stock_id"`
	SimulationID string           `json:"simulation_id"`
	Symbol       string           `json:"symbol"`
	Name         string           `json:"name"`
	Quantity     int64            `json:"quantity"`
	Price        decimal.Decimal  `json:"price"`
	OpeningPrice *decimal.Decimal `json:"opening_price"`
	UpdatedAt    string           `json:"updated_at"`
}

func buildSimulationResponse(s *domain.Simulation) simulationResponse {
	t := s.Ticker
	return simulationResponse{
		SimulationID: s.SimulationID,
		Name:         s.Name,
		State:        s.State.String(),
		Ticker: tickerResponse{
			NbCompanies:        t.NbCompanies,
			NbRounds:           t.NbRounds,
			NbDays:             t.NbDays,
			DayDuration:        t.DayDuration.String(),
			DividendPayoffRate: t.DividendPayoffRate,
			InterestRate:       t.InterestRate,
			DiscountRate:       t.DiscountRate,
			InitialValue:       t.InitialValue,
			Mu:                 t.Mu,
			Sigma:              t.Sigma,
			PauseBetweenRounds: t.PauseBetweenRounds,
		},
		Capital:                 s.Capital,
		NbShares:                s.NbShares,
		TransactionCost:         s.TransactionCost,
		VariableTransactionCost: s.VariableTransactionCost,
		PriceBand:               s.PriceBand,
		CreatedAt:               formatTime(s.CreatedAt),
		UpdatedAt:               formatTime(s.UpdatedAt),
	}
}

func buildTeamResponse(t *domain.Team) teamResponse {
	return teamResponse{
		TeamID:       t.TeamID,
		SimulationID: t.SimulationID,
		Name:         t.Name,
		Type:         string(t.Type),
		CreatedAt:    formatTime(t.CreatedAt),
	}
}

func buildStockResponse(s *domain.Stock) stockResponse {
	return stockResponse{
		StockID:      s.StockID,
		SimulationID: s.SimulationID,
		Symbol:       s.Symbol,
		Name:         s.Name,
		Quantity:     s.Quantity,
		Price:        s.Price,
		OpeningPrice: s.OpeningPrice,
		UpdatedAt:    formatTime(s.UpdatedAt),
	}
}

// Create handles POST /simulations.
func (h *SimulationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSimulationRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var dayDuration *time.Duration
	if req.DayDuration != nil {
		d, err := time.ParseDuration(*req.DayDuration)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "day_duration must be a duration such as \"60s\"")
			return
		}
		dayDuration = &d
	}

	sim, err := h.simSvc.Create(r.Context(), service.CreateSimulationRequest{
		Name:                    req.Name,
		NbCompanies:             req.NbCompanies,
		NbRounds:                req.NbRounds,
		NbDays:                  req.NbDays,
		DayDuration:             dayDuration,
		DividendPayoffRate:      req.DividendPayoffRate,
		InterestRate:            req.InterestRate,
		DiscountRate:            req.DiscountRate,
		InitialValue:            req.InitialValue,
		Mu:                      req.Mu,
		Sigma:                   req.Sigma,
		PauseBetweenRounds:      req.PauseBetweenRounds,
		Capital:                 req.Capital,
		NbShares:                req.NbShares,
		TransactionCost:         req.TransactionCost,
		VariableTransactionCost: req.VariableTransactionCost,
		PriceBand:               req.PriceBand,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, buildSimulationResponse(sim))
}

// Get handles GET /simulations/{simulation_id}.
func (h *SimulationHandler) Get(w http.ResponseWriter, r *http.Request) {
	sim, err := h.simSvc.Get(r.Context(), chi.URLParam(r, "simulation_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildSimulationResponse(sim))
}

type addTeamRequest struct {
	Name string `json:"name"`
}

// AddTeam handles POST /simulations/{simulation_id}/teams.
func (h *SimulationHandler) AddTeam(w http.ResponseWriter, r *http.Request) {
	var req addTeamRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	team, err := h.simSvc.AddTeam(r.Context(), chi.URLParam(r, "simulation_id"), req.Name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, buildTeamResponse(team))
}

// ListTeams handles GET /simulations/{simulation_id}/teams.
func (h *SimulationHandler) ListTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := h.simSvc.Teams(r.Context(), chi.URLParam(r, "simulation_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := make([]teamResponse, len(teams))
	for i, t := range teams {
		resp[i] = buildTeamResponse(t)
	}
	WriteJSON(w, http.StatusOK, map[string]any{"teams": resp})
}

// Initialize handles POST /simulations/{simulation_id}/initialize.
func (h *SimulationHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	sim, err := h.simSvc.Initialize(r.Context(), chi.URLParam(r, "simulation_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildSimulationResponse(sim))
}

type advanceStateRequest struct {
	State string `json:"state"`
}

type stateResultResponse struct {
	Result  string `json:"result"`
	Message string `json:"message,omitempty"`
}

// AdvanceState handles POST /simulations/{simulation_id}/state. A
// transition the state gate refuses is reported as rejected.
func (h *SimulationHandler) AdvanceState(w http.ResponseWriter, r *http.Request) {
	var req advanceStateRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	err := h.simSvc.AdvanceState(r.Context(), chi.URLParam(r, "simulation_id"), req.State)
	if errors.Is(err, domain.ErrInvalidStateTransition) {
		WriteJSON(w, http.StatusConflict, stateResultResponse{Result: "rejected", Message: err.Error()})
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stateResultResponse{Result: "ok"})
}

// Clock handles GET /simulations/{simulation_id}/clock.
func (h *SimulationHandler) Clock(w http.ResponseWriter, r *http.Request) {
	c, err := h.simSvc.Clock(r.Context(), chi.URLParam(r, "simulation_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := clockResponse{SimulationID: c.SimulationID, Round: c.Round, Day: c.Day}
	if !c.Timestamp.IsZero() {
		ts := formatTime(c.Timestamp)
		resp.Timestamp = &ts
	}
	WriteJSON(w, http.StatusOK, resp)
}

type rankingResponse struct {
	SimulationID string             `json:"simulation_id"`
	Ranking      []oracle.RankEntry `json:"ranking"`
}

// Ranking handles GET /simulations/{simulation_id}/ranking.
func (h *SimulationHandler) Ranking(w http.ResponseWriter, r *http.Request) {
	simulationID := chi.URLParam(r, "simulation_id")
	ranking, err := h.simSvc.Ranking(r.Context(), simulationID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rankingResponse{SimulationID: simulationID, Ranking: ranking})
}

// Stocks handles GET /simulations/{simulation_id}/stocks.
func (h *SimulationHandler) Stocks(w http.ResponseWriter, r *http.Request) {
	stocks, err := h.simSvc.Stocks(r.Context(), chi.URLParam(r, "simulation_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := make([]stockResponse, len(stocks))
	for i, s := range stocks {
		resp[i] = buildStockResponse(s)
	}
	WriteJSON(w, http.StatusOK, map[string]any{"stocks": resp})
}

// Tick handles POST /ticks, advancing every RUNNING simulation whose day
// has elapsed.
func (h *SimulationHandler) Tick(w http.ResponseWriter, r *http.Request) {
	n := h.simSvc.Tick(r.Context())
	WriteJSON(w, http.StatusOK, map[string]int{"advanced": n})
}

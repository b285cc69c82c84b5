package tracker

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/stakeledger/tracker/internal/day"
	"github.com/stakeledger/tracker/internal/ledger"
	"github.com/stakeledger/tracker/internal/model"
	"github.com/stakeledger/tracker/internal/store"
)

var validate = validator.New()

// API exposes a Service over HTTP.
type API struct {
	svc *Service
}

// NewAPI creates the HTTP layer for svc.
func NewAPI(svc *Service) *API {
	return &API{svc: svc}
}

// Register mounts the routes on r, typically under /api/v1.
func (a *API) Register(r chi.Router) {
	r.Get("/challenges", a.ListChallenges)
	r.Post("/challenges", a.CreateChallenge)
	r.Get("/challenges/current", a.CurrentChallenge)
	r.Get("/challenges/{challengeID}", a.GetChallenge)
	r.Post("/challenges/{challengeID}/bets", a.PlaceBet)
	r.Post("/challenges/{challengeID}/finish", a.FinishChallenge)

	r.Get("/stats/daily", a.GetDailyStats)
	r.Get("/analytics", a.GetAnalytics)

	r.Get("/records", a.ListRecords)
	r.Post("/records", a.CreateRecord)
	r.Delete("/records", a.ClearRecords)
	r.Patch("/records/{recordID}", a.UpdateRecord)
	r.Delete("/records/{recordID}", a.DeleteRecord)
}

// --- Request types ---

// CreateChallengeRequest is the optional JSON body for POST /challenges.
type CreateChallengeRequest struct {
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// PlaceBetRequest is the JSON body for POST /challenges/{id}/bets.
type PlaceBetRequest struct {
	Amount *decimal.Decimal `json:"amount" validate:"required"`
	Odds   *decimal.Decimal `json:"odds"   validate:"required"`
	Result string           `json:"result" validate:"required,oneof=win loss"`
}

// RecordRequest is the JSON body for POST /records.
type RecordRequest struct {
	Date              string           `json:"date"               validate:"required,datetime=2006-01-02"`
	InitialInvestment *decimal.Decimal `json:"initial_investment" validate:"required"`
	TotalSteps        int              `json:"total_steps"        validate:"gte=0"`
	MaxAmountReached  *decimal.Decimal `json:"max_amount_reached" validate:"required"`
	FinalResult       string           `json:"final_result"       validate:"required,oneof=in_progress completed failed abandoned"`
	Observations      string           `json:"observations"       validate:"max=2000"`
}

// RecordPatchRequest is the JSON body for PATCH /records/{id}.
type RecordPatchRequest struct {
	Date              *string          `json:"date"               validate:"omitempty,datetime=2006-01-02"`
	InitialInvestment *decimal.Decimal `json:"initial_investment"`
	TotalSteps        *int             `json:"total_steps"        validate:"omitempty,gte=0"`
	MaxAmountReached  *decimal.Decimal `json:"max_amount_reached"`
	FinalResult       *string          `json:"final_result"       validate:"omitempty,oneof=in_progress completed failed abandoned"`
	Observations      *string          `json:"observations"       validate:"omitempty,max=2000"`
}

func (p RecordPatchRequest) patch() model.SummaryPatch {
	out := model.SummaryPatch{
		Date:              p.Date,
		InitialInvestment: p.InitialInvestment,
		TotalSteps:        p.TotalSteps,
		MaxAmountReached:  p.MaxAmountReached,
		Observations:      p.Observations,
	}
	if p.FinalResult != nil {
		fr := model.FinalResult(*p.FinalResult)
		out.FinalResult = &fr
	}
	return out
}

// --- HTTP Handlers ---

// CreateChallenge handles POST /api/v1/challenges
func (a *API) CreateChallenge(w http.ResponseWriter, r *http.Request) {
	var req CreateChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	c, err := a.svc.StartChallenge(r.Context(), req.Date)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// ListChallenges handles GET /api/v1/challenges
// Returns all challenges, optionally filtered by ?date=YYYY-MM-DD.
func (a *API) ListChallenges(w http.ResponseWriter, r *http.Request) {
	challenges, err := a.svc.ListChallenges(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, challenges)
}

// CurrentChallenge handles GET /api/v1/challenges/current
func (a *API) CurrentChallenge(w http.ResponseWriter, r *http.Request) {
	c, err := a.svc.CurrentChallenge(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// GetChallenge handles GET /api/v1/challenges/{challengeID}
func (a *API) GetChallenge(w http.ResponseWriter, r *http.Request) {
	c, err := a.svc.GetChallenge(r.Context(), chi.URLParam(r, "challengeID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// PlaceBet handles POST /api/v1/challenges/{challengeID}/bets
func (a *API) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req PlaceBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	c, err := a.svc.PlaceBet(r.Context(), chi.URLParam(r, "challengeID"), ledger.BetInput{
		Amount: *req.Amount,
		Odds:   *req.Odds,
		Result: model.BetResult(req.Result),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// FinishChallenge handles POST /api/v1/challenges/{challengeID}/finish
func (a *API) FinishChallenge(w http.ResponseWriter, r *http.Request) {
	c, err := a.svc.FinishChallenge(r.Context(), chi.URLParam(r, "challengeID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// GetDailyStats handles GET /api/v1/stats/daily
func (a *API) GetDailyStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.svc.DailyStats(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetAnalytics handles GET /api/v1/analytics
// Accepts ?from=&to= (inclusive days) and ?result= (a final result or "all").
func (a *API) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	report, err := a.svc.Report(r.Context(), ReportQuery{
		From:   q.Get("from"),
		To:     q.Get("to"),
		Result: q.Get("result"),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListRecords handles GET /api/v1/records
func (a *API) ListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := a.svc.ListRecords(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// CreateRecord handles POST /api/v1/records
func (a *API) CreateRecord(w http.ResponseWriter, r *http.Request) {
	var req RecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rec, err := a.svc.AddRecord(r.Context(), RecordInput{
		Date:              req.Date,
		InitialInvestment: *req.InitialInvestment,
		TotalSteps:        req.TotalSteps,
		MaxAmountReached:  *req.MaxAmountReached,
		FinalResult:       model.FinalResult(req.FinalResult),
		Observations:      req.Observations,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// UpdateRecord handles PATCH /api/v1/records/{recordID}
func (a *API) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	var req RecordPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rec, err := a.svc.UpdateRecord(r.Context(), chi.URLParam(r, "recordID"), req.patch())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeleteRecord handles DELETE /api/v1/records/{recordID}
func (a *API) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeleteRecord(r.Context(), chi.URLParam(r, "recordID")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearRecords handles DELETE /api/v1/records
func (a *API) ClearRecords(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.ClearRecords(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Responses ---

// StatusFor maps a service error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidInput),
		errors.Is(err, day.ErrInvalidDay),
		errors.Is(err, day.ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrChallengeTerminated),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, store.ErrStepOutOfOrder),
		errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeServiceError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusServiceUnavailable:
		msg = "storage unavailable"
	case http.StatusInternalServerError:
		msg = "internal error"
	}
	writeError(w, msg, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

package account

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/gerenciadorbet/ledger-engine/internal/ledger"
	"github.com/gerenciadorbet/ledger-engine/internal/store"
)

// Handler exposes the Service over HTTP.
type Handler struct {
	svc *Service
	log *zap.Logger
}

// NewHandler creates the HTTP handler set.
func NewHandler(svc *Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, log: log}
}

// Routes mounts every user-scoped endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/users/{userID}", func(r chi.Router) {
		r.Post("/settings/init", h.InitializeSettings)
		r.Get("/settings", h.GetSettings)
		r.Patch("/settings", h.UpdateSettings)

		r.Get("/bets", h.ListBets)
		r.Post("/bets", h.CreateBet)
		r.Put("/bets/{betID}", h.UpdateBet)
		r.Delete("/bets/{betID}", h.DeleteBet)

		r.Get("/withdrawals", h.ListWithdrawals)
		r.Post("/withdrawals", h.CreateWithdrawal)
		r.Put("/withdrawals/{withdrawalID}", h.UpdateWithdrawal)
		r.Delete("/withdrawals/{withdrawalID}", h.DeleteWithdrawal)

		r.Get("/goals", h.ListGoals)
		r.Post("/goals", h.CreateGoal)
		r.Put("/goals/{goalID}", h.UpdateGoal)
		r.Delete("/goals/{goalID}", h.DeleteGoal)

		r.Get("/categories", h.ListCategories)
		r.Post("/categories", h.CreateCategory)
		r.Delete("/categories/{categoryID}", h.DeleteCategory)

		r.Get("/ledger", h.Timeline)
		r.Get("/limits", h.CheckLimits)
		r.Get("/days", h.Days)

		r.Get("/notifications", h.ListNotifications)
		r.Delete("/notifications", h.ClearNotifications)
		r.Post("/notifications/{notificationID}/read", h.MarkNotificationRead)

		r.Post("/reset", h.Reset)
	})
}

// --- Settings ---

// InitializeSettings handles POST /api/v1/users/{userID}/settings/init
func (h *Handler) InitializeSettings(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.InitializeSettings(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetSettings handles GET /api/v1/users/{userID}/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.GetSettings(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// UpdateSettings handles PATCH /api/v1/users/{userID}/settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch SettingsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	st, err := h.svc.UpdateSettings(r.Context(), chi.URLParam(r, "userID"), patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Reset handles POST /api/v1/users/{userID}/reset
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.ResetAllUserData(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// --- Bets ---

// ListBets handles GET /api/v1/users/{userID}/bets
func (h *Handler) ListBets(w http.ResponseWriter, r *http.Request) {
	bets, err := h.svc.ListBets(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bets)
}

// CreateBet handles POST /api/v1/users/{userID}/bets
func (h *Handler) CreateBet(w http.ResponseWriter, r *http.Request) {
	var in BetInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	bet, err := h.svc.AddBet(r.Context(), chi.URLParam(r, "userID"), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bet)
}

// UpdateBet handles PUT /api/v1/users/{userID}/bets/{betID}
func (h *Handler) UpdateBet(w http.ResponseWriter, r *http.Request) {
	var in BetInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	bet, err := h.svc.UpdateBet(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "betID"), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bet)
}

// DeleteBet handles DELETE /api/v1/users/{userID}/bets/{betID}
func (h *Handler) DeleteBet(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteBet(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "betID")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Withdrawals ---

// ListWithdrawals handles GET /api/v1/users/{userID}/withdrawals
func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	ws, err := h.svc.ListWithdrawals(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

// CreateWithdrawal handles POST /api/v1/users/{userID}/withdrawals
func (h *Handler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	var in WithdrawalInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	wd, err := h.svc.AddWithdrawal(r.Context(), chi.URLParam(r, "userID"), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wd)
}

// UpdateWithdrawal handles PUT /api/v1/users/{userID}/withdrawals/{withdrawalID}
func (h *Handler) UpdateWithdrawal(w http.ResponseWriter, r *http.Request) {
	var in WithdrawalInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	wd, err := h.svc.UpdateWithdrawal(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "withdrawalID"), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wd)
}

// DeleteWithdrawal handles DELETE /api/v1/users/{userID}/withdrawals/{withdrawalID}
func (h *Handler) DeleteWithdrawal(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteWithdrawal(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "withdrawalID")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Goals ---

// ListGoals handles GET /api/v1/users/{userID}/goals
func (h *Handler) ListGoals(w http.ResponseWriter, r *http.Request) {
	gs, err := h.svc.ListGoals(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gs)
}

// CreateGoal handles POST /api/v1/users/{userID}/goals
func (h *Handler) CreateGoal(w http.ResponseWriter, r *http.Request) {
	var in GoalInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	g, err := h.svc.AddGoal(r.Context(), chi.URLParam(r, "userID"), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

// UpdateGoal handles PUT /api/v1/users/{userID}/goals/{goalID}
func (h *Handler) UpdateGoal(w http.ResponseWriter, r *http.Request) {
	var in GoalInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	g, err := h.svc.UpdateGoal(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "goalID"), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// DeleteGoal handles DELETE /api/v1/users/{userID}/goals/{goalID}
func (h *Handler) DeleteGoal(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteGoal(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "goalID")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Categories ---

// ListCategories handles GET /api/v1/users/{userID}/categories
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	cs, err := h.svc.ListCategories(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

// CreateCategory handles POST /api/v1/users/{userID}/categories
func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	c, err := h.svc.AddCategory(r.Context(), chi.URLParam(r, "userID"), req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// DeleteCategory handles DELETE /api/v1/users/{userID}/categories/{categoryID}
func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteCategory(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "categoryID")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Derived views ---

// Timeline handles GET /api/v1/users/{userID}/ledger
// Returns the reconciled chronological history for exports.
func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Timeline(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// CheckLimits handles GET /api/v1/users/{userID}/limits
func (h *Handler) CheckLimits(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.CheckStopLimits(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Days handles GET /api/v1/users/{userID}/days?month=YYYY-MM
func (h *Handler) Days(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.MonthSummary(r.Context(), chi.URLParam(r, "userID"), r.URL.Query().Get("month"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// --- Notifications ---

// ListNotifications handles GET /api/v1/users/{userID}/notifications
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	ns, err := h.svc.ListNotifications(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ns)
}

// MarkNotificationRead handles POST /api/v1/users/{userID}/notifications/{notificationID}/read
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	err := h.svc.MarkNotificationRead(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "notificationID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearNotifications handles DELETE /api/v1/users/{userID}/notifications
func (h *Handler) ClearNotifications(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearNotifications(r.Context(), chi.URLParam(r, "userID")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

// StatusFor maps service errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInsufficientBalance), errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrSettingsMissing):
		return http.StatusPreconditionFailed
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, "internal error", status)
		return
	}
	writeError(w, err.Error(), status)
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

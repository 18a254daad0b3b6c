// Package api provides the HTTP control API and the websocket lifecycle
// stream for the spin engine
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/alexbotov/spinflow/internal/auth"
	"github.com/alexbotov/spinflow/internal/autoplay"
	"github.com/alexbotov/spinflow/internal/control"
	"github.com/alexbotov/spinflow/internal/dialog"
	"github.com/alexbotov/spinflow/internal/domain"
	"github.com/alexbotov/spinflow/internal/spin"
	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Engine is the part of the orchestrator the API drives
type Engine interface {
	Snapshot() spin.Snapshot
	Spin(ctx context.Context) (*domain.SpinResult, error)
	BuyFeature(ctx context.Context) (*domain.SpinResult, error)
	SetBet(ctx context.Context, bet decimal.Decimal) error
	SetEnhancedBet(ctx context.Context, on bool) error
	SetTurbo(ctx context.Context, on bool)
	StartAutoplay(ctx context.Context, n int) error
	StopAutoplay(ctx context.Context)
	CloseDialog(ctx context.Context, id dialog.ID) bool
}

// History lists settled spins, newest first
type History interface {
	GetSpins(ctx context.Context, limit int) ([]*domain.SpinRecord, error)
}

// Handler contains all HTTP handlers
type Handler struct {
	engine   Engine
	auth     *auth.Service
	history  History
	hub      *Hub
	control  *control.Service
	validate *validator.Validate
}

// New creates a new API handler. history may be nil when no journal is kept.
func New(engine Engine, authSvc *auth.Service, history History, hub *Hub, ctrl *control.Service) *Handler {
	return &Handler{
		engine:   engine,
		auth:     authSvc,
		history:  history,
		hub:      hub,
		control:  ctrl,
		validate: validator.New(),
	}
}

// Response helpers

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

type APIError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondAPIError(w, status, &APIError{Code: code, Message: message})
}

func respondAPIError(w http.ResponseWriter, status int, apiErr *APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   apiErr,
	})
}

// decode reads a JSON body into dst and validates it
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		respondAPIError(w, http.StatusBadRequest, &APIError{
			Code:    "VALIDATION_FAILED",
			Message: "Request validation failed",
			Fields:  validationFields(err),
		})
		return false
	}
	return true
}

func validationFields(err error) map[string]string {
	fields := make(map[string]string)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		fields["error"] = "Invalid request format"
		return fields
	}
	for _, e := range verrs {
		field := strings.ToLower(e.Field())
		switch e.Tag() {
		case "required":
			fields[field] = "This field is required"
		case "min":
			fields[field] = "Must be at least " + e.Param()
		case "max":
			fields[field] = "Must be at most " + e.Param()
		case "oneof":
			fields[field] = "Must be one of: " + e.Param()
		default:
			fields[field] = "Invalid value"
		}
	}
	return fields
}

// respondEngineError maps engine errors to HTTP statuses
func respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, control.ErrGamingDisabled):
		respondError(w, http.StatusForbidden, "GAMING_DISABLED", "Gaming is currently disabled")
	case errors.Is(err, spin.ErrInsufficientBalance):
		respondError(w, http.StatusPaymentRequired, "INSUFFICIENT_BALANCE", "Insufficient balance")
	case errors.Is(err, spin.ErrSpinInProgress):
		respondError(w, http.StatusConflict, "SPIN_IN_PROGRESS", "A spin is already in progress")
	case errors.Is(err, spin.ErrBonusActive):
		respondError(w, http.StatusConflict, "BONUS_ACTIVE", "A bonus round is in progress")
	case errors.Is(err, spin.ErrAutoplayActive), errors.Is(err, autoplay.ErrAlreadyActive):
		respondError(w, http.StatusConflict, "AUTOPLAY_ACTIVE", "Autoplay is in progress")
	case errors.Is(err, spin.ErrInvalidBet), errors.Is(err, spin.ErrBetNotAllowed):
		respondError(w, http.StatusBadRequest, "INVALID_BET", err.Error())
	case errors.Is(err, autoplay.ErrInvalidCount):
		respondError(w, http.StatusBadRequest, "INVALID_SPIN_COUNT", err.Error())
	default:
		log.WithError(err).Error("Engine request failed")
		respondError(w, http.StatusInternalServerError, "ENGINE_ERROR", "Engine request failed")
	}
}

// getClientIP extracts client IP from request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return xrip
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

// === Health & Info ===

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"phase":     snap.Phase,
		"renderers": h.hub.Clients(),
	})
}

// ServerInfo handles GET /
func (h *Handler) ServerInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"name":        "spinflow",
		"version":     "1.0.0",
		"description": "Spin lifecycle and autoplay orchestration engine",
	})
}

// === Authentication ===

// TokenRequest is the body of POST /api/v1/auth/token
type TokenRequest struct {
	Operator string `json:"operator" validate:"required,max=64"`
	Key      string `json:"key" validate:"required"`
}

// IssueToken handles POST /api/v1/auth/token
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if !h.decode(w, r, &req) {
		return
	}

	tok, err := h.auth.Login(r.Context(), req.Operator, req.Key, getClientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrDisabled):
			respondError(w, http.StatusForbidden, "LOGIN_DISABLED", "Operator login is disabled")
		case errors.Is(err, auth.ErrInvalidCredentials):
			respondError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid operator or key")
		default:
			respondError(w, http.StatusInternalServerError, "AUTH_ERROR", "Failed to issue token")
		}
		return
	}

	respondJSON(w, http.StatusOK, tok)
}

// === Engine ===

// GetState handles GET /api/v1/state
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.engine.Snapshot())
}

// SpinRequest is the body of POST /api/v1/spin
type SpinRequest struct {
	Mode string `json:"mode" validate:"omitempty,oneof=normal buy_feature"`
}

// Spin handles POST /api/v1/spin. It returns once the spin has settled.
func (h *Handler) Spin(w http.ResponseWriter, r *http.Request) {
	var req SpinRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}

	var (
		res *domain.SpinResult
		err error
	)
	if domain.SpinMode(req.Mode) == domain.SpinModeBuyFeature {
		res, err = h.engine.BuyFeature(r.Context())
	} else {
		res, err = h.engine.Spin(r.Context())
	}
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"result": res,
		"state":  h.engine.Snapshot(),
	})
}

// BetRequest is the body of POST /api/v1/bet
type BetRequest struct {
	Bet         string `json:"bet" validate:"omitempty,numeric"`
	EnhancedBet *bool  `json:"enhanced_bet"`
}

// SetBet handles POST /api/v1/bet
func (h *Handler) SetBet(w http.ResponseWriter, r *http.Request) {
	var req BetRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Bet == "" && req.EnhancedBet == nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "bet or enhanced_bet is required")
		return
	}

	ctx := r.Context()
	if req.Bet != "" {
		bet, err := decimal.NewFromString(req.Bet)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_BET", "Invalid bet amount")
			return
		}
		if err := h.engine.SetBet(ctx, bet); err != nil {
			respondEngineError(w, err)
			return
		}
	}
	if req.EnhancedBet != nil {
		if err := h.engine.SetEnhancedBet(ctx, *req.EnhancedBet); err != nil {
			respondEngineError(w, err)
			return
		}
	}

	respondJSON(w, http.StatusOK, h.engine.Snapshot())
}

// TurboRequest is the body of POST /api/v1/turbo
type TurboRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// SetTurbo handles POST /api/v1/turbo
func (h *Handler) SetTurbo(w http.ResponseWriter, r *http.Request) {
	var req TurboRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.engine.SetTurbo(r.Context(), *req.Enabled)
	respondJSON(w, http.StatusOK, h.engine.Snapshot())
}

// AutoplayRequest is the body of POST /api/v1/autoplay
type AutoplayRequest struct {
	Spins int `json:"spins" validate:"required,min=1,max=1000"`
}

// StartAutoplay handles POST /api/v1/autoplay
func (h *Handler) StartAutoplay(w http.ResponseWriter, r *http.Request) {
	var req AutoplayRequest
	if !h.decode(w, r, &req) {
		return
	}
	// autoplay outlives the request
	if err := h.engine.StartAutoplay(context.WithoutCancel(r.Context()), req.Spins); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, h.engine.Snapshot())
}

// StopAutoplay handles DELETE /api/v1/autoplay
func (h *Handler) StopAutoplay(w http.ResponseWriter, r *http.Request) {
	h.engine.StopAutoplay(r.Context())
	respondJSON(w, http.StatusOK, h.engine.Snapshot())
}

// DialogCloseRequest names the dialog being closed
type DialogCloseRequest struct {
	DialogID dialog.ID `json:"dialog_id" validate:"required"`
}

// CloseDialog handles POST /api/v1/dialog/close. Closing a dialog that is
// no longer visible is not an error.
func (h *Handler) CloseDialog(w http.ResponseWriter, r *http.Request) {
	var req DialogCloseRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.engine.CloseDialog(r.Context(), req.DialogID) {
		log.WithField("dialog_id", req.DialogID).Debug("Dialog close ignored")
	}
	respondJSON(w, http.StatusOK, h.engine.Snapshot())
}

// GetHistory handles GET /api/v1/history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		respondError(w, http.StatusNotFound, "NO_JOURNAL", "Spin journal is not enabled")
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 || parsed > 500 {
			respondError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}

	spins, err := h.history.GetSpins(r.Context(), limit)
	if err != nil {
		log.WithError(err).Error("Failed to load spin history")
		respondError(w, http.StatusInternalServerError, "HISTORY_ERROR", "Failed to load history")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"spins": spins,
		"count": len(spins),
	})
}

// === Operator control ===

// GetControlStatus handles GET /api/v1/control
func (h *Handler) GetControlStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.control.GetStatus())
}

// DisableRequest is the body of POST /api/v1/control/disable
type DisableRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// DisableGaming handles POST /api/v1/control/disable
func (h *Handler) DisableGaming(w http.ResponseWriter, r *http.Request) {
	var req DisableRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.control.DisableAllGaming(r.Context(), req.Reason, operatorName(r)); err != nil {
		log.WithError(err).Error("Failed to disable gaming")
		respondError(w, http.StatusInternalServerError, "CONTROL_ERROR", "Failed to disable gaming")
		return
	}
	respondJSON(w, http.StatusOK, h.control.GetStatus())
}

// EnableGaming handles POST /api/v1/control/enable
func (h *Handler) EnableGaming(w http.ResponseWriter, r *http.Request) {
	if err := h.control.EnableAllGaming(r.Context(), operatorName(r)); err != nil {
		log.WithError(err).Error("Failed to enable gaming")
		respondError(w, http.StatusInternalServerError, "CONTROL_ERROR", "Failed to enable gaming")
		return
	}
	respondJSON(w, http.StatusOK, h.control.GetStatus())
}

func operatorName(r *http.Request) string {
	if claims, ok := ClaimsFromContext(r.Context()); ok {
		return claims.Operator
	}
	return ""
}

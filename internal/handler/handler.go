// Package handler содержит HTTP-обработчики API escrow-сервиса.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/gigmarket-escrow/internal/gateway"
	"github.com/mmeshcher/gigmarket-escrow/internal/ledger"
	"github.com/mmeshcher/gigmarket-escrow/internal/middleware"
	"github.com/mmeshcher/gigmarket-escrow/internal/model"
	"github.com/mmeshcher/gigmarket-escrow/internal/service"
	"github.com/mmeshcher/gigmarket-escrow/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, name string, role model.Role) (*model.User, error)
	GetBalance(ctx context.Context, userID int64) (*service.Balance, error)
	CreateDeposit(ctx context.Context, userID int64, amount decimal.Decimal) (*model.Deposit, *gateway.PaymentIntent, error)

	CreateJob(ctx context.Context, employerID int64, title, description string, budgetMin, budgetMax decimal.Decimal) (*model.Job, error)
	GetJob(ctx context.Context, jobID int64) (*model.Job, error)
	ListJobBids(ctx context.Context, jobID, callerID int64) ([]model.Bid, error)
	SubmitBid(ctx context.Context, workerID, jobID int64, amount decimal.Decimal, proposal string) (*model.Bid, error)
	AcceptBid(ctx context.Context, bidID, callerID int64) (*model.Project, error)
	RejectBid(ctx context.Context, bidID, callerID int64) (*model.Bid, error)

	GetProject(ctx context.Context, projectID, callerID int64) (*model.Project, error)
	GetContract(ctx context.Context, projectID, callerID int64) (*model.Contract, error)
	ListProjectTransactions(ctx context.Context, projectID, callerID int64) ([]model.Transaction, error)
	CompleteProject(ctx context.Context, projectID, callerID int64, notes string) (*model.Project, error)
	CreatePaymentIntent(ctx context.Context, projectID, callerID int64) (*gateway.PaymentIntent, error)
	ReleasePayment(ctx context.Context, projectID, callerID int64) (*model.Transaction, error)
	RefundPayment(ctx context.Context, projectID, callerID int64, reason string) (*model.Transaction, error)

	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// Handler реализует HTTP-обработчики API escrow-сервиса.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	validator      *validation.Validator
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		validator:      validation.New(),
	}
}

// statusFor сопоставляет доменную ошибку HTTP-статусу.
func statusFor(err error) int {
	switch {
	case errors.Is(err, gateway.ErrInvalidSignature), errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, model.ErrInvalidInput), errors.Is(err, gateway.ErrMalformedEvent):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrInsufficientEscrow),
		errors.Is(err, model.ErrInvalidStateTransition),
		errors.Is(err, model.ErrDuplicateBid),
		errors.Is(err, model.ErrAlreadyReleased),
		errors.Is(err, model.ErrPayoutInProgress),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrBalanceOverflow):
		return http.StatusUnprocessableEntity
	case gateway.IsTransient(err):
		return http.StatusServiceUnavailable
	case gateway.IsGatewayError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(op+" error", zap.Error(err))
		http.Error(w, http.StatusText(status), status)
		return
	}

	msg := http.StatusText(status)
	if !errors.Is(err, gateway.ErrInvalidSignature) {
		msg = err.Error()
	}
	h.writeJSON(w, status, errorResponse{Error: msg})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode response error", zap.Error(err))
	}
}

// decode читает JSON-тело и проверяет его теги validate.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed JSON body"})
		return false
	}
	if err := h.validator.Validate(v); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return false
	}
	return true
}

// decodeOptional как decode, но пустое тело допустимо.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed JSON body"})
		return false
	}
	if err := h.validator.Validate(v); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func callerID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return userID, ok
}

package handler

import (
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/gigmarket-escrow/internal/model"
)

type registerRequest struct {
	Name string `json:"name" validate:"required,max=200"`
	Role string `json:"role" validate:"required,oneof=employer worker"`
}

// Register регистрирует пользователя и возвращает его bearer-токен.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}

	u, err := h.service.RegisterUser(r.Context(), req.Name, model.Role(req.Role))
	if err != nil {
		h.writeError(w, "register user", err)
		return
	}

	token, err := h.authMiddleware.IssueToken(u.ID, string(u.Role))
	if err != nil {
		h.logger.Error("issue token error", zap.Error(err), zap.Int64("userID", u.ID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, userResponse{ID: u.ID, Name: u.Name, Role: string(u.Role), Token: token})
}

// GetBalance возвращает escrow-баланс и заработок текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.writeError(w, "get balance", err)
		return
	}

	h.writeJSON(w, http.StatusOK, balanceResponse{
		EscrowBalance: money(balance.EscrowBalance),
		TotalEarnings: money(balance.TotalEarnings),
	})
}

type depositRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"money"`
}

// CreateDeposit начинает пополнение escrow-баланса через процессор.
func (h *Handler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req depositRequest
	if !h.decode(w, r, &req) {
		return
	}

	d, intent, err := h.service.CreateDeposit(r.Context(), userID, req.Amount)
	if err != nil {
		h.writeError(w, "create deposit", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, depositResponse{
		ID:              d.ID,
		Amount:          money(d.Amount),
		Status:          string(d.Status),
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
	})
}

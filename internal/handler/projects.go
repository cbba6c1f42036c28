package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/mmeshcher/gigmarket-escrow/internal/gateway"
)

const maxWebhookBody = 1 << 20

// GetProject возвращает проект стороне проекта.
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	p, err := h.service.GetProject(r.Context(), projectID, userID)
	if err != nil {
		h.writeError(w, "get project", err)
		return
	}

	h.writeJSON(w, http.StatusOK, newProjectResponse(p))
}

// GetContract возвращает контракт проекта.
func (h *Handler) GetContract(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	c, err := h.service.GetContract(r.Context(), projectID, userID)
	if err != nil {
		h.writeError(w, "get contract", err)
		return
	}

	h.writeJSON(w, http.StatusOK, contractResponse{
		ID:         c.ID,
		ProjectID:  c.ProjectID,
		JobID:      c.JobID,
		EmployerID: c.EmployerID,
		WorkerID:   c.WorkerID,
		CreatedAt:  formatTime(&c.CreatedAt),
	})
}

// ListTransactions возвращает журнал транзакций проекта.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	txs, err := h.service.ListProjectTransactions(r.Context(), projectID, userID)
	if err != nil {
		h.writeError(w, "list transactions", err)
		return
	}

	resp := make([]transactionResponse, 0, len(txs))
	for i := range txs {
		resp = append(resp, newTransactionResponse(&txs[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type completeRequest struct {
	Notes string `json:"notes" validate:"max=10000"`
}

// CompleteProject завершает проект. Тело запроса необязательно.
func (h *Handler) CompleteProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req completeRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}

	p, err := h.service.CompleteProject(r.Context(), projectID, userID, req.Notes)
	if err != nil {
		h.writeError(w, "complete project", err)
		return
	}

	h.writeJSON(w, http.StatusOK, newProjectResponse(p))
}

// CreatePaymentIntent создаёт намерение оплаты проекта у процессора.
func (h *Handler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	intent, err := h.service.CreatePaymentIntent(r.Context(), projectID, userID)
	if err != nil {
		h.writeError(w, "create payment intent", err)
		return
	}

	h.writeJSON(w, http.StatusOK, paymentIntentResponse{ID: intent.ID, ClientSecret: intent.ClientSecret, Status: intent.Status})
}

// ReleasePayment выплачивает исполнителю net_amount завершённого проекта.
func (h *Handler) ReleasePayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	txn, err := h.service.ReleasePayment(r.Context(), projectID, userID)
	if err != nil {
		h.writeError(w, "release payment", err)
		return
	}

	h.writeJSON(w, http.StatusOK, newTransactionResponse(txn))
}

type refundRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// RefundPayment возвращает удержанные средства работодателю.
func (h *Handler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req refundRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}

	txn, err := h.service.RefundPayment(r.Context(), projectID, userID, req.Reason)
	if err != nil {
		h.writeError(w, "refund payment", err)
		return
	}

	h.writeJSON(w, http.StatusOK, newTransactionResponse(txn))
}

// Webhook принимает уведомления процессора. Аутентификация только по подписи.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.HandleWebhook(r.Context(), payload, r.Header.Get(gateway.SignatureHeader)); err != nil {
		h.writeError(w, "webhook", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

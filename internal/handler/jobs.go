package handler

import (
	"net/http"

	"github.com/shopspring/decimal"
)

type createJobRequest struct {
	Title       string          `json:"title" validate:"required,max=200"`
	Description string          `json:"description" validate:"max=10000"`
	BudgetMin   decimal.Decimal `json:"budget_min"`
	BudgetMax   decimal.Decimal `json:"budget_max"`
}

// CreateJob публикует заказ текущего работодателя.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req createJobRequest
	if !h.decode(w, r, &req) {
		return
	}

	j, err := h.service.CreateJob(r.Context(), userID, req.Title, req.Description, req.BudgetMin, req.BudgetMax)
	if err != nil {
		h.writeError(w, "create job", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, newJobResponse(j))
}

// GetJob возвращает заказ.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	j, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		h.writeError(w, "get job", err)
		return
	}

	h.writeJSON(w, http.StatusOK, newJobResponse(j))
}

// ListJobBids возвращает ставки по заказу его владельцу.
func (h *Handler) ListJobBids(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	jobID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	bids, err := h.service.ListJobBids(r.Context(), jobID, userID)
	if err != nil {
		h.writeError(w, "list bids", err)
		return
	}

	resp := make([]bidResponse, 0, len(bids))
	for i := range bids {
		resp = append(resp, newBidResponse(&bids[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type submitBidRequest struct {
	Amount   decimal.Decimal `json:"amount" validate:"money"`
	Proposal string          `json:"proposal" validate:"max=10000"`
}

// SubmitBid сохраняет ставку текущего исполнителя.
func (h *Handler) SubmitBid(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	jobID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req submitBidRequest
	if !h.decode(w, r, &req) {
		return
	}

	b, err := h.service.SubmitBid(r.Context(), userID, jobID, req.Amount, req.Proposal)
	if err != nil {
		h.writeError(w, "submit bid", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, newBidResponse(b))
}

type bidActionRequest struct {
	Action string `json:"action" validate:"required,oneof=accept reject"`
}

// BidAction принимает или отклоняет ставку.
// Принятие возвращает созданный проект, отклонение — ставку.
func (h *Handler) BidAction(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	bidID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req bidActionRequest
	if !h.decode(w, r, &req) {
		return
	}

	if req.Action == "reject" {
		b, err := h.service.RejectBid(r.Context(), bidID, userID)
		if err != nil {
			h.writeError(w, "reject bid", err)
			return
		}
		h.writeJSON(w, http.StatusOK, newBidResponse(b))
		return
	}

	p, err := h.service.AcceptBid(r.Context(), bidID, userID)
	if err != nil {
		h.writeError(w, "accept bid", err)
		return
	}
	h.writeJSON(w, http.StatusOK, newProjectResponse(p))
}

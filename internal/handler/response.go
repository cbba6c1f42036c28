package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/gigmarket-escrow/internal/model"
)

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

type userResponse struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Role  string `json:"role"`
	Token string `json:"token,omitempty"`
}

type balanceResponse struct {
	EscrowBalance string `json:"escrow_balance"`
	TotalEarnings string `json:"total_earnings"`
}

type depositResponse struct {
	ID              int64  `json:"id"`
	Amount          string `json:"amount"`
	Status          string `json:"status"`
	PaymentIntentID string `json:"payment_intent_id,omitempty"`
	ClientSecret    string `json:"client_secret,omitempty"`
}

type jobResponse struct {
	ID          int64  `json:"id"`
	EmployerID  int64  `json:"employer_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	BudgetMin   string `json:"budget_min"`
	BudgetMax   string `json:"budget_max"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

func newJobResponse(j *model.Job) jobResponse {
	return jobResponse{
		ID:          j.ID,
		EmployerID:  j.EmployerID,
		Title:       j.Title,
		Description: j.Description,
		BudgetMin:   money(j.BudgetMin),
		BudgetMax:   money(j.BudgetMax),
		Status:      string(j.Status),
		CreatedAt:   formatTime(&j.CreatedAt),
	}
}

type bidResponse struct {
	ID        int64  `json:"id"`
	JobID     int64  `json:"job_id"`
	WorkerID  int64  `json:"worker_id"`
	Amount    string `json:"amount"`
	Proposal  string `json:"proposal,omitempty"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

func newBidResponse(b *model.Bid) bidResponse {
	return bidResponse{
		ID:        b.ID,
		JobID:     b.JobID,
		WorkerID:  b.WorkerID,
		Amount:    money(b.Amount),
		Proposal:  b.Proposal,
		Status:    string(b.Status),
		CreatedAt: formatTime(&b.CreatedAt),
	}
}

type projectResponse struct {
	ID              int64  `json:"id"`
	BidID           int64  `json:"bid_id"`
	JobID           int64  `json:"job_id"`
	EmployerID      int64  `json:"employer_id"`
	WorkerID        int64  `json:"worker_id"`
	AgreedAmount    string `json:"agreed_amount"`
	PlatformFee     string `json:"platform_fee"`
	NetAmount       string `json:"net_amount"`
	PaymentReleased bool   `json:"payment_released"`
	Status          string `json:"status"`
	StartedAt       string `json:"started_at,omitempty"`
	CompletedAt     string `json:"completed_at,omitempty"`
	CompletionNotes string `json:"completion_notes,omitempty"`
}

func newProjectResponse(p *model.Project) projectResponse {
	return projectResponse{
		ID:              p.ID,
		BidID:           p.BidID,
		JobID:           p.JobID,
		EmployerID:      p.EmployerID,
		WorkerID:        p.WorkerID,
		AgreedAmount:    money(p.AgreedAmount),
		PlatformFee:     money(p.PlatformFee),
		NetAmount:       money(p.NetAmount),
		PaymentReleased: p.PaymentReleased,
		Status:          string(p.Status),
		StartedAt:       formatTime(p.StartedAt),
		CompletedAt:     formatTime(p.CompletedAt),
		CompletionNotes: p.CompletionNotes,
	}
}

type contractResponse struct {
	ID         int64  `json:"id"`
	ProjectID  int64  `json:"project_id"`
	JobID      int64  `json:"job_id"`
	EmployerID int64  `json:"employer_id"`
	WorkerID   int64  `json:"worker_id"`
	CreatedAt  string `json:"created_at"`
}

type transactionResponse struct {
	ID            string `json:"id"`
	ProjectID     int64  `json:"project_id"`
	PayerID       int64  `json:"payer_id"`
	PayeeID       int64  `json:"payee_id"`
	Amount        string `json:"amount"`
	PlatformFee   string `json:"platform_fee"`
	NetAmount     string `json:"net_amount"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	GatewayRef    string `json:"gateway_ref,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	ProcessedAt   string `json:"processed_at,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func newTransactionResponse(t *model.Transaction) transactionResponse {
	return transactionResponse{
		ID:            t.ID.String(),
		ProjectID:     t.ProjectID,
		PayerID:       t.PayerID,
		PayeeID:       t.PayeeID,
		Amount:        money(t.Amount),
		PlatformFee:   money(t.PlatformFee),
		NetAmount:     money(t.NetAmount),
		Type:          string(t.Type),
		Status:        string(t.Status),
		GatewayRef:    t.GatewayRef,
		FailureReason: t.FailureReason,
		ProcessedAt:   formatTime(t.ProcessedAt),
		CreatedAt:     formatTime(&t.CreatedAt),
	}
}

type paymentIntentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret,omitempty"`
	Status       string `json:"status"`
}

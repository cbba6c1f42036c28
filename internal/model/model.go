// Package model содержит доменные сущности маркетплейса и escrow-леджера.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxAmount: верхняя граница любой денежной суммы и баланса.
// Суммы хранятся в копейках в BIGINT, граница оставляет запас до переполнения.
var MaxAmount = decimal.New(1, 13)

// WithinLimit сообщает, что сумма не превышает MaxAmount по модулю.
func WithinLimit(d decimal.Decimal) bool {
	return d.Abs().LessThanOrEqual(MaxAmount)
}

// Role определяет роль пользователя. Роли не пересекаются.
type Role string

const (
	RoleEmployer Role = "employer"
	RoleWorker   Role = "worker"
)

// Valid сообщает, является ли роль известной.
func (r Role) Valid() bool {
	return r == RoleEmployer || r == RoleWorker
}

// User представляет работодателя или исполнителя.
type User struct {
	ID            int64
	Name          string
	Role          Role
	EscrowBalance decimal.Decimal
	TotalEarnings decimal.Decimal
	CreatedAt     time.Time
}

// JobStatus описывает статус вакансии.
type JobStatus string

const (
	JobStatusOpen   JobStatus = "open"
	JobStatusFilled JobStatus = "filled"
	JobStatusClosed JobStatus = "closed"
)

// Job описывает заказ, опубликованный работодателем.
type Job struct {
	ID          int64
	EmployerID  int64
	Title       string
	Description string
	BudgetMin   decimal.Decimal
	BudgetMax   decimal.Decimal
	Status      JobStatus
	CreatedAt   time.Time
}

// BidStatus описывает статус ставки.
type BidStatus string

const (
	BidStatusPending  BidStatus = "pending"
	BidStatusAccepted BidStatus = "accepted"
	BidStatusRejected BidStatus = "rejected"
)

// Bid описывает ставку исполнителя на заказ.
type Bid struct {
	ID        int64
	JobID     int64
	WorkerID  int64
	Amount    decimal.Decimal
	Proposal  string
	Status    BidStatus
	CreatedAt time.Time
}

// ProjectStatus описывает состояние проекта.
type ProjectStatus string

const (
	ProjectStatusPending   ProjectStatus = "pending"
	ProjectStatusActive    ProjectStatus = "active"
	ProjectStatusCompleted ProjectStatus = "completed"
	ProjectStatusCancelled ProjectStatus = "cancelled"
)

// Project создаётся ровно один раз для принятой ставки.
type Project struct {
	ID              int64
	BidID           int64
	JobID           int64
	EmployerID      int64
	WorkerID        int64
	AgreedAmount    decimal.Decimal
	PlatformFee     decimal.Decimal
	NetAmount       decimal.Decimal
	PaymentReleased bool
	PaymentIntentID string
	Status          ProjectStatus
	StartedAt       *time.Time
	CompletedAt     *time.Time
	CompletionNotes string
	CreatedAt       time.Time
}

// IsCompleted сообщает, завершён ли проект.
func (p *Project) IsCompleted() bool {
	return p.Status == ProjectStatusCompleted
}

// IsParty сообщает, является ли пользователь стороной проекта.
func (p *Project) IsParty(userID int64) bool {
	return p.EmployerID == userID || p.WorkerID == userID
}

// Contract связывает работодателя, исполнителя и заказ. Неизменяем.
type Contract struct {
	ID         int64
	ProjectID  int64
	JobID      int64
	EmployerID int64
	WorkerID   int64
	CreatedAt  time.Time
}

// TransactionType описывает вид движения денег.
type TransactionType string

const (
	TransactionTypeEscrow  TransactionType = "escrow"
	TransactionTypePayment TransactionType = "payment"
	TransactionTypeRefund  TransactionType = "refund"
)

// IsPayout сообщает, закрывает ли транзакция удержание (выплата или возврат).
func (t TransactionType) IsPayout() bool {
	return t == TransactionTypePayment || t == TransactionTypeRefund
}

// TransactionStatus описывает статус транзакции.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// Transaction: запись append-only леджера. После перехода из pending не меняется.
type Transaction struct {
	ID            uuid.UUID
	ProjectID     int64
	PayerID       int64
	PayeeID       int64
	Amount        decimal.Decimal
	PlatformFee   decimal.Decimal
	NetAmount     decimal.Decimal
	Type          TransactionType
	Status        TransactionStatus
	GatewayRef    string
	FailureReason string
	ProcessedAt   *time.Time
	CreatedAt     time.Time
}

// DepositStatus описывает статус пополнения.
type DepositStatus string

const (
	DepositStatusPending   DepositStatus = "pending"
	DepositStatusCompleted DepositStatus = "completed"
	DepositStatusFailed    DepositStatus = "failed"
)

// Deposit описывает пополнение escrow-баланса через платёжный шлюз.
// ProjectID заполнен, если пополнение оплачивает конкретный проект
// (намерение оплаты проекта); иначе он равен нулю.
type Deposit struct {
	ID              int64
	UserID          int64
	ProjectID       int64
	Amount          decimal.Decimal
	Status          DepositStatus
	PaymentIntentID string
	CreatedAt       time.Time
	CompletedAt     *time.Time
}

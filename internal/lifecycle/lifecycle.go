// Package lifecycle содержит конечные автоматы ставки и проекта.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/mmeshcher/gigmarket-escrow/internal/model"
)

var projectTransitions = map[model.ProjectStatus][]model.ProjectStatus{
	model.ProjectStatusPending: {model.ProjectStatusActive},
	model.ProjectStatusActive:  {model.ProjectStatusCompleted, model.ProjectStatusCancelled},
}

// CanTransition сообщает, допустим ли переход проекта из from в to.
func CanTransition(from, to model.ProjectStatus) bool {
	for _, s := range projectTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func transition(p *model.Project, to model.ProjectStatus) error {
	if !CanTransition(p.Status, to) {
		return fmt.Errorf("%w: project %d %s -> %s", model.ErrInvalidStateTransition, p.ID, p.Status, to)
	}
	p.Status = to
	return nil
}

// Activate переводит проект из pending в active.
func Activate(p *model.Project, now time.Time) error {
	if err := transition(p, model.ProjectStatusActive); err != nil {
		return err
	}
	p.StartedAt = &now
	return nil
}

// Complete завершает активный проект. Вызывать может только работодатель.
// Деньги не двигаются, выплата делается отдельным шагом.
func Complete(p *model.Project, callerID int64, notes string, now time.Time) error {
	if callerID != p.EmployerID {
		return fmt.Errorf("%w: only the employer can complete project %d", model.ErrUnauthorized, p.ID)
	}
	if err := transition(p, model.ProjectStatusCompleted); err != nil {
		return err
	}
	p.CompletedAt = &now
	p.CompletionNotes = notes
	return nil
}

// Cancel отменяет активный проект.
func Cancel(p *model.Project) error {
	return transition(p, model.ProjectStatusCancelled)
}

// MarkReleased выставляет payment_released. Переход false -> true возможен один раз
// и только для завершённого проекта.
func MarkReleased(p *model.Project) error {
	if p.PaymentReleased {
		return fmt.Errorf("%w: project %d", model.ErrAlreadyReleased, p.ID)
	}
	if !p.IsCompleted() {
		return fmt.Errorf("%w: project %d is %s, not completed", model.ErrInvalidStateTransition, p.ID, p.Status)
	}
	p.PaymentReleased = true
	return nil
}

// AcceptBid переводит ставку из pending в accepted.
func AcceptBid(b *model.Bid) error {
	return bidTransition(b, model.BidStatusAccepted)
}

// RejectBid переводит ставку из pending в rejected.
func RejectBid(b *model.Bid) error {
	return bidTransition(b, model.BidStatusRejected)
}

func bidTransition(b *model.Bid, to model.BidStatus) error {
	if b.Status != model.BidStatusPending {
		return fmt.Errorf("%w: bid %d is %s", model.ErrInvalidStateTransition, b.ID, b.Status)
	}
	b.Status = to
	return nil
}

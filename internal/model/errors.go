package model

import "errors"

var (
	// ErrUnauthorized возвращается, если вызывающий не владеет сущностью или не имеет нужной роли.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidStateTransition возвращается при недопустимом переходе состояния.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrInsufficientEscrow возвращается, если escrow-баланса не хватает для резервирования.
	ErrInsufficientEscrow = errors.New("insufficient escrow balance")
	// ErrDuplicateBid возвращается при повторной ставке исполнителя на тот же заказ.
	ErrDuplicateBid = errors.New("bid already submitted for this job")
	// ErrNotFound возвращается, если сущность не найдена.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyReleased возвращается при повторной выплате по проекту.
	ErrAlreadyReleased = errors.New("payment already released")
	// ErrInvalidInput возвращается для некорректных входных данных.
	ErrInvalidInput = errors.New("invalid input")
	// ErrPayoutInProgress возвращается, если по проекту уже идёт выплата или возврат.
	ErrPayoutInProgress = errors.New("payout already in progress")
)

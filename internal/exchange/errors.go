package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrTransient сеть, таймаут, rate-limit: можно повторить.
	ErrTransient = errors.New("transient exchange error")
	// ErrRejected биржа отказала (маржа, параметры): повтор не поможет.
	ErrRejected = errors.New("order rejected")
	// ErrDuplicateClientID ордер с таким clientID уже есть.
	ErrDuplicateClientID = errors.New("duplicate client order id")
	ErrOrderNotFound     = errors.New("order not found")
	// ErrAuth ключи не подходят. На старте: фатально.
	ErrAuth = errors.New("exchange auth failed")
)

// Transient оборачивает ошибку как повторяемую.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Rejected с текстом биржи.
func Rejected(reason string) error {
	return fmt.Errorf("%w: %s", ErrRejected, reason)
}

// IsTransient сетевые ошибки тоже считаем временными, кроме отмены контекста.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

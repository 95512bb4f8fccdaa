package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy экспоненциальный бэкофф: BaseDelay, BaseDelay*Multiplier, ... не больше MaxDelay.
// Retries сколько повторов ПОСЛЕ первой попытки.
type Policy struct {
	Retries    int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

func DefaultPolicy() Policy {
	return Policy{
		Retries:    3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
	}
}

// Delay пауза перед попыткой attempt (1..Retries).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 || p.BaseDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= mult
	}
	delay := time.Duration(d)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Budget суммарное ожидание между попытками, если все Retries сгорят.
func (p Policy) Budget() time.Duration {
	var total time.Duration
	for attempt := 1; attempt <= p.Retries; attempt++ {
		total += p.Delay(attempt)
	}
	return total
}

// Do выполняет fn, повторяя только те ошибки, для которых retryable == true.
// Остальные возвращаются сразу, без ожидания.
func Do(ctx context.Context, p Policy, retryable func(error) bool, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.Retries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(p.Delay(attempt))
			select {
			case <-ctx.Done():
				t.Stop()
				return fmt.Errorf("retry aborted after %d attempts: %w", attempt, lastErr)
			case <-t.C:
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if retryable != nil && !retryable(err) {
			return err
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

package service

import (
	"fmt"
	"math"

	"warungpos/backend/internal/store"
)

// mulAmount returns a*b for non-negative operands, failing instead of
// wrapping around.
func mulAmount(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, fmt.Errorf("%w: negative amount %d x %d", store.ErrInvalidTransaction, a, b)
	}
	if a != 0 && b > math.MaxInt64/a {
		return 0, fmt.Errorf("%w: amount %d x %d is out of range", store.ErrInvalidTransaction, a, b)
	}
	return a * b, nil
}

// addAmount returns a+b for non-negative operands, failing instead of
// wrapping around.
func addAmount(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, fmt.Errorf("%w: negative amount %d + %d", store.ErrInvalidTransaction, a, b)
	}
	if b > math.MaxInt64-a {
		return 0, fmt.Errorf("%w: amount %d + %d is out of range", store.ErrInvalidTransaction, a, b)
	}
	return a + b, nil
}

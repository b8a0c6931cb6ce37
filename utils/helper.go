package utils

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/fatoora-app/intake_backend/config"
	"github.com/shopspring/decimal"
)

// ParseDecimal converts a string to a decimal.Decimal value.
func ParseDecimal(value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, errors.New("empty decimal string")
	}

	dec, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, err
	}

	return dec, nil
}

func UniqueSlice[T comparable](values []T) []T {
	seen := make(map[T]bool, len(values))
	result := make([]T, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			result = append(result, v)
		}
	}
	return result
}

func MergeIntSlices(a, b []int) []int {
	return UniqueSlice(append(a, b...))
}

// NormalizeName lowercases and collapses whitespace for case-insensitive
// catalog comparisons.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// ObtainResourceLock serializes commits touching the same resource across
// instances. Best-effort fast-fail: the authoritative guarantee is the row
// lock taken inside the commit transaction; Redis only shortens the window
// where two commits contend.
//
// Callers must Release the returned lock. When the lock service is not
// initialized the caller proceeds with DB-level locking alone.
func ObtainResourceLock(ctx context.Context, lockType string, resourceKey string) (*redislock.Lock, error) {
	locker := config.GetRedisLock()
	if locker == nil {
		return nil, nil
	}
	lockKey := fmt.Sprintf("%s:%s", lockType, resourceKey)
	lock, err := locker.Obtain(ctx, lockKey, 30*time.Second, nil)
	if err == redislock.ErrNotObtained {
		return nil, fmt.Errorf("could not obtain lock %s", lockKey)
	} else if err != nil {
		return nil, err
	}
	return lock, nil
}

func ReleaseResourceLock(ctx context.Context, lock *redislock.Lock) {
	if lock == nil {
		return
	}
	_ = lock.Release(ctx)
}

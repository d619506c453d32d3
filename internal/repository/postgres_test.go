package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/evetabi/pointsmarket/internal/domain"
	"github.com/lib/pq"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"serialization", &pq.Error{Code: "40001", Message: "could not serialize"}, domain.ErrConcurrencyConflict},
		{"deadlock", fmt.Errorf("wrapped: %w", &pq.Error{Code: "40P01"}), domain.ErrConcurrencyConflict},
		{"points check", &pq.Error{Code: "23514", Constraint: "wallets_points_check"}, domain.ErrInsufficientBalance},
		{"other pq", &pq.Error{Code: "23503"}, domain.ErrLedgerWrite},
		{"domain passthrough", domain.ErrMarketNotOpen, domain.ErrMarketNotOpen},
		{"context", context.Canceled, context.Canceled},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := classify(tc.in); !errors.Is(got, tc.want) {
				t.Errorf("classify(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
	if classify(nil) != nil {
		t.Error("classify(nil) should be nil")
	}
}

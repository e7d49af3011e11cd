package gormstore

import (
	"errors"
	"fmt"
	"testing"

	"courier-backend/internal/store"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func TestTranslate(t *testing.T) {
	other := errors.New("bağlantı koptu")
	cases := []struct {
		name string
		in   error
		want error
	}{
		{"nil", nil, nil},
		{"record not found", gorm.ErrRecordNotFound, store.ErrNotFound},
		{"wrapped not found", fmt.Errorf("load: %w", gorm.ErrRecordNotFound), store.ErrNotFound},
		{"unique violation", &pgconn.PgError{Code: "23505", ConstraintName: "idx_shipments_tracking_number"}, store.ErrConflict},
		{"dialect duplicate", gorm.ErrDuplicatedKey, store.ErrConflict},
		{"other pg error", &pgconn.PgError{Code: "23503"}, nil},
		{"unrelated", other, other},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := translate(tc.in)
			switch {
			case tc.in == nil:
				if got != nil {
					t.Errorf("expected nil, got %v", got)
				}
			case tc.want == nil:
				if errors.Is(got, store.ErrConflict) || errors.Is(got, store.ErrNotFound) {
					t.Errorf("expected passthrough, got %v", got)
				}
			case !errors.Is(got, tc.want):
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

package ledger

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"unrelated error", errors.New("boom"), false},
		{"unique violation", &pgconn.PgError{Code: "23505", ConstraintName: "transactions_reference_type_reference_id_key"}, true},
		{"other pg error", &pgconn.PgError{Code: "23503"}, false},
		{"wrapped unique violation", wrapErr(&pgconn.PgError{Code: "23505"}), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isUniqueViolation(tc.err))
		})
	}
}

func wrapErr(err error) error {
	return errors.Join(errors.New("inserting transaction"), err)
}

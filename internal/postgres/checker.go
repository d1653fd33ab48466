package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrSnakeDoc/bootgate/internal/probe"
)

// SQLSTATE 57P03: "the database system is starting up".
const codeCannotConnectNow = "57P03"

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Checker runs SELECT 1 through the pool.
type Checker struct {
	db rowQuerier
}

// NewChecker wraps a pool.
func NewChecker(db rowQuerier) *Checker {
	return &Checker{db: db}
}

// Check returns nil when the server answers a query. A server still in
// recovery or startup is reported as not ready.
func (c *Checker) Check(ctx context.Context) error {
	var one int
	if err := c.db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return classify(err)
	}
	return nil
}

func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeCannotConnectNow {
		return fmt.Errorf("%w: %s", probe.ErrNotReady, pgErr.Message)
	}
	return fmt.Errorf("postgres query failed: %w", err)
}

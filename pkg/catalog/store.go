package catalog

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lnvps/lnvpsd/pkg/encryption"
	"github.com/lnvps/lnvpsd/pkg/lnvpserr"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx. Store methods take
// one as an argument so they run identically standalone or inside a
// caller-managed transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the Catalog Store: a narrow CRUD and
// paginated-listing interface over every entity plus the composite queries
// the Provisioner and Payment State Machine need. Every mutating operation
// runs inside a single transaction.
type Store struct {
	pool *pgxpool.Pool
	enc  *encryption.Context
}

// New creates a Store backed by pool. enc may be nil only in tests that
// never touch encrypted columns.
func New(pool *pgxpool.Pool, enc *encryption.Context) *Store {
	return &Store{pool: pool, enc: enc}
}

// q returns the querier every read-only Store method runs against.
func (s *Store) q() querier { return s.pool }

// WithTx runs fn inside a single transaction, matching the "every mutating
// operation is a single transaction" contract. fn receives
// the querier to pass into any Store method that needs to participate in
// the same transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, q querier) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return lnvpserr.Wrap(lnvpserr.KindTransientRemote, "beginning transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return lnvpserr.Wrap(lnvpserr.KindTransientRemote, "committing transaction", err)
	}
	return nil
}

func classifyPgErr(err error) error {
	if err == nil {
		return nil
	}
	if err == pgx.ErrNoRows {
		return lnvpserr.NotFound("row not found")
	}
	if isUniqueViolation(err) {
		return lnvpserr.Wrap(lnvpserr.KindUniqueViolation, "unique constraint violated", err)
	}
	return lnvpserr.Wrap(lnvpserr.KindTransientRemote, "database error", err)
}

// PageParams is the bounded pagination contract: limit <= 100, default 50.
type PageParams struct {
	Limit  int
	Offset int
}

// Normalize clamps Limit into (0, 100] with a default of 50.
func (p PageParams) Normalize() PageParams {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// now is overridable in tests; production code always uses time.Now.
var now = time.Now

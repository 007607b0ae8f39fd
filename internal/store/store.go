// Package store runs assignment units of work inside Postgres transactions.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/joao-fontenele/agrimarket/internal/assignment"
	"github.com/joao-fontenele/agrimarket/internal/domain"
	"github.com/joao-fontenele/agrimarket/internal/orders"
	"github.com/joao-fontenele/agrimarket/internal/partners"
)

type Postgres struct {
	db    *sql.DB
	match domain.LocationMatch
}

func NewPostgres(db *sql.DB, match domain.LocationMatch) *Postgres {
	return &Postgres{db: db, match: match}
}

// Do commits when fn returns nil and rolls back otherwise. Reads of single
// orders and partners inside fn lock their rows until the end of the
// transaction.
func (p *Postgres) Do(ctx context.Context, fn func(ctx context.Context, s assignment.Stores) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stores := assignment.Stores{
		Orders:   orders.NewOrderRepository(tx).ForUpdate(),
		Partners: partners.NewPartnerRepository(tx, p.match).ForUpdate(),
	}

	if err := fn(ctx, stores); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

package partners

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/joao-fontenele/agrimarket/internal/domain"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const partnerColumns = `
	id, name, phone, vehicle_description, location, available,
	rating, completed_deliveries, created_at`

type PartnerRepository struct {
	db       DBTX
	match    domain.LocationMatch
	lockRows bool
}

func NewPartnerRepository(db DBTX, match domain.LocationMatch) *PartnerRepository {
	return &PartnerRepository{db: db, match: match}
}

// ForUpdate returns a repository whose Get takes a row lock.
func (r *PartnerRepository) ForUpdate() *PartnerRepository {
	return &PartnerRepository{db: r.db, match: r.match, lockRows: true}
}

func (r *PartnerRepository) Create(ctx context.Context, partner *domain.DeliveryPartner) error {
	if partner.ID == "" {
		partner.ID = uuid.New().String()
	}

	return r.db.QueryRowContext(ctx, `
		INSERT INTO delivery_partners (
			id, name, phone, vehicle_description, location, location_key,
			available, rating, completed_deliveries
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, partner.ID, partner.Name, partner.Phone, partner.VehicleDescription, partner.Location,
		domain.LocationKey(partner.Location), partner.Available, partner.Rating,
		partner.CompletedDeliveries).Scan(&partner.CreatedAt)
}

func (r *PartnerRepository) List(ctx context.Context) ([]domain.DeliveryPartner, error) {
	return r.query(ctx, `SELECT `+partnerColumns+` FROM delivery_partners ORDER BY created_at, id`)
}

// FindAvailableByLocation returns available partners in the location, oldest
// registration first.
func (r *PartnerRepository) FindAvailableByLocation(ctx context.Context, location string) ([]domain.DeliveryPartner, error) {
	cond := `location = $1`
	if r.match == domain.LocationMatchCaseInsensitive {
		cond = `location_key = $1`
		location = domain.LocationKey(location)
	}

	return r.query(ctx, `
		SELECT `+partnerColumns+`
		FROM delivery_partners
		WHERE available AND `+cond+`
		ORDER BY created_at, id
	`, location)
}

func (r *PartnerRepository) Get(ctx context.Context, id string) (*domain.DeliveryPartner, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("partner %s: %w", id, domain.ErrNotFound)
	}

	query := `SELECT ` + partnerColumns + ` FROM delivery_partners WHERE id = $1`
	if r.lockRows {
		query += ` FOR UPDATE`
	}

	partner, err := scanPartner(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("partner %s: %w", id, domain.ErrNotFound)
		}
		return nil, err
	}

	return partner, nil
}

func (r *PartnerRepository) SetAvailability(ctx context.Context, id string, available bool) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("partner %s: %w", id, domain.ErrNotFound)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE delivery_partners SET available = $2, updated_at = NOW()
		WHERE id = $1
	`, id, available)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("partner %s: %w", id, domain.ErrNotFound)
	}

	return nil
}

// Reserve claims an available partner. Concurrent reservations of the same
// row serialize on the row lock and only one of them matches.
func (r *PartnerRepository) Reserve(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("partner %s: %w", id, domain.ErrPartnerUnavailable)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE delivery_partners SET available = false, updated_at = NOW()
		WHERE id = $1 AND available
	`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("partner %s: %w", id, domain.ErrPartnerUnavailable)
	}

	return nil
}

func (r *PartnerRepository) query(ctx context.Context, query string, args ...any) ([]domain.DeliveryPartner, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	partners := []domain.DeliveryPartner{}
	for rows.Next() {
		partner, err := scanPartner(rows)
		if err != nil {
			return nil, err
		}
		partners = append(partners, *partner)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return partners, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPartner(row scanner) (*domain.DeliveryPartner, error) {
	p := &domain.DeliveryPartner{}
	err := row.Scan(&p.ID, &p.Name, &p.Phone, &p.VehicleDescription, &p.Location, &p.Available,
		&p.Rating, &p.CompletedDeliveries, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

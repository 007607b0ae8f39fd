package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/agrimarket/internal/domain"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const activePartnerIndex = "orders_active_partner_idx"

var activeStatuses = []string{
	string(domain.OrderStatusPending),
	string(domain.OrderStatusProcessing),
	string(domain.OrderStatusShipped),
}

const orderColumns = `
	id, buyer_id, status, total_amount,
	address_street, address_city, address_state, address_postal_code, address_phone,
	assigned_partner_id, created_at`

type OrderRepository struct {
	db       DBTX
	lockRows bool
}

func NewOrderRepository(db DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

// ForUpdate returns a repository whose single-order reads take a row lock.
// Only meaningful when bound to a transaction.
func (r *OrderRepository) ForUpdate() *OrderRepository {
	return &OrderRepository{db: r.db, lockRows: true}
}

func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	db, ok := r.db.(*sql.DB)
	if !ok {
		return insertOrder(ctx, r.db, order)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertOrder(ctx, tx, order); err != nil {
		return err
	}

	return tx.Commit()
}

func insertOrder(ctx context.Context, db DBTX, order *domain.Order) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	addr := order.DeliveryAddress
	_, err := db.ExecContext(ctx, `
		INSERT INTO orders (
			id, buyer_id, status, total_amount,
			address_street, address_city, address_state, address_postal_code, address_phone,
			assigned_partner_id, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`, order.ID, order.BuyerID, order.Status, order.TotalAmount,
		addr.Street, addr.City, addr.State, addr.PostalCode, addr.Phone,
		nullString(order.AssignedPartnerID), order.CreatedAt)
	if err != nil {
		return err
	}

	for i, item := range order.Items {
		_, err = db.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, position, product_id, name, unit_price, quantity, weight, line_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, uuid.New().String(), order.ID, i, item.ProductID, item.Name,
			item.UnitPrice, item.Quantity, nullDecimal(item.Weight), item.LineTotal)
		if err != nil {
			return err
		}
	}

	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if r.lockRows {
		query += ` FOR UPDATE`
	}

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
		}
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, name, unit_price, quantity, weight, line_total
		FROM order_items
		WHERE order_id = $1
		ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		order.Items = append(order.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return order, nil
}

// List returns matching orders newest first, loading their items with one
// extra query.
func (r *OrderRepository) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	var (
		conds []string
		args  []any
	)
	if filter.BuyerID != "" {
		args = append(args, filter.BuyerID)
		conds = append(conds, fmt.Sprintf("buyer_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.PartnerID != "" {
		if _, err := uuid.Parse(filter.PartnerID); err != nil {
			return []domain.Order{}, nil
		}
		args = append(args, filter.PartnerID)
		conds = append(conds, fmt.Sprintf("assigned_partner_id = $%d", len(args)))
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		order.Items = []domain.LineItem{}
		orderMap[order.ID] = order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	itemRows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, name, unit_price, quantity, weight, line_total
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var (
			orderID string
			item    domain.LineItem
			weight  decimal.NullDecimal
		)
		if err := itemRows.Scan(&orderID, &item.ProductID, &item.Name, &item.UnitPrice, &item.Quantity, &weight, &item.LineTotal); err != nil {
			return nil, err
		}
		if weight.Valid {
			item.Weight = &weight.Decimal
		}
		order := orderMap[orderID]
		order.Items = append(order.Items, item)
	}

	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, nil
}

// SetAssignment binds a partner to an order that has none yet.
func (r *OrderRepository) SetAssignment(ctx context.Context, orderID, partnerID string) error {
	if _, err := uuid.Parse(orderID); err != nil {
		return fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE orders SET assigned_partner_id = $2, updated_at = NOW()
		WHERE id = $1 AND assigned_partner_id IS NULL
	`, orderID, partnerID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" && pqErr.Constraint == activePartnerIndex {
			return fmt.Errorf("partner %s: %w", partnerID, domain.ErrPartnerBusy)
		}
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		exists, err := r.exists(ctx, orderID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
		}
		return fmt.Errorf("order %s: %w", orderID, domain.ErrAlreadyAssigned)
	}

	return nil
}

func (r *OrderRepository) SetStatus(ctx context.Context, orderID string, status domain.OrderStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}
	if _, err := uuid.Parse(orderID); err != nil {
		return fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE orders SET status = $1, updated_at = NOW()
		WHERE id = $2
	`, status, orderID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}

	return nil
}

func (r *OrderRepository) HasActiveAssignment(ctx context.Context, partnerID string) (bool, error) {
	if _, err := uuid.Parse(partnerID); err != nil {
		return false, nil
	}

	var busy bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM orders
			WHERE assigned_partner_id = $1 AND status = ANY($2)
		)
	`, partnerID, pq.Array(activeStatuses)).Scan(&busy)
	return busy, err
}

func (r *OrderRepository) exists(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists)
	return exists, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*domain.Order, error) {
	order := &domain.Order{}
	var partnerID sql.NullString

	err := row.Scan(
		&order.ID, &order.BuyerID, &order.Status, &order.TotalAmount,
		&order.DeliveryAddress.Street, &order.DeliveryAddress.City, &order.DeliveryAddress.State,
		&order.DeliveryAddress.PostalCode, &order.DeliveryAddress.Phone,
		&partnerID, &order.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if partnerID.Valid {
		order.AssignedPartnerID = &partnerID.String
	}
	order.CreatedAt = order.CreatedAt.UTC()

	return order, nil
}

func scanItem(row scanner) (domain.LineItem, error) {
	var (
		item   domain.LineItem
		weight decimal.NullDecimal
	)
	if err := row.Scan(&item.ProductID, &item.Name, &item.UnitPrice, &item.Quantity, &weight, &item.LineTotal); err != nil {
		return domain.LineItem{}, err
	}
	if weight.Valid {
		item.Weight = &weight.Decimal
	}
	return item, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

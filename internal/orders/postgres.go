package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mohammad-safakhou/orderdesk/internal/conversation"
)

// PostgresRepository reads the orders table.
type PostgresRepository struct {
	DB *sql.DB
}

// NewPostgresRepository wraps an open database handle.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{DB: db}
}

const orderColumns = `order_id, user_email, product, description, quantity, order_date, delivered_date, status, amount`

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (conversation.OrderDetails, error) {
	var (
		o           conversation.OrderDetails
		id          int64
		email, desc sql.NullString
		delivered   sql.NullTime
	)
	if err := row.Scan(&id, &email, &o.Product, &desc, &o.Quantity, &o.OrderDate, &delivered, &o.Status, &o.Amount); err != nil {
		return o, err
	}
	o.OrderID = strconv.FormatInt(id, 10)
	o.UserEmail = email.String
	o.Description = desc.String
	if delivered.Valid {
		d := delivered.Time
		o.DeliveredDate = &d
	}
	return o, nil
}

func (r *PostgresRepository) Get(ctx context.Context, orderID int64) (conversation.OrderDetails, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id=$1`, orderID)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return o, ErrNotFound
	}
	if err != nil {
		return o, fmt.Errorf("get order %d: %w", orderID, err)
	}
	return o, nil
}

func (r *PostgresRepository) ListByEmail(ctx context.Context, email string) ([]conversation.OrderDetails, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE lower(user_email)=lower($1) ORDER BY order_date DESC, order_id DESC`, email)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()
	var out []conversation.OrderDetails
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) RecordRequest(ctx context.Context, orderID int64, email, requestType string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO customer_requests (order_id, user_email, request_type, created_at) VALUES ($1,$2,$3,$4)`,
		orderID, email, requestType, time.Now().UTC()); err != nil {
		return fmt.Errorf("record request: %w", err)
	}
	if st := statusAfter(requestType); st != "" {
		if _, err := tx.ExecContext(ctx, `UPDATE orders SET status=$1 WHERE order_id=$2`, st, orderID); err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
	}
	return tx.Commit()
}

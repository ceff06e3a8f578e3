package transaction

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/gametrust/gametrust/internal/protection"
	"github.com/gametrust/gametrust/internal/safeperiod"
)

// PostgresStore persists transactions in PostgreSQL.
//
// The embedded safe-period and protection records are stored as JSONB, with
// their deadlines denormalized into indexed columns so the expiry sweeps are
// plain range scans.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed transaction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const transactionColumns = `id, listing_id, seller_id, admin_id, buyer_id,
			       state, agreed_price, safe_period, protection_plan,
			       created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, t *Transaction) error {
	safePeriodJSON, protectionJSON, err := marshalRecords(t)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO transactions (
			id, listing_id, seller_id, admin_id, buyer_id,
			state, agreed_price, safe_period, protection_plan,
			safe_period_deadline, protection_expires_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11,
			$12, $13
		)`,
		t.ID, t.ListingID, t.SellerID, nullString(t.AdminID), nullString(t.BuyerID),
		string(t.State), nullString(t.AgreedPrice), safePeriodJSON, protectionJSON,
		safePeriodDeadline(t), protectionExpiry(t),
		t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)

	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return t, err
}

func (p *PostgresStore) Update(ctx context.Context, t *Transaction, expectedUpdatedAt time.Time) error {
	safePeriodJSON, protectionJSON, err := marshalRecords(t)
	if err != nil {
		return err
	}
	result, err := p.db.ExecContext(ctx, `
		UPDATE transactions SET
			admin_id = $1, buyer_id = $2, state = $3, agreed_price = $4,
			safe_period = $5, protection_plan = $6,
			safe_period_deadline = $7, protection_expires_at = $8,
			updated_at = $9
		WHERE id = $10 AND updated_at = $11`,
		nullString(t.AdminID), nullString(t.BuyerID), string(t.State), nullString(t.AgreedPrice),
		safePeriodJSON, protectionJSON,
		safePeriodDeadline(t), protectionExpiry(t),
		t.UpdatedAt,
		t.ID, expectedUpdatedAt,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Distinguish a missing row from a lost optimistic-concurrency race.
		var one int
		err := p.db.QueryRowContext(ctx, `SELECT 1 FROM transactions WHERE id = $1`, t.ID).Scan(&one)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (p *PostgresStore) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE seller_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, sellerID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanTransactions(rows)
}

func (p *PostgresStore) ListExpiredSafePeriods(ctx context.Context, before time.Time, limit int) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE state = 'safe_period'
		  AND safe_period_deadline <= $1
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanTransactions(rows)
}

func (p *PostgresStore) ListExpiredProtection(ctx context.Context, before time.Time, limit int) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE state = 'protection_active'
		  AND protection_expires_at <= $1
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanTransactions(rows)
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(s scanner) (*Transaction, error) {
	t := &Transaction{}
	var (
		adminID        sql.NullString
		buyerID        sql.NullString
		agreedPrice    sql.NullString
		state          string
		safePeriodJSON []byte
		protectionJSON []byte
	)

	err := s.Scan(
		&t.ID, &t.ListingID, &t.SellerID, &adminID, &buyerID,
		&state, &agreedPrice, &safePeriodJSON, &protectionJSON,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.State = State(state)
	t.AdminID = adminID.String
	t.BuyerID = buyerID.String
	t.AgreedPrice = agreedPrice.String
	if len(safePeriodJSON) > 0 {
		var sp safeperiod.Record
		if err := json.Unmarshal(safePeriodJSON, &sp); err != nil {
			return nil, err
		}
		t.SafePeriod = &sp
	}
	if len(protectionJSON) > 0 {
		var plan protection.Record
		if err := json.Unmarshal(protectionJSON, &plan); err != nil {
			return nil, err
		}
		t.Protection = &plan
	}

	return t, nil
}

func scanTransactions(rows *sql.Rows) ([]*Transaction, error) {
	var result []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func marshalRecords(t *Transaction) ([]byte, []byte, error) {
	var safePeriodJSON, protectionJSON []byte
	if t.SafePeriod != nil {
		b, err := json.Marshal(t.SafePeriod)
		if err != nil {
			return nil, nil, err
		}
		safePeriodJSON = b
	}
	if t.Protection != nil {
		b, err := json.Marshal(t.Protection)
		if err != nil {
			return nil, nil, err
		}
		protectionJSON = b
	}
	return safePeriodJSON, protectionJSON, nil
}

func safePeriodDeadline(t *Transaction) sql.NullTime {
	if t.SafePeriod == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.SafePeriod.Deadline(), Valid: true}
}

func protectionExpiry(t *Transaction) sql.NullTime {
	if t.Protection == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.Protection.Expiry(), Valid: true}
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

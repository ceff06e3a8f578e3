package negotiation

import (
	"context"
	"database/sql"
)

// PostgresStore persists negotiation messages in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed message store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Append(ctx context.Context, msg *Message) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO negotiation_messages (
			id, transaction_id, sender_role, kind, amount, text, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.TransactionID, string(msg.Sender), string(msg.Kind),
		nullString(msg.Amount), nullString(msg.Text), msg.CreatedAt,
	)
	return err
}

func (p *PostgresStore) ListByTransaction(ctx context.Context, transactionID string) ([]*Message, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, transaction_id, sender_role, kind, amount, text, created_at
		FROM negotiation_messages
		WHERE transaction_id = $1
		ORDER BY created_at, id`, transactionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Message
	for rows.Next() {
		var (
			msg          Message
			sender, kind string
			amount, text sql.NullString
		)
		if err := rows.Scan(&msg.ID, &msg.TransactionID, &sender, &kind, &amount, &text, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.Sender = Role(sender)
		msg.Kind = Kind(kind)
		msg.Amount = amount.String
		msg.Text = text.String
		result = append(result, &msg)
	}
	return result, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

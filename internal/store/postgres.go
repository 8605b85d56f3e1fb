package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pkgerrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"paygram/internal/apperr"
	"paygram/internal/msgid"
)

// PostgresStore persists the mirror in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Neither wallet_address nor message_id is unique, and messages carry
// no foreign keys. The mirror reproduces whatever the flows wrote;
// duplicates and orphans are surfaced by the reconcile report instead
// of being rejected here.
const createSchemaSQL = `
CREATE TABLE IF NOT EXISTS profiles (
    id UUID PRIMARY KEY,
    wallet_address TEXT NOT NULL,
    username TEXT NOT NULL,
    avatar_url TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_profiles_wallet ON profiles (wallet_address);

CREATE TABLE IF NOT EXISTS messages (
    id UUID PRIMARY KEY,
    message_id TEXT NOT NULL,
    sender_id UUID NOT NULL,
    recipient_id UUID NOT NULL,
    amount NUMERIC(38, 18) NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    transaction_signature TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_message_id ON messages (message_id);
CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages (sender_id);
CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages (recipient_id);
`

// NewPostgresStore connects using the DSN and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createSchemaSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) CreateProfile(ctx context.Context, prof *Profile) error {
	if prof.ID == "" {
		prof.ID = uuid.NewString()
	}
	if prof.CreatedAt.IsZero() {
		prof.CreatedAt = time.Now().UTC()
	}
	_, err := p.pool.Exec(ctx, `
INSERT INTO profiles (id, wallet_address, username, avatar_url, created_at)
VALUES ($1, $2, $3, $4, $5)
`, prof.ID, prof.WalletAddress, prof.Username, prof.AvatarURL, prof.CreatedAt)
	if err != nil {
		return pkgerrors.Wrap(err, "insert profile")
	}
	return nil
}

func (p *PostgresStore) GetProfileByWallet(ctx context.Context, wallet string) (*Profile, error) {
	row := p.pool.QueryRow(ctx, `
SELECT id, wallet_address, username, avatar_url, created_at
FROM profiles
WHERE wallet_address = $1
ORDER BY created_at ASC
LIMIT 1
`, wallet)
	return scanProfile(row)
}

func (p *PostgresStore) GetProfileByID(ctx context.Context, id string) (*Profile, error) {
	row := p.pool.QueryRow(ctx, `
SELECT id, wallet_address, username, avatar_url, created_at
FROM profiles
WHERE id = $1
`, id)
	return scanProfile(row)
}

func scanProfile(row pgx.Row) (*Profile, error) {
	var prof Profile
	err := row.Scan(&prof.ID, &prof.WalletAddress, &prof.Username, &prof.AvatarURL, &prof.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "scan profile")
	}
	return &prof, nil
}

func (p *PostgresStore) ListProfiles(ctx context.Context) ([]Profile, error) {
	rows, err := p.pool.Query(ctx, `
SELECT id, wallet_address, username, avatar_url, created_at
FROM profiles
ORDER BY created_at ASC
`)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "list profiles")
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		var prof Profile
		if err := rows.Scan(&prof.ID, &prof.WalletAddress, &prof.Username, &prof.AvatarURL, &prof.CreatedAt); err != nil {
			return nil, pkgerrors.Wrap(err, "scan profile")
		}
		out = append(out, prof)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreateMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	if msg.UpdatedAt.IsZero() {
		msg.UpdatedAt = msg.CreatedAt
	}
	if msg.Status == "" {
		msg.Status = StatusPending
	}
	_, err := p.pool.Exec(ctx, `
INSERT INTO messages (id, message_id, sender_id, recipient_id, amount, content, status, transaction_signature, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10)
`, msg.ID, msg.MessageID, msg.SenderID, msg.RecipientID, msg.Amount.String(), msg.Content, string(msg.Status),
		msg.TransactionSignature, msg.CreatedAt, msg.UpdatedAt)
	if err != nil {
		return pkgerrors.Wrap(err, "insert message")
	}
	return nil
}

const selectMessageSQL = `
SELECT id, message_id, sender_id, recipient_id, amount::text, content, status, transaction_signature, created_at, updated_at
FROM messages
`

func (p *PostgresStore) GetMessage(ctx context.Context, ref msgid.Ref) (*Message, error) {
	var row pgx.Row
	switch ref.Kind {
	case msgid.KindExternal:
		row = p.pool.QueryRow(ctx, selectMessageSQL+`WHERE message_id = $1 ORDER BY created_at ASC LIMIT 1`, ref.Value)
	case msgid.KindInternal:
		row = p.pool.QueryRow(ctx, selectMessageSQL+`WHERE id = $1`, ref.Value)
	default:
		return nil, pkgerrors.Errorf("unresolved message reference kind %d", ref.Kind)
	}
	return scanMessage(row)
}

func scanMessage(row pgx.Row) (*Message, error) {
	var (
		msg    Message
		amount string
		status string
	)
	err := row.Scan(&msg.ID, &msg.MessageID, &msg.SenderID, &msg.RecipientID, &amount, &msg.Content,
		&status, &msg.TransactionSignature, &msg.CreatedAt, &msg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "scan message")
	}
	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "parse amount")
	}
	msg.Amount = dec
	msg.Status = Status(status)
	return &msg, nil
}

func (p *PostgresStore) ListMessages(ctx context.Context) ([]Message, error) {
	rows, err := p.pool.Query(ctx, selectMessageSQL+`ORDER BY created_at ASC`)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "list messages")
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (p *PostgresStore) ListMessagesForProfile(ctx context.Context, profileID string) ([]Message, error) {
	rows, err := p.pool.Query(ctx, selectMessageSQL+`WHERE sender_id = $1 OR recipient_id = $1 ORDER BY created_at ASC`, profileID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "list messages for profile")
	}
	defer rows.Close()
	return collectMessages(rows)
}

func collectMessages(rows pgx.Rows) ([]Message, error) {
	var out []Message
	for rows.Next() {
		var (
			msg    Message
			amount string
			status string
		)
		if err := rows.Scan(&msg.ID, &msg.MessageID, &msg.SenderID, &msg.RecipientID, &amount, &msg.Content,
			&status, &msg.TransactionSignature, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
			return nil, pkgerrors.Wrap(err, "scan message")
		}
		dec, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "parse amount")
		}
		msg.Amount = dec
		msg.Status = Status(status)
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpdateMessageStatus(ctx context.Context, rowID string, status Status, txSignature string) error {
	tag, err := p.pool.Exec(ctx, `
UPDATE messages
SET status = $2, transaction_signature = $3, updated_at = $4
WHERE id = $1
`, rowID, string(status), txSignature, time.Now().UTC())
	if err != nil {
		return pkgerrors.Wrap(err, "update message status")
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrMessageNotFound
	}
	return nil
}

func (p *PostgresStore) UpdateMessageID(ctx context.Context, rowID string, newMessageID string) error {
	tag, err := p.pool.Exec(ctx, `
UPDATE messages
SET message_id = $2, updated_at = $3
WHERE id = $1
`, rowID, newMessageID, time.Now().UTC())
	if err != nil {
		return pkgerrors.Wrap(err, "update message id")
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrMessageNotFound
	}
	return nil
}

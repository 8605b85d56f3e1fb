package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status tracks where an escrow payment sits in its lifecycle. The
// chain is authoritative; these values mirror it best-effort.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Profile is a chat identity keyed by wallet address. Wallets are not
// unique by constraint; duplicates are a reconcile finding.
type Profile struct {
	ID            string
	WalletAddress string
	Username      string
	AvatarURL     string
	CreatedAt     time.Time
}

// Message mirrors one pay-to-message escrow. MessageID is the public
// identifier the escrow seed is cut from; ID is the database row id.
type Message struct {
	ID                   string
	MessageID            string
	SenderID             string
	RecipientID          string
	Amount               decimal.Decimal
	Content              string
	Status               Status
	TransactionSignature string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

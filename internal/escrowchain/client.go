package escrowchain

import (
	"context"
	"math/big"
)

// Client abstracts the on-chain escrow interaction.
type Client interface {
	CreateMessagePayment(ctx context.Context, req CreatePaymentRequest) (SubmitResponse, error)
	ApproveMessagePayment(ctx context.Context, req SettleRequest) (SubmitResponse, error)
	RejectMessagePayment(ctx context.Context, req SettleRequest) (SubmitResponse, error)
	BalanceOf(ctx context.Context, address string) (*big.Int, error)
}

// HealthChecker is implemented by clients that can probe their RPC
// connection.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// CreatePaymentRequest locks AmountWei in the derived escrow account.
// EscrowAccount is derived by the caller; the client never derives.
type CreatePaymentRequest struct {
	EscrowAccount    string
	SenderAddress    string
	RecipientAddress string
	AmountWei        *big.Int
	MessageID        string
}

// SettleRequest releases (approve) or refunds (reject) a previously
// created escrow. Sender and recipient MUST be the original pairing,
// otherwise the program looks at the wrong account.
type SettleRequest struct {
	EscrowAccount    string
	SenderAddress    string
	RecipientAddress string
	MessageID        string
}

type SubmitResponse struct {
	TxSignature string
}

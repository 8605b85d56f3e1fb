package escrowchain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// FakeClient hashes the payload to deterministically emulate transaction
// signatures in tests and key-less local runs.
type FakeClient struct {
	// Balance is returned for every address. Nil means ample funds.
	Balance *big.Int
}

func (f FakeClient) CreateMessagePayment(_ context.Context, req CreatePaymentRequest) (SubmitResponse, error) {
	if err := validateCreateRequest(req); err != nil {
		return SubmitResponse{}, err
	}
	return fakeSubmit("create", req.EscrowAccount, req.SenderAddress, req.RecipientAddress, req.AmountWei.String(), req.MessageID), nil
}

func (f FakeClient) ApproveMessagePayment(_ context.Context, req SettleRequest) (SubmitResponse, error) {
	if err := validateSettleRequest(req); err != nil {
		return SubmitResponse{}, err
	}
	return fakeSubmit("approve", req.EscrowAccount, req.SenderAddress, req.RecipientAddress, req.MessageID), nil
}

func (f FakeClient) RejectMessagePayment(_ context.Context, req SettleRequest) (SubmitResponse, error) {
	if err := validateSettleRequest(req); err != nil {
		return SubmitResponse{}, err
	}
	return fakeSubmit("reject", req.EscrowAccount, req.SenderAddress, req.RecipientAddress, req.MessageID), nil
}

func (f FakeClient) BalanceOf(_ context.Context, address string) (*big.Int, error) {
	if address == "" {
		return nil, fmt.Errorf("missing address")
	}
	if f.Balance != nil {
		return new(big.Int).Set(f.Balance), nil
	}
	ample, _ := new(big.Int).SetString("1000000000000000000000", 10) // 1000 ether
	return ample, nil
}

func fakeSubmit(parts ...string) SubmitResponse {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return SubmitResponse{TxSignature: "0x" + hex.EncodeToString(sum[:])}
}

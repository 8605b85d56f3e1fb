package escrowchain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"paygram/internal/apperr"
)

func TestFakeClientDeterministicSignatures(t *testing.T) {
	fc := FakeClient{}
	req := CreatePaymentRequest{
		EscrowAccount:    "0x3333333333333333333333333333333333333333",
		SenderAddress:    "0x1111111111111111111111111111111111111111",
		RecipientAddress: "0x2222222222222222222222222222222222222222",
		AmountWei:        big.NewInt(1_000_000),
		MessageID:        "mlzx9abcd",
	}

	first, err := fc.CreateMessagePayment(context.Background(), req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := fc.CreateMessagePayment(context.Background(), req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.TxSignature != second.TxSignature {
		t.Fatal("fake signatures should be deterministic for identical payloads")
	}

	approve, _ := fc.ApproveMessagePayment(context.Background(), SettleRequest{
		EscrowAccount:    req.EscrowAccount,
		SenderAddress:    req.SenderAddress,
		RecipientAddress: req.RecipientAddress,
		MessageID:        req.MessageID,
	})
	if approve.TxSignature == first.TxSignature {
		t.Fatal("approve and create must not share a signature")
	}
}

func TestFakeClientValidation(t *testing.T) {
	fc := FakeClient{}

	_, err := fc.CreateMessagePayment(context.Background(), CreatePaymentRequest{
		EscrowAccount:    "0x3333333333333333333333333333333333333333",
		SenderAddress:    "not-an-address",
		RecipientAddress: "0x2222222222222222222222222222222222222222",
		AmountWei:        big.NewInt(1),
		MessageID:        "m123",
	})
	if err == nil {
		t.Fatal("expected invalid sender to fail")
	}

	_, err = fc.CreateMessagePayment(context.Background(), CreatePaymentRequest{
		EscrowAccount:    "0x3333333333333333333333333333333333333333",
		SenderAddress:    "0x1111111111111111111111111111111111111111",
		RecipientAddress: "0x2222222222222222222222222222222222222222",
		AmountWei:        big.NewInt(0),
		MessageID:        "m123",
	})
	if err == nil {
		t.Fatal("expected zero amount to fail")
	}
}

func TestFakeClientBalance(t *testing.T) {
	broke := FakeClient{Balance: big.NewInt(5)}
	bal, err := broke.BalanceOf(context.Background(), "0x1111111111111111111111111111111111111111")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("expected configured balance, got %s", bal)
	}

	rich := FakeClient{}
	bal, _ = rich.BalanceOf(context.Background(), "0x1111111111111111111111111111111111111111")
	if bal.Cmp(big.NewInt(1_000_000)) <= 0 {
		t.Fatalf("default balance too small: %s", bal)
	}
}

func TestClassifySubmitError(t *testing.T) {
	denied := classifySubmitError("createMessagePayment", errors.New("Request denied by user"))
	if apperr.CodeOf(denied) != apperr.CodeUserRejected {
		t.Fatalf("expected USER_REJECTED_SIGNING, got %s", apperr.CodeOf(denied))
	}

	network := classifySubmitError("createMessagePayment", errors.New("connection refused"))
	if apperr.CodeOf(network) != apperr.CodeRemoteCallFailed {
		t.Fatalf("expected REMOTE_CALL_FAILED, got %s", apperr.CodeOf(network))
	}
}

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"paygram/internal/apperr"
	"paygram/internal/msgid"
)

func TestMemoryStoreProfiles(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if p, _ := s.GetProfileByWallet(ctx, "0xabc"); p != nil {
		t.Fatalf("expected nil for unknown wallet")
	}

	prof := &Profile{WalletAddress: "0xabc", Username: "user_abc"}
	if err := s.CreateProfile(ctx, prof); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	if prof.ID == "" {
		t.Fatal("expected generated id")
	}
	if prof.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be filled")
	}

	got, _ := s.GetProfileByWallet(ctx, "0xabc")
	if got == nil || got.ID != prof.ID {
		t.Fatalf("unexpected profile: %+v", got)
	}

	byID, _ := s.GetProfileByID(ctx, prof.ID)
	if byID == nil || byID.WalletAddress != "0xabc" {
		t.Fatalf("unexpected profile by id: %+v", byID)
	}
}

func TestMemoryStoreDuplicateWalletsAllowed(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first := &Profile{WalletAddress: "0xdup", Username: "a"}
	second := &Profile{WalletAddress: "0xdup", Username: "b"}
	if err := s.CreateProfile(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateProfile(ctx, second); err != nil {
		t.Fatalf("duplicate wallet must not be rejected: %v", err)
	}

	// Lookup returns the earliest insert.
	got, _ := s.GetProfileByWallet(ctx, "0xdup")
	if got == nil || got.ID != first.ID {
		t.Fatalf("expected first profile, got %+v", got)
	}

	all, _ := s.ListProfiles(ctx)
	if len(all) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(all))
	}
}

func TestMemoryStoreMessages(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	msg := &Message{
		MessageID:   "mlzx9abcd",
		SenderID:    "sender-1",
		RecipientID: "recipient-1",
		Amount:      decimal.RequireFromString("1.5"),
		Content:     "hello",
	}
	if err := s.CreateMessage(ctx, msg); err != nil {
		t.Fatalf("create message: %v", err)
	}
	if msg.Status != StatusPending {
		t.Fatalf("expected pending default, got %s", msg.Status)
	}

	byExternal, _ := s.GetMessage(ctx, msgid.External("mlzx9abcd"))
	if byExternal == nil || byExternal.ID != msg.ID {
		t.Fatalf("unexpected message by external ref: %+v", byExternal)
	}

	byInternal, _ := s.GetMessage(ctx, msgid.Internal(msg.ID))
	if byInternal == nil || byInternal.MessageID != "mlzx9abcd" {
		t.Fatalf("unexpected message by internal ref: %+v", byInternal)
	}

	if _, err := s.GetMessage(ctx, msgid.Ref{}); err == nil {
		t.Fatal("zero-value ref must not resolve")
	}

	if err := s.UpdateMessageStatus(ctx, msg.ID, StatusApproved, "0xsig"); err != nil {
		t.Fatalf("update status: %v", err)
	}
	updated, _ := s.GetMessage(ctx, msgid.Internal(msg.ID))
	if updated.Status != StatusApproved || updated.TransactionSignature != "0xsig" {
		t.Fatalf("update not applied: %+v", updated)
	}

	err := s.UpdateMessageStatus(ctx, "missing-row", StatusApproved, "0xsig")
	if !errors.Is(err, apperr.ErrMessageNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestMemoryStoreListForProfile(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	seed := []Message{
		{MessageID: "m1aa", SenderID: "p1", RecipientID: "p2", Amount: decimal.NewFromInt(1)},
		{MessageID: "m2bb", SenderID: "p2", RecipientID: "p1", Amount: decimal.NewFromInt(2)},
		{MessageID: "m3cc", SenderID: "p3", RecipientID: "p4", Amount: decimal.NewFromInt(3)},
	}
	for i := range seed {
		if err := s.CreateMessage(ctx, &seed[i]); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	got, _ := s.ListMessagesForProfile(ctx, "p1")
	if len(got) != 2 {
		t.Fatalf("expected 2 messages for p1, got %d", len(got))
	}
	for _, msg := range got {
		if msg.SenderID != "p1" && msg.RecipientID != "p1" {
			t.Fatalf("message %s does not involve p1", msg.MessageID)
		}
	}
}

func TestMemoryStoreDuplicateMessageIDFirstWins(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first := &Message{MessageID: "mdup", SenderID: "p1", RecipientID: "p2", Amount: decimal.NewFromInt(1)}
	second := &Message{MessageID: "mdup", SenderID: "p3", RecipientID: "p4", Amount: decimal.NewFromInt(2)}
	_ = s.CreateMessage(ctx, first)
	_ = s.CreateMessage(ctx, second)

	got, _ := s.GetMessage(ctx, msgid.External("mdup"))
	if got == nil || got.ID != first.ID {
		t.Fatalf("expected earliest duplicate, got %+v", got)
	}
}

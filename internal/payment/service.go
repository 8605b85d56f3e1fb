// Package payment drives the pay-to-message escrow lifecycle: create,
// approve, reject. Each operation is a single pass over the chain and
// the mirror; nothing is retried and nothing runs in the background.
package payment

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"paygram/internal/apperr"
	"paygram/internal/driftlog"
	"paygram/internal/escrowchain"
	"paygram/internal/feed"
	"paygram/internal/msgid"
	"paygram/internal/store"
)

// EventPublisher receives lifecycle transitions for fan-out to
// connected clients.
type EventPublisher interface {
	Publish(evt feed.Event)
}

// Limits bounds a single payment, in display units of the token.
// Zero values disable the respective bound.
type Limits struct {
	MinAmount decimal.Decimal
	MaxAmount decimal.Decimal
	FeeBuffer decimal.Decimal
}

type Config struct {
	Deriver       escrowchain.Deriver
	Limits        Limits
	TokenDecimals int
	Journal       *driftlog.Journal
	Events        EventPublisher
	Logger        *slog.Logger
}

type Service struct {
	store    store.Store
	chain    escrowchain.Client
	deriver  escrowchain.Deriver
	limits   Limits
	decimals int32
	journal  *driftlog.Journal
	events   EventPublisher
	log      *slog.Logger
}

func NewService(st store.Store, chain escrowchain.Client, cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	decimals := cfg.TokenDecimals
	if decimals <= 0 {
		decimals = 18
	}
	return &Service{
		store:    st,
		chain:    chain,
		deriver:  cfg.Deriver,
		limits:   cfg.Limits,
		decimals: int32(decimals),
		journal:  cfg.Journal,
		events:   cfg.Events,
		log:      logger,
	}
}

type CreateRequest struct {
	SenderAddress    string
	RecipientAddress string
	Amount           decimal.Decimal
	Content          string
}

type CreateResult struct {
	Message       store.Message
	EscrowAccount string
}

// CreatePayment locks funds for a new message. The balance gate runs
// before anything touches the program: an underfunded sender never
// produces a chain submission.
func (s *Service) CreatePayment(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := s.validateCreate(req); err != nil {
		return nil, err
	}
	sender := normalizeWallet(req.SenderAddress)
	recipient := normalizeWallet(req.RecipientAddress)

	amountWei, err := s.toWei(req.Amount)
	if err != nil {
		return nil, err
	}

	balance, err := s.chain.BalanceOf(ctx, sender)
	if err != nil {
		return nil, err
	}
	required := new(big.Int).Add(amountWei, s.feeBufferWei())
	if balance.Cmp(required) < 0 {
		return nil, apperr.ErrInsufficientFunds
	}

	messageID := msgid.New()
	seed, err := msgid.Seed(messageID)
	if err != nil {
		return nil, err
	}
	escrowAddr, err := s.deriver.EscrowAddress(common.HexToAddress(sender), common.HexToAddress(recipient), seed)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "derive escrow account", err)
	}

	submitted, err := s.chain.CreateMessagePayment(ctx, escrowchain.CreatePaymentRequest{
		EscrowAccount:    escrowAddr.Hex(),
		SenderAddress:    sender,
		RecipientAddress: recipient,
		AmountWei:        amountWei,
		MessageID:        messageID,
	})
	if err != nil {
		return nil, err
	}

	// Funds are locked from here on. A mirror failure below leaves the
	// two systems inconsistent until the reconcile tooling sees it.
	senderProf, err := s.ensureProfile(ctx, sender)
	if err != nil {
		s.recordDrift("create", messageID, escrowAddr.Hex(), submitted.TxSignature, err)
		return nil, apperr.Wrap(apperr.CodeInternal, "payment confirmed on chain but mirror write failed", err)
	}
	recipientProf, err := s.ensureProfile(ctx, recipient)
	if err != nil {
		s.recordDrift("create", messageID, escrowAddr.Hex(), submitted.TxSignature, err)
		return nil, apperr.Wrap(apperr.CodeInternal, "payment confirmed on chain but mirror write failed", err)
	}

	msg := store.Message{
		MessageID:            messageID,
		SenderID:             senderProf.ID,
		RecipientID:          recipientProf.ID,
		Amount:               req.Amount,
		Content:              req.Content,
		Status:               store.StatusPending,
		TransactionSignature: submitted.TxSignature,
	}
	if err := s.store.CreateMessage(ctx, &msg); err != nil {
		s.recordDrift("create", messageID, escrowAddr.Hex(), submitted.TxSignature, err)
		return nil, apperr.Wrap(apperr.CodeInternal, "payment confirmed on chain but mirror write failed", err)
	}

	s.log.Info("payment created",
		"messageId", messageID,
		"escrow", escrowAddr.Hex(),
		"tx", submitted.TxSignature,
		"amount", req.Amount.String(),
	)
	s.publish(msg, sender, recipient)

	return &CreateResult{Message: msg, EscrowAccount: escrowAddr.Hex()}, nil
}

type SettleRequest struct {
	// WalletAddress is the recipient acting on the payment.
	WalletAddress string
	// SenderAddress is the sender as the caller believes it to be.
	// When set it must agree with the stored pairing; derivation always
	// uses the stored one.
	SenderAddress string
	MessageID     string
}

type SettleResult struct {
	Message       store.Message
	EscrowAccount string
}

func (s *Service) ApprovePayment(ctx context.Context, req SettleRequest) (*SettleResult, error) {
	return s.settle(ctx, req, store.StatusApproved)
}

func (s *Service) RejectPayment(ctx context.Context, req SettleRequest) (*SettleResult, error) {
	return s.settle(ctx, req, store.StatusRejected)
}

func (s *Service) settle(ctx context.Context, req SettleRequest, target store.Status) (*SettleResult, error) {
	if err := msgid.Validate(req.MessageID); err != nil {
		return nil, err
	}
	if !common.IsHexAddress(req.WalletAddress) {
		return nil, apperr.New(apperr.CodeInvalidArgument, "invalid wallet address")
	}
	if req.SenderAddress != "" && !common.IsHexAddress(req.SenderAddress) {
		return nil, apperr.New(apperr.CodeInvalidArgument, "invalid sender address")
	}

	msg, err := s.store.GetMessage(ctx, msgid.External(req.MessageID))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "mirror lookup failed", err)
	}
	if msg == nil {
		return nil, apperr.ErrMessageNotFound
	}
	if msg.Status != store.StatusPending {
		return nil, apperr.ErrNotPending
	}

	senderProf, err := s.profileByID(ctx, msg.SenderID)
	if err != nil {
		return nil, err
	}
	recipientProf, err := s.profileByID(ctx, msg.RecipientID)
	if err != nil {
		return nil, err
	}

	// Derivation reuses the original pairing from the mirror row. A
	// caller with a different idea of who sent this gets refused rather
	// than a wrong address.
	if req.SenderAddress != "" && normalizeWallet(req.SenderAddress) != senderProf.WalletAddress {
		return nil, apperr.ErrSenderMismatch
	}
	if normalizeWallet(req.WalletAddress) != recipientProf.WalletAddress {
		return nil, apperr.New(apperr.CodeInvalidArgument, "wallet is not the recipient of this payment")
	}

	seed, err := msgid.Seed(msg.MessageID)
	if err != nil {
		return nil, err
	}
	escrowAddr, err := s.deriver.EscrowAddress(
		common.HexToAddress(senderProf.WalletAddress),
		common.HexToAddress(recipientProf.WalletAddress),
		seed,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "derive escrow account", err)
	}

	chainReq := escrowchain.SettleRequest{
		EscrowAccount:    escrowAddr.Hex(),
		SenderAddress:    senderProf.WalletAddress,
		RecipientAddress: recipientProf.WalletAddress,
		MessageID:        msg.MessageID,
	}

	var submitted escrowchain.SubmitResponse
	op := "approve"
	if target == store.StatusApproved {
		submitted, err = s.chain.ApproveMessagePayment(ctx, chainReq)
	} else {
		op = "reject"
		submitted, err = s.chain.RejectMessagePayment(ctx, chainReq)
	}
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateMessageStatus(ctx, msg.ID, target, submitted.TxSignature); err != nil {
		s.recordDrift(op, msg.MessageID, escrowAddr.Hex(), submitted.TxSignature, err)
		return nil, apperr.Wrap(apperr.CodeInternal, "settlement confirmed on chain but mirror update failed", err)
	}
	msg.Status = target
	msg.TransactionSignature = submitted.TxSignature
	msg.UpdatedAt = time.Now().UTC()

	s.log.Info("payment settled",
		"messageId", msg.MessageID,
		"status", string(target),
		"escrow", escrowAddr.Hex(),
		"tx", submitted.TxSignature,
	)
	s.publish(*msg, senderProf.WalletAddress, recipientProf.WalletAddress)

	return &SettleResult{Message: *msg, EscrowAccount: escrowAddr.Hex()}, nil
}

// ListMessagesForWallet returns every message the wallet participates
// in. An unseen wallet gets a profile created and an empty list back.
func (s *Service) ListMessagesForWallet(ctx context.Context, wallet string) ([]store.Message, error) {
	if !common.IsHexAddress(wallet) {
		return nil, apperr.New(apperr.CodeInvalidArgument, "invalid wallet address")
	}
	prof, err := s.ensureProfile(ctx, normalizeWallet(wallet))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "profile lookup failed", err)
	}
	msgs, err := s.store.ListMessagesForProfile(ctx, prof.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "mirror lookup failed", err)
	}
	return msgs, nil
}

// GetMessage resolves a typed reference. External references are
// validated first; internal ones are opaque row ids.
func (s *Service) GetMessage(ctx context.Context, ref msgid.Ref) (*store.Message, error) {
	if ref.Kind == msgid.KindExternal {
		if err := msgid.Validate(ref.Value); err != nil {
			return nil, err
		}
	}
	msg, err := s.store.GetMessage(ctx, ref)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "mirror lookup failed", err)
	}
	if msg == nil {
		return nil, apperr.ErrMessageNotFound
	}
	return msg, nil
}

// SaveMessage writes a mirror row directly, outside the payment flow.
// A malformed identifier is regenerated before persistence, never
// written as-is.
func (s *Service) SaveMessage(ctx context.Context, msg *store.Message) error {
	original := msg.MessageID
	msg.MessageID = msgid.Normalize(msg.MessageID)
	if msg.MessageID != original {
		s.log.Warn("regenerated malformed message id", "old", original, "new", msg.MessageID)
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return apperr.Wrap(apperr.CodeInternal, "mirror write failed", err)
	}
	return nil
}

func (s *Service) ensureProfile(ctx context.Context, wallet string) (*store.Profile, error) {
	existing, err := s.store.GetProfileByWallet(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("profile lookup: %w", err)
	}
	if existing != nil {
		return existing, nil
	}
	prof := &store.Profile{
		WalletAddress: wallet,
		Username:      usernameFromWallet(wallet),
	}
	if err := s.store.CreateProfile(ctx, prof); err != nil {
		return nil, fmt.Errorf("profile create: %w", err)
	}
	s.log.Info("profile created", "wallet", wallet, "username", prof.Username)
	return prof, nil
}

func (s *Service) profileByID(ctx context.Context, id string) (*store.Profile, error) {
	prof, err := s.store.GetProfileByID(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "profile lookup failed", err)
	}
	if prof == nil {
		return nil, apperr.ErrProfileNotFound
	}
	return prof, nil
}

func (s *Service) validateCreate(req CreateRequest) error {
	if !common.IsHexAddress(req.SenderAddress) {
		return apperr.New(apperr.CodeInvalidArgument, "invalid sender address")
	}
	if !common.IsHexAddress(req.RecipientAddress) {
		return apperr.New(apperr.CodeInvalidArgument, "invalid recipient address")
	}
	if req.Amount.Sign() <= 0 {
		return apperr.New(apperr.CodeInvalidArgument, "amount must be positive")
	}
	if !s.limits.MinAmount.IsZero() && req.Amount.LessThan(s.limits.MinAmount) {
		return apperr.New(apperr.CodeInvalidArgument, "amount below minimum")
	}
	if !s.limits.MaxAmount.IsZero() && req.Amount.GreaterThan(s.limits.MaxAmount) {
		return apperr.New(apperr.CodeInvalidArgument, "amount above maximum")
	}
	return nil
}

func (s *Service) toWei(amount decimal.Decimal) (*big.Int, error) {
	shifted := amount.Shift(s.decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, apperr.New(apperr.CodeInvalidArgument,
			fmt.Sprintf("amount precision exceeds %d decimals", s.decimals))
	}
	return shifted.BigInt(), nil
}

func (s *Service) feeBufferWei() *big.Int {
	return s.limits.FeeBuffer.Shift(s.decimals).BigInt()
}

func (s *Service) recordDrift(op, messageID, escrowAccount, txSig string, cause error) {
	s.log.Error("mirror write failed after chain success",
		"op", op,
		"messageId", messageID,
		"escrow", escrowAccount,
		"tx", txSig,
		"err", cause,
	)
	s.journal.Append(driftlog.Entry{
		Operation:     op,
		MessageID:     messageID,
		EscrowAccount: escrowAccount,
		TxSignature:   txSig,
		Error:         cause.Error(),
	})
}

func (s *Service) publish(msg store.Message, senderWallet, recipientWallet string) {
	if s.events == nil {
		return
	}
	s.events.Publish(feed.Event{
		MessageID:   msg.MessageID,
		Sender:      senderWallet,
		Recipient:   recipientWallet,
		Status:      string(msg.Status),
		Amount:      msg.Amount.String(),
		TxSignature: msg.TransactionSignature,
		At:          time.Now().UTC(),
	})
}

// normalizeWallet maps any accepted hex spelling to the checksummed
// form, so the same wallet never splits into case-distinct profiles.
func normalizeWallet(wallet string) string {
	return common.HexToAddress(wallet).Hex()
}

func usernameFromWallet(wallet string) string {
	trimmed := wallet
	if len(trimmed) > 2 && (trimmed[:2] == "0x" || trimmed[:2] == "0X") {
		trimmed = trimmed[2:]
	}
	if len(trimmed) > 8 {
		trimmed = trimmed[:8]
	}
	return "user_" + trimmed
}

package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"paygram/internal/config"
	"paygram/internal/driftlog"
	"paygram/internal/escrowchain"
	"paygram/internal/idempotency"
	"paygram/internal/payment"
	"paygram/internal/reconcile"
	"paygram/internal/store"

	"github.com/ethereum/go-ethereum/common"
)

const (
	testSecret      = "test-secret"
	debugTestSecret = "debug-secret"
	senderWallet    = "0x1111111111111111111111111111111111111111"
	recipientWallet = "0x2222222222222222222222222222222222222222"
)

type testHarness struct {
	srv      *Server
	mirror   *store.MemoryStore
	payments *payment.Service
	journal  *driftlog.Journal
}

func newTestHarness(t *testing.T, chain escrowchain.Client) *testHarness {
	t.Helper()

	cfg := &config.AppConfig{
		Service: config.ServiceConfig{
			HTTPPort:          0,
			HMACClockSkew:     time.Minute,
			IdempotencyWindow: time.Minute,
		},
		Secrets: config.SecretsConfig{
			HMACSecret:      testSecret,
			DebugHMACSecret: debugTestSecret,
		},
	}

	mirror := store.NewMemoryStore()
	journal := driftlog.New(t.TempDir())
	deriver := escrowchain.Deriver{
		Program:      common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0"),
		InitCodeHash: common.HexToHash("0x41c64ef7bbbd1a8d91f6b7e2f3a85bd08a978c7e23b7b6ff542388b3a57cb0b1"),
	}
	payments := payment.NewService(mirror, chain, payment.Config{
		Deriver:       deriver,
		TokenDecimals: 18,
		Limits:        payment.Limits{FeeBuffer: decimal.RequireFromString("0.01")},
		Journal:       journal,
	})
	reconciler := reconcile.New(mirror, journal, nil)

	srv := NewServer(cfg, Deps{
		Payments:    payments,
		Reconciler:  reconciler,
		Idempotency: idempotency.NewMemoryStore(),
		Journal:     journal,
		Mirror:      mirror,
		Chain:       chain,
	})
	return &testHarness{srv: srv, mirror: mirror, payments: payments, journal: journal}
}

func signedRequest(t *testing.T, method, target, secret string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("X-Request-Timestamp", ts)
	sigHeader := "X-Request-Signature"
	if secret == debugTestSecret {
		sigHeader = "X-Debug-Signature"
	}
	req.Header.Set(sigHeader, computeSignatureForTest(secret, ts, body))
	return req
}

func computeSignatureForTest(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return strings.ToLower(hex.EncodeToString(mac.Sum(nil)))
}

func createPaymentBody(t *testing.T) []byte {
	t.Helper()
	payload, err := json.Marshal(createPaymentRequest{
		SenderAddress:    senderWallet,
		RecipientAddress: recipientWallet,
		Amount:           "1.5",
		Content:          "coffee on me",
	})
	if err != nil {
		t.Fatal(err)
	}
	return payload
}

func TestCreatePaymentIdempotency(t *testing.T) {
	h := newTestHarness(t, escrowchain.FakeClient{})
	payload := createPaymentBody(t)

	req := signedRequest(t, http.MethodPost, "/api/v1/payments", testSecret, payload)
	req.Header.Set("X-Idempotency-Key", "key-1")
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	first := rec.Body.Bytes()

	var resp paymentResponse
	if err := json.Unmarshal(first, &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Message.Status != "pending" {
		t.Fatalf("expected pending status, got %q", resp.Message.Status)
	}
	if resp.EscrowAccount == "" {
		t.Fatal("expected derived escrow account in response")
	}

	// Replay with the same key must not create a second payment.
	req2 := signedRequest(t, http.MethodPost, "/api/v1/payments", testSecret, payload)
	req2.Header.Set("X-Idempotency-Key", "key-1")
	rec2 := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec2, req2)

	if rec2.Code != http.StatusCreated {
		t.Fatalf("expected cached 201 got %d", rec2.Code)
	}
	if !bytes.Equal(first, rec2.Body.Bytes()) {
		t.Fatal("replay returned a different body")
	}

	msgs, err := h.mirror.ListMessages(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 mirrored message, got %d", len(msgs))
	}
}

func TestCreatePaymentMissingIdempotencyKey(t *testing.T) {
	h := newTestHarness(t, escrowchain.FakeClient{})

	req := signedRequest(t, http.MethodPost, "/api/v1/payments", testSecret, createPaymentBody(t))
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestCreatePaymentInsufficientFunds(t *testing.T) {
	broke := escrowchain.FakeClient{Balance: big.NewInt(1)}
	h := newTestHarness(t, broke)

	req := signedRequest(t, http.MethodPost, "/api/v1/payments", testSecret, createPaymentBody(t))
	req.Header.Set("X-Idempotency-Key", "key-broke")
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402 got %d: %s", rec.Code, rec.Body.String())
	}
	var errResp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatal(err)
	}
	if errResp.Code != "INSUFFICIENT_FUNDS" {
		t.Fatalf("expected INSUFFICIENT_FUNDS got %q", errResp.Code)
	}

	msgs, _ := h.mirror.ListMessages(context.Background())
	if len(msgs) != 0 {
		t.Fatalf("underfunded create must not mirror anything, got %d rows", len(msgs))
	}
}

func TestApproveAndRejectFlow(t *testing.T) {
	h := newTestHarness(t, escrowchain.FakeClient{})

	created, err := h.payments.CreatePayment(context.Background(), payment.CreateRequest{
		SenderAddress:    senderWallet,
		RecipientAddress: recipientWallet,
		Amount:           decimal.RequireFromString("2"),
		Content:          "pending payment",
	})
	if err != nil {
		t.Fatal(err)
	}
	messageID := created.Message.MessageID

	body, _ := json.Marshal(settlePaymentRequest{WalletAddress: recipientWallet})
	req := signedRequest(t, http.MethodPost, "/api/v1/payments/"+messageID+"/approve", testSecret, body)
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	var resp paymentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Message.Status != "approved" {
		t.Fatalf("expected approved got %q", resp.Message.Status)
	}
	if resp.Message.TransactionSignature == "" {
		t.Fatal("expected a transaction signature on the settled message")
	}
	if resp.EscrowAccount != created.EscrowAccount {
		t.Fatalf("settlement derived %s, creation derived %s", resp.EscrowAccount, created.EscrowAccount)
	}

	// A second transition on the same payment is refused.
	req2 := signedRequest(t, http.MethodPost, "/api/v1/payments/"+messageID+"/reject", testSecret, body)
	rec2 := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for settled payment, got %d", rec2.Code)
	}
}

func TestApproveMalformedMessageID(t *testing.T) {
	h := newTestHarness(t, escrowchain.FakeClient{})

	body, _ := json.Marshal(settlePaymentRequest{WalletAddress: recipientWallet})
	req := signedRequest(t, http.MethodPost, "/api/v1/payments/xx1/approve", testSecret, body)
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
	var errResp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatal(err)
	}
	if errResp.Code != "MALFORMED_IDENTIFIER" {
		t.Fatalf("expected MALFORMED_IDENTIFIER got %q", errResp.Code)
	}
}

func TestListMessagesCreatesProfileForUnseenWallet(t *testing.T) {
	h := newTestHarness(t, escrowchain.FakeClient{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/messages?wallet="+senderWallet, nil)
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Messages []messageResponse `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Messages) != 0 {
		t.Fatalf("expected empty inbox, got %d messages", len(resp.Messages))
	}

	profiles, err := h.mirror.ListProfiles(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(profiles) != 1 {
		t.Fatalf("expected exactly one lazily created profile, got %d", len(profiles))
	}
}

func TestDebugEndpointsRequireSignature(t *testing.T) {
	h := newTestHarness(t, escrowchain.FakeClient{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/debug/report", nil)
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned debug request: expected 401 got %d", rec.Code)
	}

	signed := signedRequest(t, http.MethodGet, "/api/v1/debug/report", debugTestSecret, nil)
	rec2 := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec2, signed)
	if rec2.Code != http.StatusOK {
		t.Fatalf("signed debug request: expected 200 got %d: %s", rec2.Code, rec2.Body.String())
	}
	var report reconcile.Report
	if err := json.Unmarshal(rec2.Body.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestHarness(t, escrowchain.FakeClient{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var resp struct {
		Status     string `json:"status"`
		DriftDepth int    `json:"drift_depth"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "healthy" {
		t.Fatalf("expected healthy got %q", resp.Status)
	}
	if resp.DriftDepth != 0 {
		t.Fatalf("expected empty drift journal, got depth %d", resp.DriftDepth)
	}
}

func TestGetMessageByExternalID(t *testing.T) {
	h := newTestHarness(t, escrowchain.FakeClient{})

	created, err := h.payments.CreatePayment(context.Background(), payment.CreateRequest{
		SenderAddress:    senderWallet,
		RecipientAddress: recipientWallet,
		Amount:           decimal.RequireFromString("0.5"),
		Content:          "lookup target",
	})
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/messages/"+created.Message.MessageID, nil)
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}

	missing := httptest.NewRequest(http.MethodGet, "/api/v1/messages/m9999zzzz", nil)
	rec2 := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec2, missing)
	if rec2.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec2.Code)
	}
}

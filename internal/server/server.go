package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"paygram/internal/apperr"
	"paygram/internal/config"
	"paygram/internal/driftlog"
	"paygram/internal/escrowchain"
	"paygram/internal/feed"
	"paygram/internal/hmacauth"
	"paygram/internal/idempotency"
	"paygram/internal/msgid"
	"paygram/internal/payment"
	"paygram/internal/reconcile"
	"paygram/internal/store"
)

// Deps collects the wired collaborators. Mirror and Chain appear here
// only so health probing can reach them; request handling goes through
// Payments.
type Deps struct {
	Payments    *payment.Service
	Reconciler  *reconcile.Reconciler
	Idempotency idempotency.Store
	Journal     *driftlog.Journal
	Hub         *feed.Hub
	Mirror      store.Store
	Chain       escrowchain.Client
}

type Server struct {
	cfg         *config.AppConfig
	payments    *payment.Service
	reconciler  *reconcile.Reconciler
	idem        idempotency.Store
	journal     *driftlog.Journal
	hub         *feed.Hub
	hmac        *hmacauth.Verifier
	debugHMAC   *hmacauth.Verifier
	httpServer  *http.Server
	metrics     *metricsRegistry
	dbHealthFn  func(context.Context) error
	rpcHealthFn func(context.Context) error
}

func NewServer(cfg *config.AppConfig, deps Deps) *Server {
	hmacVerifier := &hmacauth.Verifier{
		Secret:  cfg.Secrets.HMACSecret,
		MaxSkew: cfg.Service.HMACClockSkew,
	}

	debugVerifier := &hmacauth.Verifier{
		Secret:          cfg.Secrets.DebugHMACSecret,
		MaxSkew:         cfg.Service.HMACClockSkew,
		SignatureHeader: "X-Debug-Signature",
		TimestampHeader: "X-Request-Timestamp",
	}

	s := &Server{
		cfg:        cfg,
		payments:   deps.Payments,
		reconciler: deps.Reconciler,
		idem:       deps.Idempotency,
		journal:    deps.Journal,
		hub:        deps.Hub,
		hmac:       hmacVerifier,
		debugHMAC:  debugVerifier,
	}
	s.metrics = newMetricsRegistry(s.driftDepth, s.wsClients)

	if checker, ok := deps.Mirror.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}
	if checker, ok := deps.Chain.(escrowchain.HealthChecker); ok {
		s.rpcHealthFn = checker.Ping
	}

	r := mux.NewRouter()
	r.Use(requestIDMiddleware)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Handle("/payments", s.hmac.Middleware(http.HandlerFunc(s.handleCreatePayment))).Methods(http.MethodPost)
	api.Handle("/payments/{messageId}/approve", s.hmac.Middleware(s.settleHandler(store.StatusApproved))).Methods(http.MethodPost)
	api.Handle("/payments/{messageId}/reject", s.hmac.Middleware(s.settleHandler(store.StatusRejected))).Methods(http.MethodPost)
	api.HandleFunc("/messages", s.handleListMessages).Methods(http.MethodGet)
	api.HandleFunc("/messages/{messageId}", s.handleGetMessage).Methods(http.MethodGet)
	api.HandleFunc("/feed", s.handleFeed).Methods(http.MethodGet)
	api.Handle("/debug/profiles", s.debugHMAC.Middleware(http.HandlerFunc(s.handleDumpProfiles))).Methods(http.MethodGet)
	api.Handle("/debug/messages", s.debugHMAC.Middleware(http.HandlerFunc(s.handleDumpMessages))).Methods(http.MethodGet)
	api.Handle("/debug/report", s.debugHMAC.Middleware(http.HandlerFunc(s.handleReport))).Methods(http.MethodGet)
	api.Handle("/metrics", s.metrics.handler()).Methods(http.MethodGet)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	log.Printf("API listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the routed mux for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

type createPaymentRequest struct {
	SenderAddress    string `json:"senderAddress"`
	RecipientAddress string `json:"recipientAddress"`
	Amount           string `json:"amount"`
	Content          string `json:"content"`
}

type settlePaymentRequest struct {
	WalletAddress string `json:"walletAddress"`
	SenderAddress string `json:"senderAddress,omitempty"`
}

type messageResponse struct {
	ID                   string    `json:"id"`
	MessageID            string    `json:"messageId"`
	SenderID             string    `json:"senderId"`
	RecipientID          string    `json:"recipientId"`
	Amount               string    `json:"amount"`
	Content              string    `json:"content"`
	Status               string    `json:"status"`
	TransactionSignature string    `json:"transactionSignature,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

type paymentResponse struct {
	Message       messageResponse `json:"message"`
	EscrowAccount string          `json:"escrowAccount"`
}

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func toMessageResponse(m store.Message) messageResponse {
	return messageResponse{
		ID:                   m.ID,
		MessageID:            m.MessageID,
		SenderID:             m.SenderID,
		RecipientID:          m.RecipientID,
		Amount:               m.Amount.String(),
		Content:              m.Content,
		Status:               string(m.Status),
		TransactionSignature: m.TransactionSignature,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.Header.Get("X-Idempotency-Key"))
	if key == "" {
		s.writeError(w, apperr.New(apperr.CodeInvalidArgument, "missing X-Idempotency-Key header"))
		return
	}

	ctx := r.Context()

	if existing, _ := s.idem.Get(ctx, key); existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.StatusCode)
		_, _ = w.Write(existing.Response)
		s.metrics.incPayment("cached")
		return
	}

	var payload createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, apperr.New(apperr.CodeInvalidArgument, "invalid json payload"))
		return
	}
	amount, err := decimal.NewFromString(payload.Amount)
	if err != nil {
		s.writeError(w, apperr.New(apperr.CodeInvalidArgument, "amount is not a decimal number"))
		return
	}

	result, err := s.payments.CreatePayment(ctx, payment.CreateRequest{
		SenderAddress:    payload.SenderAddress,
		RecipientAddress: payload.RecipientAddress,
		Amount:           amount,
		Content:          payload.Content,
	})
	if err != nil {
		s.metrics.incPayment("failed")
		s.writeError(w, err)
		return
	}

	body, _ := json.Marshal(paymentResponse{
		Message:       toMessageResponse(result.Message),
		EscrowAccount: result.EscrowAccount,
	})

	record := idempotency.Record{
		StatusCode: http.StatusCreated,
		Response:   body,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(s.cfg.Service.IdempotencyWindow),
	}
	_ = s.idem.Save(ctx, key, record)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(body)
	s.metrics.incPayment("created")
}

func (s *Server) settleHandler(target store.Status) http.Handler {
	action := "approve"
	if target == store.StatusRejected {
		action = "reject"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		messageID := mux.Vars(r)["messageId"]

		var payload settlePaymentRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			s.writeError(w, apperr.New(apperr.CodeInvalidArgument, "invalid json payload"))
			return
		}

		req := payment.SettleRequest{
			WalletAddress: payload.WalletAddress,
			SenderAddress: payload.SenderAddress,
			MessageID:     messageID,
		}

		var result *payment.SettleResult
		var err error
		if target == store.StatusApproved {
			result, err = s.payments.ApprovePayment(r.Context(), req)
		} else {
			result, err = s.payments.RejectPayment(r.Context(), req)
		}
		if err != nil {
			s.metrics.incSettlement(action, "failed")
			s.writeError(w, err)
			return
		}

		s.metrics.incSettlement(action, "settled")
		s.writeJSON(w, http.StatusOK, paymentResponse{
			Message:       toMessageResponse(result.Message),
			EscrowAccount: result.EscrowAccount,
		})
	})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	wallet := r.URL.Query().Get("wallet")
	if wallet == "" {
		s.writeError(w, apperr.New(apperr.CodeInvalidArgument, "wallet query parameter is required"))
		return
	}

	msgs, err := s.payments.ListMessagesForWallet(r.Context(), wallet)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	s.writeJSON(w, http.StatusOK, struct {
		Messages []messageResponse `json:"messages"`
	}{Messages: out})
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.payments.GetMessage(r.Context(), msgid.External(mux.Vars(r)["messageId"]))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toMessageResponse(*msg))
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	wallet := r.URL.Query().Get("wallet")
	if wallet == "" {
		s.writeError(w, apperr.New(apperr.CodeInvalidArgument, "wallet query parameter is required"))
		return
	}
	if s.hub == nil {
		s.writeError(w, apperr.New(apperr.CodeInternal, "feed is not enabled"))
		return
	}
	if err := feed.ServeWS(s.hub, w, r, wallet); err != nil {
		log.Printf("feed upgrade error: %v", err)
	}
}

func (s *Server) handleDumpProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.reconciler.DumpProfiles(r.Context())
	if err != nil {
		s.writeError(w, apperr.Wrap(apperr.CodeInternal, "profile dump failed", err))
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Profiles []store.Profile `json:"profiles"`
	}{Profiles: profiles})
}

func (s *Server) handleDumpMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.reconciler.DumpMessages(r.Context())
	if err != nil {
		s.writeError(w, apperr.Wrap(apperr.CodeInternal, "message dump failed", err))
		return
	}
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	s.writeJSON(w, http.StatusOK, struct {
		Messages []messageResponse `json:"messages"`
	}{Messages: out})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.reconciler.Report(r.Context())
	if err != nil {
		s.writeError(w, apperr.Wrap(apperr.CodeInternal, "reconcile report failed", err))
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{}

	if s.rpcHealthFn != nil {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.rpcHealthFn(rpcCtx); err != nil {
			rpcInfo.Connected = false
			rpcInfo.Error = err.Error()
			overallHealthy = false
		} else {
			rpcInfo.Connected = true
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	} else {
		rpcInfo.Connected = true
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status     string      `json:"status"`
		RPC        interface{} `json:"rpc"`
		Database   interface{} `json:"database"`
		DriftDepth int         `json:"drift_depth"`
		WSClients  int64       `json:"ws_clients"`
	}{
		Status:     status,
		RPC:        rpcInfo,
		Database:   dbInfo,
		DriftDepth: s.journal.Depth(),
		WSClients:  s.wsClients(),
	}

	w.Header().Set("Content-Type", "application/json")
	if !overallHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps the failure taxonomy onto HTTP. The body carries the
// user-presentable message, never the internal cause chain.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	s.writeJSON(w, httpStatusFor(code), errorResponse{
		Code:  string(code),
		Error: apperr.MessageOf(err),
	})
}

func httpStatusFor(code apperr.Code) int {
	switch code {
	case apperr.CodeInvalidArgument, apperr.CodeMalformedIdentifier:
		return http.StatusBadRequest
	case apperr.CodeInsufficientFunds:
		return http.StatusPaymentRequired
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeUserRejected:
		return http.StatusConflict
	case apperr.CodeRemoteCallFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) driftDepth() float64 {
	return float64(s.journal.Depth())
}

func (s *Server) wsClients() int64 {
	if s.hub == nil {
		return 0
	}
	return s.hub.ClientCount()
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-Id") == "" {
			r.Header.Set("X-Request-Id", strconv.FormatInt(time.Now().UnixNano(), 10))
		}
		next.ServeHTTP(w, r)
	})
}

package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/josh-kwaku/reconciliation-engine/internal/domain"
	"github.com/josh-kwaku/reconciliation-engine/internal/provider"
)

// lifecycle is the happy path every order walks unless forced elsewhere.
var lifecycle = []string{
	provider.RawAwaitingDeposit,
	provider.RawConfirmingDeposit,
	provider.RawExchanging,
	provider.RawSending,
	provider.RawComplete,
}

type server struct {
	cfg    config
	orders *orderBook

	mu     sync.Mutex
	tokens map[string]time.Time
}

const tokenTTL = time.Hour

func (s *server) issueToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	id, secret := r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	if basicID, basicSecret, ok := r.BasicAuth(); ok {
		id, secret = basicID, basicSecret
	}
	if id != s.cfg.ClientID || (s.cfg.ClientSecret != "" && secret != s.cfg.ClientSecret) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}

	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
		return
	}
	token := hex.EncodeToString(buf)

	s.mu.Lock()
	s.tokens[token] = time.Now().Add(tokenTTL)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(tokenTTL.Seconds()),
	})
}

func (s *server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")

		s.mu.Lock()
		exp, ok := s.tokens[token]
		s.mu.Unlock()

		if !ok || time.Now().After(exp) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type orderBook struct {
	cfg    config
	client *http.Client
	logger *slog.Logger

	mu     sync.Mutex
	orders map[string]*domain.OrderSnapshot
	pushes int
}

func newOrderBook(cfg config, client *http.Client, logger *slog.Logger) *orderBook {
	return &orderBook{
		cfg:    cfg,
		client: client,
		logger: logger,
		orders: make(map[string]*domain.OrderSnapshot),
	}
}

func (b *orderBook) create(reference string) domain.OrderSnapshot {
	snap := &domain.OrderSnapshot{
		OrderID:   newOrderID(),
		Status:    lifecycle[0],
		UpdatedAt: time.Now().UTC(),
	}

	b.mu.Lock()
	b.orders[snap.OrderID] = snap
	b.mu.Unlock()

	b.logger.Info("swap created", "external_order_id", snap.OrderID, "reference", reference)
	go b.advance(snap.OrderID)
	return *snap
}

func (b *orderBook) get(id string) (domain.OrderSnapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap, ok := b.orders[id]
	if !ok {
		return domain.OrderSnapshot{}, false
	}
	return *snap, true
}

// set forces a raw status and pushes it. Forced terminal states stop the
// background walk because advance only moves orders still on the happy path.
func (b *orderBook) set(id, status, reason string) (domain.OrderSnapshot, bool) {
	b.mu.Lock()
	snap, ok := b.orders[id]
	if ok {
		snap.Status = status
		snap.FailureReason = reason
		snap.UpdatedAt = time.Now().UTC()
	}
	var out domain.OrderSnapshot
	if ok {
		out = *snap
	}
	b.mu.Unlock()

	if ok {
		b.push(out, true)
	}
	return out, ok
}

func (b *orderBook) advance(id string) {
	ticker := time.NewTicker(b.cfg.StepInterval)
	defer ticker.Stop()

	for step := 1; step < len(lifecycle); step++ {
		<-ticker.C

		b.mu.Lock()
		snap := b.orders[id]
		if snap.Status != lifecycle[step-1] {
			b.mu.Unlock()
			return
		}
		snap.Status = lifecycle[step]
		snap.UpdatedAt = time.Now().UTC()
		if snap.Status == provider.RawConfirmingDeposit {
			snap.DepositConfirmed = true
		}
		if snap.Status == provider.RawComplete {
			snap.TxHash = "0x" + strings.ReplaceAll(id, "-", "")
		}
		out := *snap
		b.mu.Unlock()

		b.push(out, false)
	}
}

// push delivers the snapshot to the engine. Unless forced, every Nth push is
// dropped to simulate lost webhooks.
func (b *orderBook) push(snap domain.OrderSnapshot, force bool) {
	if b.cfg.WebhookURL == "" {
		return
	}

	b.mu.Lock()
	b.pushes++
	n := b.pushes
	b.mu.Unlock()

	log := b.logger.With("external_order_id", snap.OrderID, "status", snap.Status)
	if !force && b.cfg.DropWebhookEvery > 0 && n%b.cfg.DropWebhookEvery == 0 {
		log.Info("webhook dropped on purpose")
		return
	}

	body, err := json.Marshal(snap)
	if err != nil {
		log.Error("webhook marshal failed", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		log.Error("webhook request build failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if b.cfg.WebhookSecret != "" {
		mac := hmac.New(sha256.New, []byte(b.cfg.WebhookSecret))
		mac.Write(body)
		req.Header.Set("X-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := b.client.Do(req)
	if err != nil {
		log.Warn("webhook delivery failed", "error", err)
		return
	}
	resp.Body.Close()
	log.Info("webhook delivered", "http_status", resp.StatusCode)
}

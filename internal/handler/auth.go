package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/josh-kwaku/reconciliation-engine/internal/auth"
	"github.com/josh-kwaku/reconciliation-engine/internal/logging"
)

type clientAuthenticator interface {
	Authenticate(id, secret string) (*auth.Client, error)
}

type AuthHandler struct {
	clients   clientAuthenticator
	jwtSecret string
	jwtExpiry time.Duration
}

func NewAuthHandler(clients clientAuthenticator, jwtSecret string, jwtExpiry time.Duration) *AuthHandler {
	return &AuthHandler{
		clients:   clients,
		jwtSecret: jwtSecret,
		jwtExpiry: jwtExpiry,
	}
}

type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

func (r tokenRequest) Validate() []FieldError {
	var errs []FieldError
	if r.ClientID == "" {
		errs = append(errs, FieldError{Field: "client_id", Message: "required"})
	}
	if r.ClientSecret == "" {
		errs = append(errs, FieldError{Field: "client_secret", Message: "required"})
	}
	return errs
}

type tokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
	Role      string    `json:"role"`
}

func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	client, err := h.clients.Authenticate(req.ClientID, req.ClientSecret)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			logging.FromContext(r.Context()).Info("token request rejected", "client_id", req.ClientID)
			RespondAppError(w, ErrInvalidCredentials, nil)
			return
		}
		RespondDomainError(w, err)
		return
	}

	expiresAt := time.Now().UTC().Add(h.jwtExpiry)
	token, err := auth.GenerateToken(client.ID, client.Role, h.jwtSecret, h.jwtExpiry)
	if err != nil {
		logging.FromContext(r.Context()).Error("token signing failed", "error", err)
		RespondAppError(w, ErrInternalError, nil)
		return
	}

	RespondSuccess(w, http.StatusOK, tokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: expiresAt,
		Role:      client.Role,
	})
}

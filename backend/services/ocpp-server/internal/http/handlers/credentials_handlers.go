package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"ocppgate/backend/services/ocpp-server/internal/credentials"
)

// CredentialStore is the administrative side of the credential service.
type CredentialStore interface {
	AddCredential(ctx context.Context, identity, secret string) error
}

// CredentialsHandlers serves station credential management.
type CredentialsHandlers struct {
	store  CredentialStore
	logger *zap.Logger
}

// NewCredentialsHandlers ctor.
func NewCredentialsHandlers(store CredentialStore, logger *zap.Logger) *CredentialsHandlers {
	return &CredentialsHandlers{store: store, logger: logger}
}

type addCredentialRequest struct {
	Identity string `json:"identity"`
	Secret   string `json:"secret"`
}

// Add stores or replaces the Basic-auth secret of a station.
func (h *CredentialsHandlers) Add(w http.ResponseWriter, r *http.Request) {
	var req addCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	err := h.store.AddCredential(r.Context(), req.Identity, req.Secret)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, credentials.ErrInvalidIdentity), errors.Is(err, credentials.ErrInvalidSecret):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("add credential failed", zap.String("station_id", req.Identity), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "credential could not be stored")
	}
}

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"wallet-custody/config"
	"wallet-custody/internal/app"
	"wallet-custody/internal/apperrors"
	"wallet-custody/internal/multisig"
	"wallet-custody/models"
	"wallet-custody/observability"
	"wallet-custody/services"
)

// HealthChecker reports the state of an optional dependency such as Redis
type HealthChecker func(r *http.Request) error

// Handler handles HTTP API requests
type Handler struct {
	app    *app.App
	cfg    *config.Config
	redis  HealthChecker
	health *HealthCache
}

// NewHandler creates a new Handler. redis may be nil when no Redis is configured.
func NewHandler(application *app.App, cfg *config.Config, redis HealthChecker) *Handler {
	return &Handler{app: application, cfg: cfg, redis: redis, health: NewHealthCache(DefaultHealthCacheTTL)}
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	StatusCode int    `json:"statusCode"`
	ErrorCode  string `json:"errorCode"`
	Message    string `json:"message"`
}

// ClientKeyRequest names the client's auth public key
type ClientKeyRequest struct {
	ClientAuthPubKey string `json:"clientAuthPubKey"`
}

// ImportWalletRequest carries a seed phrase sealed to the custodial key
type ImportWalletRequest struct {
	ClientAuthPubKey    string               `json:"clientAuthPubKey"`
	EncryptedSeedPhrase *models.SeedEnvelope `json:"encryptedSeedPhrase"`
}

// SignTransactionRequest approves a transaction as one participant
type SignTransactionRequest struct {
	SignerAddress string `json:"signerAddress"`
	SignedTxBlob  string `json:"signedTxBlob"`
}

// RejectTransactionRequest declines a transaction as one participant
type RejectTransactionRequest struct {
	SignerAddress string `json:"signerAddress"`
}

// HandleHealth returns the health status of the application
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{"status": "ok"}
	deps := map[string]string{}

	if h.health.Check("database", func() error { return h.app.Repo().Health(r.Context()) }) {
		deps["database"] = "connected"
	} else {
		deps["database"] = "disconnected"
		status["status"] = "degraded"
	}

	if h.redis == nil {
		deps["redis"] = "not_configured"
	} else if h.health.Check("redis", func() error { return h.redis(r) }) {
		deps["redis"] = "connected"
	} else {
		deps["redis"] = "disconnected"
		status["status"] = "degraded"
	}
	status["services"] = deps

	cbStatus := services.GetGlobalRegistry().Status()
	status["circuit_breakers"] = cbStatus
	for _, cb := range cbStatus {
		if cb.State == "open" {
			status["status"] = "degraded"
			break
		}
	}

	h.jsonResponse(w, http.StatusOK, status)
}

// HandleSignatureMessage issues a challenge for the client's auth key
func (h *Handler) HandleSignatureMessage(w http.ResponseWriter, r *http.Request) {
	var req ClientKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	message, err := h.app.Challenges().Issue(r.Context(), req.ClientAuthPubKey)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.jsonResponse(w, http.StatusCreated, map[string]string{"message": message})
}

// HandleSignUpExternal registers the user named by the client JWT
func (h *Handler) HandleSignUpExternal(w http.ResponseWriter, r *http.Request) {
	var req ClientKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var externalID string
	if res := gateResult(r.Context()); res != nil {
		externalID = res.ExternalUserID
	}

	result, err := h.app.SignUp().SignUpExternal(r.Context(), externalID, req.ClientAuthPubKey)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.jsonResponse(w, http.StatusCreated, result)
}

// HandleCreateWallet generates a new custodial wallet
func (h *Handler) HandleCreateWallet(w http.ResponseWriter, r *http.Request) {
	var req ClientKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.app.Wallets().Create(r.Context(), currentUser(r.Context()), req.ClientAuthPubKey)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.jsonResponse(w, http.StatusCreated, result)
}

// HandleImportWallet registers a wallet from an encrypted seed phrase
func (h *Handler) HandleImportWallet(w http.ResponseWriter, r *http.Request) {
	var req ImportWalletRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.app.Wallets().Import(r.Context(), currentUser(r.Context()), req.ClientAuthPubKey, req.EncryptedSeedPhrase)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.jsonResponse(w, createdOrOK(result.Created), result)
}

// HandleCreateMultisig creates or returns a multisig asset
func (h *Handler) HandleCreateMultisig(w http.ResponseWriter, r *http.Request) {
	var req multisig.CreateMultisigInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	asset, created, err := h.app.Multisig().CreateOrGet(r.Context(), currentUser(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.jsonResponse(w, createdOrOK(created), asset)
}

// HandleInitTransaction starts a multisig transfer
func (h *Handler) HandleInitTransaction(w http.ResponseWriter, r *http.Request) {
	var req multisig.InitTransactionInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	out, err := h.app.Multisig().InitTransaction(r.Context(), currentUser(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.jsonResponse(w, http.StatusCreated, out.Transaction)
}

// HandleSignTransaction records a participant's approval
func (h *Handler) HandleSignTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := app.ParseUUID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, apperrors.BadRequest(apperrors.CodeRequestPayloadWrongFormat, "transaction id must be a UUID").Wrap(err))
		return
	}

	var req SignTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	out, err := h.app.Multisig().SignRequest(r.Context(), currentUser(r.Context()), multisig.SignInput{
		TransactionID: id,
		SignerAddress: req.SignerAddress,
		SignedTxBlob:  req.SignedTxBlob,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.jsonResponse(w, http.StatusOK, out.Transaction)
}

// HandleRejectTransaction records a participant's rejection
func (h *Handler) HandleRejectTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := app.ParseUUID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, apperrors.BadRequest(apperrors.CodeRequestPayloadWrongFormat, "transaction id must be a UUID").Wrap(err))
		return
	}

	var req RejectTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	tx, err := h.app.Multisig().RejectRequest(r.Context(), currentUser(r.Context()), multisig.RejectInput{
		TransactionID: id,
		SignerAddress: req.SignerAddress,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.jsonResponse(w, http.StatusOK, tx)
}

// HandleGetTransaction returns a transaction with its participants
func (h *Handler) HandleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := app.ParseUUID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, apperrors.BadRequest(apperrors.CodeRequestPayloadWrongFormat, "transaction id must be a UUID").Wrap(err))
		return
	}

	details, err := h.app.Multisig().GetTransaction(r.Context(), currentUser(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.jsonResponse(w, http.StatusOK, details)
}

func createdOrOK(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperrors.BadRequest(apperrors.CodeRequestPayloadWrongFormat, "request body must be valid JSON").Wrap(err)
	}
	return nil
}

func (h *Handler) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError renders err as {statusCode, errorCode, message}. Errors that are
// not *apperrors.Error are logged and hidden behind a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		observability.WithContext(r.Context()).Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		appErr = apperrors.Internal(err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.StatusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		StatusCode: appErr.StatusCode,
		ErrorCode:  string(appErr.Code),
		Message:    appErr.Message,
	})
}

package httpserver

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agentrail/frontdoor/common"
	"github.com/agentrail/frontdoor/interfaces"
	"github.com/agentrail/frontdoor/profileconfig"
	"github.com/agentrail/frontdoor/session"
	"github.com/agentrail/frontdoor/timeline"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// RequestError provides structured error information for HTTP responses.
type RequestError struct {
	StatusCode int
	Err        error
}

// Error returns the message of the underlying error.
func (e *RequestError) Error() string {
	return e.Err.Error()
}

// Features describes which optional backends this deployment carries,
// served via /bootstrap.
type Features struct {
	CommandBackend     bool `json:"command_backend"`
	DefaultInstanceURL bool `json:"default_instance_url"`
	FallbackEnabled    bool `json:"verification_fallback_enabled"`
}

// Handler processes frontdoor API requests.
type Handler struct {
	sessions *session.Service
	events   *timeline.Log
	features Features
	log      *slog.Logger
}

// NewHandler creates an HTTP handler around the session service.
func NewHandler(sessions *session.Service, events *timeline.Log, features Features, log *slog.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		events:   events,
		features: features,
		log:      log,
	}
}

// HandleBootstrap serves capability and configuration discovery.
//
// GET /bootstrap
func (h *Handler) HandleBootstrap(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":               common.PackageName,
		"version":               common.Version,
		"identity_provider":     "wallet-personal-sign",
		"challenge_ttl_seconds": int(h.sessions.ChallengeTTL().Seconds()),
		"features":              h.features,
	})
}

// HandleConfigContract serves the per-domain config field schema.
//
// GET /config-contract
func (h *Handler) HandleConfigContract(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"domains": profileconfig.Contract()})
}

type challengeRequest struct {
	WalletAddress string `json:"wallet_address"`
	ChainID       int64  `json:"chain_id,omitempty"`
}

type challengeResponse struct {
	SessionID string    `json:"session_id"`
	Version   int64     `json:"version"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HandleChallenge mints a single-use authentication challenge.
//
// POST /challenge {"wallet_address": "0x...", "chain_id": 1}
func (h *Handler) HandleChallenge(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	wallet, err := interfaces.NewWalletAddressFromHex(req.WalletAddress)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sess, err := h.sessions.Issue(r.Context(), wallet, req.ChainID)
	if err != nil {
		h.log.Error("Failed to issue challenge", "err", err, "wallet", wallet.String())
		http.Error(w, "failed to issue challenge", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, challengeResponse{
		SessionID: sess.ID,
		Version:   sess.Version,
		Message:   sess.ChallengeMessage,
		ExpiresAt: sess.ExpiresAt,
	})
}

type suggestConfigRequest struct {
	WalletAddress string `json:"wallet_address"`
	Intent        string `json:"intent"`
}

// HandleSuggestConfig builds a draft configuration from free-form intent
// text. The draft is advisory; /verify re-validates what the client
// actually submits.
//
// POST /suggest-config {"wallet_address": "0x...", "intent": "..."}
func (h *Handler) HandleSuggestConfig(w http.ResponseWriter, r *http.Request) {
	var req suggestConfigRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	wallet, err := interfaces.NewWalletAddressFromHex(req.WalletAddress)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"config": profileconfig.SuggestDraft(wallet, req.Intent),
	})
}

type verifyRequest struct {
	SessionID     string                       `json:"session_id"`
	WalletAddress string                       `json:"wallet_address"`
	Message       string                       `json:"message"`
	Signature     string                       `json:"signature"`
	Config        *profileconfig.RuntimeConfig `json:"config"`
}

// HandleVerify consumes a session's challenge: signature verification,
// config validation and the handoff to provisioning.
//
// POST /verify
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.SessionID == "" || req.Config == nil {
		http.Error(w, "session_id and config are required", http.StatusBadRequest)
		return
	}

	wallet, err := interfaces.NewWalletAddressFromHex(req.WalletAddress)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	signature, err := hex.DecodeString(strings.TrimPrefix(req.Signature, "0x"))
	if err != nil {
		http.Error(w, "signature must be hex encoded", http.StatusBadRequest)
		return
	}

	sess, err := h.sessions.Verify(r.Context(), req.SessionID, wallet, req.Message, signature, req.Config)
	if err != nil {
		var fieldErrs profileconfig.FieldErrors
		if errors.As(err, &fieldErrs) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"status": statusOf(sess),
				"errors": fieldErrs,
			})
			return
		}
		h.writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"status":     sess.Status,
	})
}

// sessionProjection is the client-visible view of a session.
type sessionProjection struct {
	SessionID          string                        `json:"session_id"`
	WalletAddress      string                        `json:"wallet_address"`
	Version            int64                         `json:"version"`
	Status             interfaces.SessionStatus      `json:"status"`
	ProvisioningSource interfaces.ProvisioningSource `json:"provisioning_source"`
	InstanceURL        string                        `json:"instance_url,omitempty"`
	VerifyURL          string                        `json:"verify_url,omitempty"`
	AppID              string                        `json:"app_id,omitempty"`
	VerificationMode   interfaces.VerificationMode   `json:"verification_mode,omitempty"`
	Error              string                        `json:"error,omitempty"`
	CreatedAt          time.Time                     `json:"created_at"`
	UpdatedAt          time.Time                     `json:"updated_at"`
	ExpiresAt          time.Time                     `json:"expires_at"`
}

// HandleSession serves the current session projection.
//
// GET /session/{session_id}
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.Context(), r.PathValue("session_id"))
	if err != nil {
		h.writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionProjection{
		SessionID:          sess.ID,
		WalletAddress:      sess.WalletAddress.String(),
		Version:            sess.Version,
		Status:             sess.Status,
		ProvisioningSource: sess.ProvisioningSource,
		InstanceURL:        sess.InstanceURL,
		VerifyURL:          sess.VerifyURL,
		AppID:              sess.ExternalAppID,
		VerificationMode:   sess.VerificationMode,
		Error:              sess.Error,
		CreatedAt:          sess.CreatedAt,
		UpdatedAt:          sess.UpdatedAt,
		ExpiresAt:          sess.ExpiresAt,
	})
}

type timelineEventView struct {
	SeqID     int64     `json:"seq_id"`
	EventType string    `json:"event_type"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}

// HandleTimeline serves a session's events after the given sequence id.
//
// GET /session/{session_id}/timeline?since=N
func (h *Handler) HandleTimeline(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	var since int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			http.Error(w, "since must be a non-negative integer", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	// Existence check applies lazy expiry before the events are read.
	if _, err := h.sessions.Get(r.Context(), sessionID); err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.log.Error("Failed to load session for timeline", "err", err, "session", sessionID)
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		return
	}

	events, err := h.events.ListSince(r.Context(), sessionID, since)
	if err != nil {
		h.log.Error("Failed to list timeline", "err", err, "session", sessionID)
		http.Error(w, "failed to list timeline", http.StatusInternalServerError)
		return
	}

	views := make([]timelineEventView, len(events))
	for i, ev := range events {
		views[i] = timelineEventView{
			SeqID:     ev.SeqID,
			EventType: ev.EventType,
			Status:    ev.Status,
			Detail:    ev.Detail,
			Actor:     ev.Actor,
			CreatedAt: ev.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": views})
}

// redactedSession omits internal identifiers from wallet-level listings.
type redactedSession struct {
	Version            int64                         `json:"version"`
	Status             interfaces.SessionStatus      `json:"status"`
	ProvisioningSource interfaces.ProvisioningSource `json:"provisioning_source"`
	CreatedAt          time.Time                     `json:"created_at"`
	UpdatedAt          time.Time                     `json:"updated_at"`
	ExpiresAt          time.Time                     `json:"expires_at"`
}

// HandleSessions lists a wallet's sessions without internal ids.
//
// GET /sessions?wallet_address=0x...
func (h *Handler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	wallet, err := interfaces.NewWalletAddressFromHex(r.URL.Query().Get("wallet_address"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sessions, err := h.sessions.List(r.Context(), wallet)
	if err != nil {
		h.log.Error("Failed to list sessions", "err", err, "wallet", wallet.String())
		http.Error(w, "failed to list sessions", http.StatusInternalServerError)
		return
	}

	redacted := make([]redactedSession, len(sessions))
	for i, sess := range sessions {
		redacted[i] = redactedSession{
			Version:            sess.Version,
			Status:             sess.Status,
			ProvisioningSource: sess.ProvisioningSource,
			CreatedAt:          sess.CreatedAt,
			UpdatedAt:          sess.UpdatedAt,
			ExpiresAt:          sess.ExpiresAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": redacted})
}

// writeSessionError maps domain errors onto HTTP statuses.
func (h *Handler) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, interfaces.ErrSessionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, interfaces.ErrSessionExpired):
		http.Error(w, err.Error(), http.StatusGone)
	case errors.Is(err, interfaces.ErrSessionAlreadyVerified):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, interfaces.ErrSignatureMismatch), errors.Is(err, interfaces.ErrChallengeMismatch):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	default:
		h.log.Error("Request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func statusOf(sess *interfaces.FrontdoorSession) interfaces.SessionStatus {
	if sess == nil {
		return ""
	}
	return sess.Status
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodySize))
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/memberhq/contentsync/internal/config"
	"github.com/memberhq/contentsync/internal/metrics"
	"github.com/memberhq/contentsync/internal/server/types"
	"github.com/memberhq/contentsync/internal/service"
)

const (
	signatureHeader = "X-Hub-Signature-256"
	eventHeader     = "X-GitHub-Event"

	maxWebhookBody = 5 << 20
)

// pushEvent is the narrow slice of the GitHub push payload the receiver
// depends on. Everything provider-specific stays behind this adapter.
type pushEvent struct {
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Commits []struct {
		Added    []string `json:"added"`
		Modified []string `json:"modified"`
		Removed  []string `json:"removed"`
	} `json:"commits"`
}

// handleWebhook validates and enqueues a GitHub push delivery. The raw body
// is read before any decoding since the signature covers the exact bytes.
// Processing is asynchronous; 202 only acknowledges the enqueue.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, types.CodeInvalidParameter, "failed to read request body")
		return
	}

	var event pushEvent
	if err := json.Unmarshal(body, &event); err != nil || event.Repository.FullName == "" {
		writeError(w, http.StatusBadRequest, types.CodeInvalidParameter, "malformed webhook payload")
		return
	}

	src, ok := s.config.SourceForRepo(event.Repository.FullName)
	if !ok {
		metrics.WebhookReceived("unknown_repository")
		writeError(w, http.StatusNotFound, types.CodeUnknownRepository, "no source configured for repository")
		return
	}

	if !s.validSignature(r, src, body) {
		metrics.WebhookReceived("invalid_signature")
		writeError(w, http.StatusUnauthorized, types.CodeInvalidSignature, "signature validation failed")
		return
	}

	if r.Header.Get(eventHeader) != "push" {
		// Pings and other event types are acknowledged but not acted on.
		writeJSON(w, http.StatusAccepted, types.WebhookResponse{Status: "ignored"})
		return
	}

	opts := service.TriggerOptions{Partial: true, ChangedPaths: changedPaths(&event)}
	if err := s.service.TriggerAsync(src.Name, opts); err != nil {
		s.log.Errorf("enqueue webhook sync for source %q: %v", src.Name, err)
		writeError(w, http.StatusInternalServerError, types.CodeInternalError, "failed to enqueue sync run")
		return
	}

	metrics.WebhookReceived("accepted")
	writeJSON(w, http.StatusAccepted, types.WebhookResponse{Status: "accepted"})
}

// validSignature checks the HMAC-SHA256 signature over the raw body against
// the source's shared secret. Sources without a configured secret reject all
// deliveries.
func (s *Server) validSignature(r *http.Request, src *config.Source, body []byte) bool {
	if src.WebhookSecret == nil {
		return false
	}

	value, err := src.WebhookSecret.Resolve(r.Context())
	if err != nil {
		return false
	}
	secret, ok := value.(config.SecretWebhook)
	if !ok {
		return false
	}

	signature, ok := strings.CutPrefix(r.Header.Get(signatureHeader), "sha256=")
	if !ok {
		return false
	}
	received, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret.Secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), received)
}

// changedPaths flattens the per-commit path lists into one deduplicated
// scope. Removed paths are included so a push that only deletes files still
// produces a run; the withdrawal itself happens on the next full resync.
func changedPaths(event *pushEvent) []string {
	seen := make(map[string]struct{})
	var paths []string

	add := func(list []string) {
		for _, p := range list {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			paths = append(paths, p)
		}
	}

	for _, c := range event.Commits {
		add(c.Added)
		add(c.Modified)
		add(c.Removed)
	}
	return paths
}

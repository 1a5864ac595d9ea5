package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/safar/flycar/internal/apperr"
	"github.com/safar/flycar/internal/auth"
	"github.com/safar/flycar/internal/cache"
	"github.com/safar/flycar/internal/logger"
)

const (
	idempotencyHeader = "Idempotency-Key"
	// idempotencyClaimTTL bounds how long a crashed request keeps its key
	// locked.
	idempotencyClaimTTL = time.Minute
)

type idempotencyRecord struct {
	Pending     bool              `json:"pending,omitempty"`
	Status      int               `json:"status,omitempty"`
	Body        string            `json:"body,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	RequestHash string            `json:"request_hash"`
}

// idempotency replays the first response recorded for an Idempotency-Key.
// The header is optional; without it, or without a store, requests pass
// straight through. The key is claimed before the handler runs, so a
// concurrent duplicate gets a conflict instead of a second execution.
// Server errors release the claim so the request can be retried.
func idempotency(store cache.IdempotencyStore, ttl time.Duration, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if key == "" || store == nil {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeError(r.Context(), log, w, apperr.Wrap(apperr.CodeValidation, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			requestHash := hashBody(body)
			storeKey := store.IdempotencyKey(buildScope(r), key)

			claim, err := json.Marshal(idempotencyRecord{Pending: true, RequestHash: requestHash})
			if err != nil {
				writeError(r.Context(), log, w, apperr.Wrap(apperr.CodeInternal, err, "marshal idempotency claim"))
				return
			}
			claimed, err := store.SetNX(r.Context(), storeKey, string(claim), idempotencyClaimTTL)
			if err != nil {
				writeError(r.Context(), log, w, apperr.Wrap(apperr.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !claimed {
				replay(w, r, store, storeKey, requestHash, log)
				return
			}

			// The claim is settled even if the caller has disconnected.
			settleCtx := context.WithoutCancel(r.Context())
			settled := false
			defer func() {
				if settled {
					return
				}
				if err := store.Del(settleCtx, storeKey); err != nil {
					log.Error(settleCtx, "release idempotency key", err)
				}
			}()

			rec := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			status := defaultStatus(rec.status)
			if status >= http.StatusInternalServerError {
				return
			}
			// From here a failed write leaves the pending claim to expire.
			settled = true

			record := idempotencyRecord{
				Status:      status,
				Body:        base64.StdEncoding.EncodeToString(rec.body.Bytes()),
				RequestHash: requestHash,
			}
			if ct := rec.Header().Get("Content-Type"); ct != "" {
				record.Headers = map[string]string{"Content-Type": ct}
			}

			payload, err := json.Marshal(record)
			if err != nil {
				log.Error(settleCtx, "marshal idempotency record", err)
				return
			}
			if err := store.Set(settleCtx, storeKey, string(payload), ttl); err != nil {
				log.Error(settleCtx, "persist idempotency record", err)
			}
		})
	}
}

// replay answers a request whose key is already claimed: with the stored
// response once there is one, otherwise with a conflict.
func replay(w http.ResponseWriter, r *http.Request, store cache.IdempotencyStore, storeKey, requestHash string, log *logger.Logger) {
	stored, err := store.Get(r.Context(), storeKey)
	if errors.Is(err, cache.ErrMiss) {
		// The holder released the key between our claim and this read.
		writeError(r.Context(), log, w, apperr.New(apperr.CodeConflict, "request with this idempotency key is in progress"))
		return
	}
	if err != nil {
		writeError(r.Context(), log, w, apperr.Wrap(apperr.CodeDependency, err, "check idempotency"))
		return
	}

	record, err := decodeRecord(stored)
	if err != nil {
		writeError(r.Context(), log, w, apperr.Wrap(apperr.CodeDependency, err, "decode idempotency record"))
		return
	}
	switch {
	case record.RequestHash != requestHash:
		writeError(r.Context(), log, w, apperr.New(apperr.CodeIdempotency, "idempotency key reused with different request body"))
	case record.Pending:
		writeError(r.Context(), log, w, apperr.New(apperr.CodeConflict, "request with this idempotency key is in progress"))
	default:
		w.Header().Set("Idempotent-Replayed", "true")
		writeStoredResponse(w, record)
	}
}

func buildScope(r *http.Request) string {
	return strings.Join([]string{
		auth.FromContext(r.Context()).UserID.String(),
		r.Method,
		r.URL.Path,
	}, "|")
}

func decodeRecord(payload string) (*idempotencyRecord, error) {
	var record idempotencyRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func writeStoredResponse(w http.ResponseWriter, record *idempotencyRecord) {
	if ct, ok := record.Headers["Content-Type"]; ok && ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(record.Status)
	if decoded, err := base64.StdEncoding.DecodeString(record.Body); err == nil {
		_, _ = w.Write(decoded)
	}
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func defaultStatus(value int) int {
	if value == 0 {
		return http.StatusOK
	}
	return value
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

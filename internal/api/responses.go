package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/lib/pq"
	"github.com/safar/flycar/internal/apperr"
	"github.com/safar/flycar/internal/database"
	"github.com/safar/flycar/internal/logger"
)

type successEnvelope struct {
	Data any `json:"data"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, successEnvelope{Data: data})
}

// writeError maps err to its status code. Only codes marked as exposable
// leak their message; everything else answers with the public message.
func writeError(ctx context.Context, log *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}

	typed := apperr.As(err)
	if typed == nil {
		if database.IsContextError(err) {
			typed = apperr.Wrap(apperr.CodeDependency, err, "request cancelled")
		} else {
			typed = apperr.Wrap(apperr.CodeInternal, err, "unexpected error")
		}
	}

	meta := apperr.MetadataFor(typed.Code())
	payload := errorEnvelope{Error: apiError{
		Code:    string(typed.Code()),
		Message: meta.PublicMessage,
	}}
	if meta.Expose {
		if m := typed.Message(); m != "" {
			payload.Error.Message = m
		}
		payload.Error.Details = typed.Details()
	}

	if log != nil {
		fields := map[string]any{
			"error_code":  string(typed.Code()),
			"http_status": meta.HTTPStatus,
			"error_chain": errorChain(err),
		}
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			fields["pg_code"] = string(pqErr.Code)
			fields["pg_constraint"] = pqErr.Constraint
		}
		ctx = log.WithFields(ctx, fields)
		if meta.HTTPStatus >= http.StatusInternalServerError {
			log.Error(ctx, "request.error", err)
		} else {
			log.Warn(log.WithField(ctx, "error", err.Error()), "request.rejected")
		}
	}

	writeJSON(w, meta.HTTPStatus, payload)
}

func errorChain(err error) []string {
	var chain []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T", e))
	}
	return chain
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

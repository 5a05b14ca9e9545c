package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/wizesale/storefront/internal/platform/httpx"
	"github.com/wizesale/storefront/internal/platform/requestctx"
	"github.com/wizesale/storefront/internal/services"
)

const maxBodySize = 16 * 1024

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

// sessionProvider hands out the shared per-session stores.
type sessionProvider interface {
	Get(ctx context.Context, storeID int64, sessionID string) (*services.Session, error)
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxBodySize
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeBody reads a JSON body into dst and writes the error envelope on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

// currentSession resolves the caller's shared session from the request scope.
func currentSession(w http.ResponseWriter, r *http.Request, sessions sessionProvider) (*services.Session, bool) {
	ctx := r.Context()
	storeID := requestctx.StoreID(ctx)
	sessionID := requestctx.SessionID(ctx)
	if storeID == 0 || sessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("session_required", "store and session are required", http.StatusBadRequest))
		return nil, false
	}
	session, err := sessions.Get(ctx, storeID, sessionID)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			httpx.WriteError(ctx, w, httpx.NewError("request_cancelled", "request cancelled", http.StatusServiceUnavailable))
			return nil, false
		}
		httpx.WriteError(ctx, w, httpx.NewError("session_unavailable", "session could not be loaded", http.StatusServiceUnavailable))
		return nil, false
	}
	return session, true
}

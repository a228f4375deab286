package middleware

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

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/tradeloop-backend/api/responses"
	pkgerrors "github.com/angelmondragon/tradeloop-backend/pkg/errors"
	"github.com/angelmondragon/tradeloop-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/tradeloop-backend/pkg/redis"
)

const (
	idempotencyHeader      = "Idempotency-Key"
	replayedHeader         = "Idempotent-Replayed"
	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
	// A claim older than this is treated as abandoned by a crashed handler.
	inFlightTTL = time.Minute
)

// ReplayStore adds the overwrite needed to turn an in-flight claim into the
// stored response.
type ReplayStore interface {
	pkgredis.IdempotencyStore
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

type idempotentRoute struct {
	method string
	// path segments; "*" matches exactly one segment
	segments []string
	ttl      time.Duration
}

func route(method, path string, ttl time.Duration) idempotentRoute {
	return idempotentRoute{method: method, segments: splitPath(path), ttl: ttl}
}

// Money-moving routes keep their replay window for a week.
var idempotentRoutes = []idempotentRoute{
	route(http.MethodPost, "/api/orders", criticalIdempotencyTTL),
	route(http.MethodPost, "/api/orders/*/cancel", criticalIdempotencyTTL),
	route(http.MethodPost, "/api/payments/intents", criticalIdempotencyTTL),
	route(http.MethodPost, "/api/p2p/payments/intents", criticalIdempotencyTTL),

	route(http.MethodPost, "/api/orders/*/status", defaultIdempotencyTTL),
	route(http.MethodPost, "/api/orders/*/delivery/notify", defaultIdempotencyTTL),
	route(http.MethodPost, "/api/orders/*/delivery/respond", defaultIdempotencyTTL),
	route(http.MethodPost, "/api/offers", defaultIdempotencyTTL),
	route(http.MethodPost, "/api/offers/*/respond", defaultIdempotencyTTL),
	route(http.MethodPost, "/api/offers/*/withdraw", defaultIdempotencyTTL),
	route(http.MethodPost, "/api/payment-methods", defaultIdempotencyTTL),
	route(http.MethodPost, "/api/admin/fee-configurations", defaultIdempotencyTTL),
	route(http.MethodPost, "/api/admin/fee-configurations/*/activate", defaultIdempotencyTTL),
}

// storedResponse is what lives under an idempotency key. A record with
// Status 0 is an in-flight claim.
type storedResponse struct {
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        string `json:"body,omitempty"`
}

// Idempotency replays the first completed response for a (caller, route,
// Idempotency-Key) triple. A concurrent duplicate gets 409 while the first
// request is still running; 5xx responses are not stored so the client can
// retry under the same key.
func Idempotency(store ReplayStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, ok := routeTTL(r.Method, routePattern(r))
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if clientKey == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			}
			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			hash := hashBody(body)
			key := store.IdempotencyKey(UserIDFromContext(ctx)+"|"+r.Method+"|"+r.URL.Path, clientKey)

			claim, _ := json.Marshal(storedResponse{RequestHash: hash})
			claimed, err := store.SetNX(ctx, key, string(claim), inFlightTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !claimed {
				replayExisting(w, r, store, key, hash, logg)
				return
			}

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			var captured bytes.Buffer
			ww.Tee(&captured)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status >= http.StatusInternalServerError {
				if err := store.Del(ctx, key); err != nil && logg != nil {
					logg.Error(ctx, "release idempotency claim", err)
				}
				return
			}
			record, _ := json.Marshal(storedResponse{
				RequestHash: hash,
				Status:      status,
				ContentType: ww.Header().Get("Content-Type"),
				Body:        base64.StdEncoding.EncodeToString(captured.Bytes()),
			})
			if err := store.Set(ctx, key, string(record), ttl); err != nil && logg != nil {
				logg.Error(ctx, "persist idempotency record", err)
			}
		})
	}
}

func replayExisting(w http.ResponseWriter, r *http.Request, store ReplayStore, key, hash string, logg *logger.Logger) {
	ctx := r.Context()
	raw, err := store.Get(ctx, key)
	switch {
	case errors.Is(err, redis.Nil):
		// The claim expired between SetNX and Get; let the client retry.
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this Idempotency-Key is in progress"))
		return
	case err != nil:
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read idempotency record"))
		return
	}

	var rec storedResponse
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	switch {
	case rec.RequestHash != hash:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
	case rec.Status == 0:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this Idempotency-Key is in progress"))
	default:
		body, _ := base64.StdEncoding.DecodeString(rec.Body)
		if rec.ContentType != "" {
			w.Header().Set("Content-Type", rec.ContentType)
		}
		w.Header().Set(replayedHeader, "true")
		w.WriteHeader(rec.Status)
		_, _ = w.Write(body)
	}
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// routePattern prefers chi's matched pattern. Group middleware runs before
// the subrouter resolves and sees a "/*" pattern, so it falls back to the
// raw path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" && !strings.Contains(p, "*") {
			return p
		}
	}
	return r.URL.Path
}

func routeTTL(method, path string) (time.Duration, bool) {
	segs := splitPath(path)
	for _, rt := range idempotentRoutes {
		if rt.method == method && rt.matches(segs) {
			return rt.ttl, true
		}
	}
	return 0, false
}

func (rt idempotentRoute) matches(segs []string) bool {
	if len(segs) != len(rt.segments) {
		return false
	}
	for i, want := range rt.segments {
		if want != "*" && want != segs[i] {
			return false
		}
	}
	return true
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

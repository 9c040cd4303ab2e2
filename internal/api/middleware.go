package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"wallet-custody/internal/apperrors"
	"wallet-custody/internal/auth"
	"wallet-custody/internal/gate"
	"wallet-custody/internal/origin"
	"wallet-custody/models"
	"wallet-custody/observability"
)

const maxBodyBytes = 1 << 20

type ctxKey int

const (
	gateResultKey ctxKey = iota
	userKey
)

// responseWriter wraps http.ResponseWriter to capture status code and response size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	responseSize int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK, // default status code
	}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.responseSize += size
	return size, err
}

// MetricsMiddleware records HTTP metrics for each request
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := newResponseWriter(w)

		next.ServeHTTP(wrapped, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = r.URL.Path
		}

		metrics := observability.GetMetrics()
		metrics.RecordHTTPRequest(r.Method, routePattern, strconv.Itoa(wrapped.statusCode), time.Since(start), wrapped.responseSize)
	})
}

// CORSMiddleware echoes the request origin back when it matches one of origins
func CORSMiddleware(policy *origin.Policy, origins []string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if o := r.Header.Get("Origin"); o != "" && policy.MatchesOrigin(origins, o) {
				w.Header().Set("Access-Control-Allow-Origin", o)
				w.Header().Add("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-KEY, X-CLIENT-JWT, X-APP-ORIGIN")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GateMiddleware authenticates the API key, origin and client JWT
func (h *Handler) GateMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := peekBody(r)
		if err != nil {
			writeError(w, r, apperrors.BadRequest(apperrors.CodeRequestPayloadWrongFormat, "request body could not be read").Wrap(err))
			return
		}

		var payload struct {
			ExternalUserID string `json:"externalUserId"`
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &payload); err != nil {
				observability.WithComponent(r.Context(), "gate").Debug("request body is not JSON, skipping externalUserId check",
					"path", r.URL.Path, "error", err)
			}
		}

		res, err := h.app.Gate().Evaluate(r.Context(), gate.Request{
			Path:               r.URL.Path,
			Method:             r.Method,
			APIKey:             r.Header.Get("X-API-KEY"),
			ClientJWT:          r.Header.Get("X-CLIENT-JWT"),
			AppOrigin:          r.Header.Get("X-APP-ORIGIN"),
			Origin:             r.Header.Get("Origin"),
			UserAgent:          r.UserAgent(),
			BodyExternalUserID: payload.ExternalUserID,
		})
		if err != nil {
			observability.WithComponent(r.Context(), "gate").Debug("gate rejected headers", "headers", observability.MaskHeaders(r.Header))
			writeError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), gateResultKey, res)))
	})
}

// BearerMiddleware resolves the platform access token to its user
func (h *Handler) BearerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := h.app.Tokens().Validate(ctx, auth.BearerToken(r.Header.Get("Authorization")))
		if err != nil {
			writeError(w, r, err)
			return
		}

		user, err := h.app.UserByID(ctx, userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if user == nil {
			writeError(w, r, apperrors.NotFound(apperrors.CodeUserNotFound, "user not found"))
			return
		}

		// the client JWT and the access token must name the same user
		if res := gateResult(ctx); res != nil && res.User != nil && res.User.ID != user.ID {
			writeError(w, r, apperrors.Forbidden(apperrors.CodeUserNotAllowed, "you are not allowed to perform this action"))
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, userKey, user)))
	})
}

// SignatureMiddleware consumes the signed challenge carried in the body
func (h *Handler) SignatureMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := peekBody(r)
		if err != nil {
			writeError(w, r, apperrors.BadRequest(apperrors.CodeRequestPayloadWrongFormat, "request body could not be read").Wrap(err))
			return
		}

		var signed models.SignedRequest
		if err := json.Unmarshal(body, &signed); err != nil {
			writeError(w, r, apperrors.BadRequest(apperrors.CodeRequestPayloadWrongFormat, "request body must be JSON").Wrap(err))
			return
		}

		if err := h.app.Challenges().Consume(r.Context(), signed); err != nil {
			writeError(w, r, err)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// peekBody reads the body and puts an identical reader back for the next handler
func peekBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, err
}

func gateResult(ctx context.Context) *gate.Result {
	res, _ := ctx.Value(gateResultKey).(*gate.Result)
	return res
}

func currentUser(ctx context.Context) *models.User {
	user, _ := ctx.Value(userKey).(*models.User)
	return user
}

// corsOrigins is every origin a browser may call from
func corsOrigins(whitelisted, dashboard []string) []string {
	return lo.Uniq(append(append([]string(nil), whitelisted...), dashboard...))
}

// Package gate authenticates inbound requests by API key, origin and client JWT.
package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/lo"

	"wallet-custody/config"
	"wallet-custody/internal/apperrors"
	"wallet-custody/internal/origin"
	"wallet-custody/models"
	"wallet-custody/observability"
)

// Store resolves API keys and users
type Store interface {
	FindAPIKey(ctx context.Context, key string) (*models.APIKey, error)
	FindUserByExternalID(ctx context.Context, externalID string) (*models.User, error)
}

// Request is the part of an inbound request the gate inspects
type Request struct {
	Path               string
	Method             string
	APIKey             string
	ClientJWT          string
	AppOrigin          string
	Origin             string
	UserAgent          string
	BodyExternalUserID string
}

// Result is what an accepted request carries forward
type Result struct {
	APIKey         *models.APIKey
	User           *models.User
	ExternalUserID string
	Dashboard      bool
}

var (
	hmacMethods   = []string{"HS256", "HS384", "HS512"}
	clientMethods = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}
)

// Gate evaluates requests against the configured policy
type Gate struct {
	cfg     *config.Config
	store   Store
	policy  *origin.Policy
	metrics *observability.Metrics
	now     func() time.Time
}

// New creates a gate
func New(cfg *config.Config, store Store, policy *origin.Policy, metrics *observability.Metrics) *Gate {
	if policy == nil {
		policy = origin.NewPolicy()
	}
	if metrics == nil {
		metrics = observability.GetMetrics()
	}
	return &Gate{cfg: cfg, store: store, policy: policy, metrics: metrics, now: time.Now}
}

// Evaluate accepts or rejects req. Rejections are *apperrors.Error values;
// any other error is an infrastructure failure.
func (g *Gate) Evaluate(ctx context.Context, req Request) (*Result, error) {
	timer := g.metrics.NewTimer()

	res, err := g.evaluate(ctx, req)
	if err != nil {
		code := apperrors.CodeOf(err)
		timer.ObserveGate("denied", string(code))
		observability.WithComponent(ctx, "gate").Warn("request gate denied",
			"path", req.Path,
			"method", req.Method,
			"origin", req.Origin,
			"app_origin", req.AppOrigin,
			"api_key", observability.MaskValue(req.APIKey),
			"error_code", code,
			"error", err,
		)
		return nil, err
	}

	timer.ObserveGate("allowed", "")
	return res, nil
}

func (g *Gate) evaluate(ctx context.Context, req Request) (*Result, error) {
	if req.Path == g.cfg.Gate.HealthPath {
		return &Result{}, nil
	}

	// API key
	if req.APIKey == "" {
		return nil, apperrors.BadRequest(apperrors.CodeAPIKeyNotProvided, "API key is required in the header")
	}
	key, err := g.store.FindAPIKey(ctx, req.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load api key: %w", err)
	}
	if key == nil {
		return nil, apperrors.Unauthorized(apperrors.CodeAPIKeyNotFound, "unauthorized API key")
	}
	if req.AppOrigin != "" && !key.AllowMobileAccess {
		observability.WithComponent(ctx, "gate").Warn("mobile origin sent for key without mobile access",
			"app_origin", req.AppOrigin, "api_key_id", key.ID)
	}
	if !key.IsActive() {
		return nil, apperrors.Unauthorized(apperrors.CodeAPIKeyNotActive, fmt.Sprintf("API key is %s", key.Status))
	}

	// Origin
	reqOrigin := req.Origin
	if key.AllowMobileAccess && req.AppOrigin != "" {
		reqOrigin = req.AppOrigin
	}
	keyMatches := g.policy.MatchesOrigin(key.Origins, reqOrigin)
	dashboard := key.OnlyDashboardAccess &&
		(lo.Contains(g.cfg.Gate.DashboardOrigins, reqOrigin) || keyMatches || (reqOrigin == "" && g.cfg.Env == config.EnvTest))

	if !g.cfg.SkipsOriginCheck() && !lo.Contains(g.cfg.Gate.OriginExemptPaths, req.Path) && !dashboard {
		if !keyMatches || key.OnlyDashboardAccess {
			return nil, apperrors.Unauthorized(apperrors.CodeOriginNotAllowed, fmt.Sprintf("the %s origin is not allowed", reqOrigin))
		}
	}

	if dashboard && lo.Contains(g.cfg.Gate.DashboardOnlyPaths, req.Path) {
		return &Result{APIKey: key, Dashboard: true}, nil
	}

	// Verification key
	verifyKey, methods, err := g.verificationKey(key, dashboard)
	if err != nil {
		return nil, err
	}

	// Client JWT
	if req.ClientJWT == "" {
		if lo.Contains(g.cfg.Gate.JWTWhitelistPaths, req.Path) {
			return &Result{APIKey: key, Dashboard: dashboard}, nil
		}
		return nil, apperrors.Unauthorized(apperrors.CodeClientJWTNotProvided, "client JWT is required in the header")
	}

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(req.ClientJWT, claims,
		func(*jwt.Token) (any, error) { return verifyKey, nil },
		jwt.WithValidMethods(methods),
		jwt.WithTimeFunc(g.now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, apperrors.Unauthorized(apperrors.CodeClientJWTExpired, "the client JWT has expired").Wrap(err)
	}
	if err != nil {
		return nil, apperrors.Unauthorized(apperrors.CodeClientJWTInvalid, "invalid client JWT was provided").Wrap(err)
	}

	externalID, _ := claims["externalUserId"].(string)
	if externalID == "" && !lo.Contains(g.cfg.Gate.ExternalIDOptionalPaths, req.Path) {
		return nil, apperrors.Unauthorized(apperrors.CodeClientJWTMissingExternalID, "the client JWT has no externalUserId in the payload")
	}
	if _, ok := claims["exp"]; !ok {
		return nil, apperrors.Unauthorized(apperrors.CodeClientJWTMissingExp, "the client JWT expiration date was not set")
	}
	if req.BodyExternalUserID != "" && !strings.EqualFold(externalID, req.BodyExternalUserID) {
		return nil, apperrors.Unauthorized(apperrors.CodeClientJWTExternalIDNotMatch, "the client JWT externalUserId does not match the request")
	}

	// User
	var user *models.User
	if externalID != "" {
		user, err = g.store.FindUserByExternalID(ctx, externalID)
		if err != nil {
			return nil, fmt.Errorf("failed to load user: %w", err)
		}
	}

	return &Result{APIKey: key, User: user, ExternalUserID: externalID, Dashboard: dashboard}, nil
}

// verificationKey picks the platform secret for dashboard traffic and the
// key's registered public key otherwise
func (g *Gate) verificationKey(key *models.APIKey, dashboard bool) (any, []string, error) {
	if dashboard {
		if g.cfg.Auth.JWTSecret == "" {
			return nil, nil, notSet()
		}
		return []byte(g.cfg.Auth.JWTSecret), hmacMethods, nil
	}

	pem := key.JWTPublicKey()
	if pem == "" {
		return nil, nil, notSet()
	}
	if rsaKey, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem)); err == nil {
		return rsaKey, clientMethods, nil
	}
	if ecKey, err := jwt.ParseECPublicKeyFromPEM([]byte(pem)); err == nil {
		return ecKey, clientMethods, nil
	}
	return nil, nil, apperrors.Unauthorized(apperrors.CodeAPIKeyInvalid, "the client JWT public key of this API key is malformed")
}

func notSet() error {
	return apperrors.BadRequest(apperrors.CodeAPIKeyPubKeyNotSet, "the client JWT public key has not been set, please contact the administrator")
}

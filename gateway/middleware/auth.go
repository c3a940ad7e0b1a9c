package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
)

// Scopes understood by the lending API.
const (
	ScopeRead  = "lending:read"
	ScopeWrite = "lending:write"
)

var (
	errMissingToken = errors.New("missing bearer token")
	errNoSecret     = errors.New("auth secret not configured")
)

// AuthConfig configures HMAC bearer token validation.
type AuthConfig struct {
	Enabled    bool
	HMACSecret string
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
}

// Claims is the token payload. Scope is a space separated list or an array.
// A non-empty Account binds the token to one ledger account.
type Claims struct {
	Scope   scopeList `json:"scope"`
	Account string    `json:"account,omitempty"`
	jwt.RegisteredClaims
}

type scopeList []string

func (s *scopeList) UnmarshalJSON(data []byte) error {
	var joined string
	if err := json.Unmarshal(data, &joined); err == nil {
		*s = strings.Fields(joined)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*s = list
	return nil
}

// Principal is the authenticated caller attached to the request context.
type Principal struct {
	Subject string
	Scopes  []string
	Account common.Address
	Bound   bool
}

// Allows reports whether the principal may act on account.
func (p *Principal) Allows(account common.Address) bool {
	return p == nil || !p.Bound || p.Account == account
}

type principalContextKey struct{}

// PrincipalFromContext returns the authenticated caller, if any.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	principal, ok := ctx.Value(principalContextKey{}).(*Principal)
	return principal, ok && principal != nil
}

// SubjectFromContext returns the authenticated token subject, if any.
func SubjectFromContext(ctx context.Context) string {
	if principal, ok := PrincipalFromContext(ctx); ok {
		return principal.Subject
	}
	return ""
}

// Authenticator validates HMAC-signed bearer tokens and enforces scopes.
type Authenticator struct {
	enabled bool
	logger  *slog.Logger
	secret  []byte
	parser  *jwt.Parser
}

// NewAuthenticator builds an Authenticator. A disabled config passes every
// request through untouched.
func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Authenticator{
		enabled: cfg.Enabled,
		logger:  logger,
		secret:  []byte(strings.TrimSpace(cfg.HMACSecret)),
		parser:  jwt.NewParser(opts...),
	}
}

// Middleware rejects requests whose token lacks any of the required scopes.
func (a *Authenticator) Middleware(required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.enabled {
				next.ServeHTTP(w, r)
				return
			}
			principal, err := a.authenticate(r.Header.Get("Authorization"))
			if err != nil {
				if !errors.Is(err, errMissingToken) {
					a.logger.Warn("auth: token rejected", slog.Any("error", err))
				}
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", err.Error())
				return
			}
			for _, scope := range required {
				if !slices.Contains(principal.Scopes, scope) {
					writeAuthError(w, http.StatusForbidden, "insufficient_scope", "token lacks "+scope)
					return
				}
			}
			ctx := context.WithValue(r.Context(), principalContextKey{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *Authenticator) authenticate(header string) (*Principal, error) {
	scheme, raw, ok := strings.Cut(strings.TrimSpace(header), " ")
	raw = strings.TrimSpace(raw)
	if !ok || !strings.EqualFold(scheme, "Bearer") || raw == "" {
		return nil, errMissingToken
	}
	if len(a.secret) == 0 {
		return nil, errNoSecret
	}
	var claims Claims
	if _, err := a.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}); err != nil {
		return nil, err
	}
	principal := &Principal{Subject: claims.Subject, Scopes: claims.Scope}
	if account := strings.TrimSpace(claims.Account); account != "" {
		if !common.IsHexAddress(account) {
			return nil, errors.New("account claim is not a hex address")
		}
		principal.Account = common.HexToAddress(account)
		principal.Bound = true
	}
	return principal, nil
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="lendingd"`)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "message": message})
}

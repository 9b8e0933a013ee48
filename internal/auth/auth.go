package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/food-ordering/internal/order"
)

const (
	StaffRoleContentManager = "CONTENT_MANAGER"
	StaffRoleSuperAdmin     = "SUPER_ADMIN"

	roleClaim = "role"
)

var (
	ErrMissingToken = errors.New("auth: missing bearer token")
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Gate resolves bearer tokens into order actors. Customer and staff tokens are HS256 JWTs
// signed with separate secrets.
type Gate struct {
	customerSecret []byte
	staffSecret    []byte
	parser         *jwt.Parser
}

func NewGate(customerSecret, staffSecret string) *Gate {
	return &Gate{
		customerSecret: []byte(customerSecret),
		staffSecret:    []byte(staffSecret),
		parser:         jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Resolve validates token and returns the actor it identifies.
func (g *Gate) Resolve(token string) (order.Actor, error) {
	if token == "" {
		return order.Actor{}, ErrMissingToken
	}

	if claims, err := g.parse(token, g.staffSecret); err == nil {
		if role, ok := staffRole(claims); ok {
			id, err := subject(claims)
			if err != nil {
				return order.Actor{}, err
			}
			return order.Actor{ID: id, Role: role}, nil
		}
	}

	claims, err := g.parse(token, g.customerSecret)
	if err != nil {
		return order.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id, err := subject(claims)
	if err != nil {
		return order.Actor{}, err
	}
	return order.Actor{ID: id, Role: order.RoleCustomer}, nil
}

func (g *Gate) parse(token string, secret []byte) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := g.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token and stores the actor in the
// request context.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := g.Resolve(bearerToken(r))
		if err != nil {
			log.Warn().Err(err).Str("path", r.URL.Path).Msg("auth: request rejected")
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

// RequireStaff lets through only actors with a staff role. It must run after Middleware.
func RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing token")
			return
		}
		if !actor.Role.IsStaff() {
			log.Warn().Str("actor_id", actor.ID).Str("path", r.URL.Path).Msg("auth: staff route denied")
			writeError(w, http.StatusForbidden, "forbidden", "Staff access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type contextKey string

const actorContextKey contextKey = "food-ordering/auth/actor"

func WithActor(ctx context.Context, actor order.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

func ActorFromContext(ctx context.Context) (order.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey).(order.Actor)
	if !ok || actor.ID == "" {
		return order.Actor{}, false
	}
	return actor, true
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func staffRole(claims jwt.MapClaims) (order.Role, bool) {
	raw, _ := claims[roleClaim].(string)
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case StaffRoleContentManager:
		return order.RoleStaffContent, true
	case StaffRoleSuperAdmin:
		return order.RoleStaffSuper, true
	default:
		return "", false
	}
}

// subject reads the caller id from "sub", falling back to "id".
func subject(claims jwt.MapClaims) (string, error) {
	for _, key := range []string{"sub", "id"} {
		switch v := claims[key].(type) {
		case string:
			if v = strings.TrimSpace(v); v != "" {
				return v, nil
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		}
	}
	return "", fmt.Errorf("%w: token has no subject", ErrInvalidToken)
}

func writeError(w http.ResponseWriter, code int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": kind, "message": message}); err != nil {
		log.Error().Err(err).Msg("auth: failed to write error response")
	}
}

package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/food-ordering/internal/auth"
	"github.com/vasiliy-maslov/food-ordering/internal/order"
)

const (
	customerSecret = "customer-secret"
	staffSecret    = "staff-secret"
)

func sign(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestGate_Resolve(t *testing.T) {
	gate := auth.NewGate(customerSecret, staffSecret)
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name      string
		token     string
		want      order.Actor
		wantErrIs error
	}{
		{
			name:  "customer_sub",
			token: sign(t, customerSecret, jwt.MapClaims{"sub": "cust-1", "exp": exp}),
			want:  order.Actor{ID: "cust-1", Role: order.RoleCustomer},
		},
		{
			name:  "customer_numeric_id",
			token: sign(t, customerSecret, jwt.MapClaims{"id": float64(42), "exp": exp}),
			want:  order.Actor{ID: "42", Role: order.RoleCustomer},
		},
		{
			name:  "content_manager",
			token: sign(t, staffSecret, jwt.MapClaims{"id": "staff-1", "role": "CONTENT_MANAGER", "exp": exp}),
			want:  order.Actor{ID: "staff-1", Role: order.RoleStaffContent},
		},
		{
			name:  "super_admin",
			token: sign(t, staffSecret, jwt.MapClaims{"sub": "staff-2", "role": "SUPER_ADMIN", "exp": exp}),
			want:  order.Actor{ID: "staff-2", Role: order.RoleStaffSuper},
		},
		{
			name:  "customer_secret_cannot_claim_staff",
			token: sign(t, customerSecret, jwt.MapClaims{"sub": "cust-1", "role": "SUPER_ADMIN", "exp": exp}),
			want:  order.Actor{ID: "cust-1", Role: order.RoleCustomer},
		},
		{
			name:      "staff_secret_unknown_role",
			token:     sign(t, staffSecret, jwt.MapClaims{"sub": "staff-3", "role": "JANITOR", "exp": exp}),
			wantErrIs: auth.ErrInvalidToken,
		},
		{
			name:      "expired",
			token:     sign(t, customerSecret, jwt.MapClaims{"sub": "cust-1", "exp": time.Now().Add(-time.Minute).Unix()}),
			wantErrIs: auth.ErrInvalidToken,
		},
		{
			name:      "wrong_secret",
			token:     sign(t, "other", jwt.MapClaims{"sub": "cust-1", "exp": exp}),
			wantErrIs: auth.ErrInvalidToken,
		},
		{
			name:      "no_subject",
			token:     sign(t, customerSecret, jwt.MapClaims{"exp": exp}),
			wantErrIs: auth.ErrInvalidToken,
		},
		{
			name:      "garbage",
			token:     "not-a-jwt",
			wantErrIs: auth.ErrInvalidToken,
		},
		{
			name:      "empty",
			token:     "",
			wantErrIs: auth.ErrMissingToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actor, err := gate.Resolve(tt.token)
			if tt.wantErrIs != nil {
				require.ErrorIs(t, err, tt.wantErrIs)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, actor)
		})
	}
}

func TestGate_Resolve_RejectsOtherAlgorithms(t *testing.T) {
	gate := auth.NewGate(customerSecret, staffSecret)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"sub": "cust-1"}).SignedString([]byte(customerSecret))
	require.NoError(t, err)

	_, err = gate.Resolve(token)
	require.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestGate_Middleware(t *testing.T) {
	gate := auth.NewGate(customerSecret, staffSecret)
	exp := time.Now().Add(time.Hour).Unix()

	var seen order.Actor
	handler := gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := auth.ActorFromContext(r.Context())
		require.True(t, ok)
		seen = actor
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, customerSecret, jwt.MapClaims{"sub": "cust-1", "exp": exp}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, order.Actor{ID: "cust-1", Role: order.RoleCustomer}, seen)

	req = httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.JSONEq(t, `{"error":"unauthorized","message":"Invalid or missing token"}`, rr.Body.String())
}

func TestRequireStaff(t *testing.T) {
	handler := auth.RequireStaff(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name     string
		actor    *order.Actor
		wantCode int
	}{
		{name: "staff", actor: &order.Actor{ID: "s", Role: order.RoleStaffContent}, wantCode: http.StatusOK},
		{name: "customer", actor: &order.Actor{ID: "c", Role: order.RoleCustomer}, wantCode: http.StatusForbidden},
		{name: "anonymous", wantCode: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/admin/orders", nil)
			if tt.actor != nil {
				req = req.WithContext(auth.WithActor(req.Context(), *tt.actor))
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			assert.Equal(t, tt.wantCode, rr.Code)
		})
	}
}

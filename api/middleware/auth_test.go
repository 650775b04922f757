package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"

	"github.com/kilianp07/movedispatch/auth"
)

const secret = "middleware-test-secret"

func token(t *testing.T, sub string, role auth.Role) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/movers", Authenticate(auth.NewVerifier(secret, "")), Authorize(auth.RoleMover), func(c *gin.Context) {
		id, _ := IdentityFrom(c)
		c.String(http.StatusOK, id.UserID)
	})
	return r
}

func TestAuthenticateAndAuthorize(t *testing.T) {
	r := router()
	cases := []struct {
		name   string
		header string
		query  string
		code   int
		body   string
	}{
		{name: "header", header: "Bearer " + token(t, "m1", auth.RoleMover), code: http.StatusOK, body: "m1"},
		{name: "query", query: "?token=" + token(t, "m2", auth.RoleMover), code: http.StatusOK, body: "m2"},
		{name: "missing", code: http.StatusUnauthorized},
		{name: "no bearer prefix", header: token(t, "m1", auth.RoleMover), code: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer nope", code: http.StatusUnauthorized},
		{name: "wrong role", header: "Bearer " + token(t, "c1", auth.RoleClient), code: http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/movers"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.code, w.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, w.Body.String())
			}
		})
	}
}

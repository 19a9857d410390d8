package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/ascend/utils"
)

func init() { gin.SetMode(gin.TestMode) }

func authRouter(issuer *utils.TokenIssuer, bl *utils.TokenBlacklist) *gin.Engine {
	r := gin.New()
	r.GET("/me", AuthRequired(issuer, bl), func(ctx *gin.Context) {
		id, _ := UserID(ctx)
		exp, _ := ctx.Get(ContextTokenExpiryKey)
		ctx.JSON(http.StatusOK, gin.H{"id": id, "has_expiry": !exp.(time.Time).IsZero()})
	})
	return r
}

func TestAuthRequired(t *testing.T) {
	issuer := utils.NewTokenIssuer("s3cret", time.Hour)
	bl := utils.NewTokenBlacklist(nil)
	r := authRouter(issuer, bl)

	token, exp, err := issuer.Issue(9, "kai")
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		status int
		code   string
	}{
		{"missing", "", http.StatusUnauthorized, `"code":40101`},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, `"code":40102`},
		{"empty token", "Bearer  ", http.StatusUnauthorized, `"code":40103`},
		{"garbage", "Bearer nope", http.StatusUnauthorized, `"code":40105`},
		{"valid", "Bearer " + token, http.StatusOK, `"id":9`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
			assert.Contains(t, w.Body.String(), tc.code)
		})
	}

	bl.Revoke(token, exp)
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"code":40104`)
}

func TestRateLimitPerClient(t *testing.T) {
	r := gin.New()
	r.Use(RateLimitMiddleware(2))
	r.GET("/", func(ctx *gin.Context) { ctx.Status(http.StatusNoContent) })

	hit := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	// burst is half the per-minute rate
	assert.Equal(t, http.StatusNoContent, hit("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, hit("10.0.0.1"))
	assert.Equal(t, http.StatusNoContent, hit("10.0.0.2"))
}

func TestAdminRequired(t *testing.T) {
	issuer := utils.NewTokenIssuer("s3cret", time.Hour)
	r := gin.New()
	r.POST("/admin", AuthRequired(issuer, nil), AdminRequired([]string{" Ops "}), func(ctx *gin.Context) {
		ctx.Status(http.StatusNoContent)
	})

	cases := []struct {
		name     string
		username string
		status   int
	}{
		{"listed", "ops", http.StatusNoContent},
		{"listed other case", "OPS", http.StatusNoContent},
		{"regular user", "kai", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token, _, err := issuer.Issue(1, tc.username)
			require.NoError(t, err)
			req := httptest.NewRequest(http.MethodPost, "/admin", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

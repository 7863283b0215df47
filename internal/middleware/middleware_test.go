package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/model"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/session"
	"github.com/zeeshangondal/ClinicsDashboard-V9/pkg/logger"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func agentClaims(scopes ...string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Name:     "Sarah Wilson",
		ClinicID: "clinic-1",
		Scopes:   scopes,
	}
}

func TestAuth(t *testing.T) {
	var got session.Agent
	handler := Auth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = GetAgent(r.Context())
		assert.Equal(t, "clinic-1", GetClinicID(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	}))

	valid := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), agentClaims())
	expiredClaims := agentClaims()
	expiredClaims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	expired := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), expiredClaims)
	wrongKey := signToken(t, jwt.SigningMethodHS256, []byte("other"), agentClaims())
	noSubjectClaims := agentClaims()
	noSubjectClaims.Subject = ""
	noSubject := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), noSubjectClaims)

	tests := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{"valid bearer", "Bearer " + valid, "", http.StatusNoContent},
		{"valid query token", "", "?access_token=" + valid, http.StatusNoContent},
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + valid, "", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, "", http.StatusUnauthorized},
		{"wrong key", "Bearer " + wrongKey, "", http.StatusUnauthorized},
		{"no subject", "Bearer " + noSubject, "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got = session.Agent{}
			req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusNoContent {
				assert.Equal(t, session.Agent{UserID: "u-42", Name: "Sarah Wilson"}, got)
			}
		})
	}
}

func TestRequireScope(t *testing.T) {
	handler := Auth(testSecret)(RequireScope(ScopeInbound)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})))

	for _, tc := range []struct {
		scopes []string
		status int
	}{
		{nil, http.StatusForbidden},
		{[]string{"inbox:read"}, http.StatusForbidden},
		{[]string{"inbox:read", ScopeInbound}, http.StatusAccepted},
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/inbound", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.SigningMethodHS256, []byte(testSecret), agentClaims(tc.scopes...)))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, tc.status, rec.Code, tc.scopes)
	}
}

func TestLogging_CorrelationIDAndFlush(t *testing.T) {
	var seen string
	handler := Logging(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
		_, ok := w.(http.Flusher)
		assert.True(t, ok)
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Correlation-ID", "corr-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "corr-1", seen)
	assert.Equal(t, "corr-1", rec.Header().Get("X-Correlation-ID"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestValidation(t *testing.T) {
	assert.NoError(t, ValidateConversationID("0190f3a2-7c1e-7b1a-9f00-1c2d3e4f5a6b"))
	assert.NoError(t, ValidateConversationID("3"))
	assert.Error(t, ValidateConversationID(""))
	assert.Error(t, ValidateConversationID("a b"))
	assert.Error(t, ValidateConversationID("inbox.>"))

	assert.NoError(t, ValidatePhoneNumber("+1987654321"))
	assert.Error(t, ValidatePhoneNumber("12345"))
	assert.Error(t, ValidatePhoneNumber("+1-987-654-3210"))

	assert.NoError(t, ValidateMessageContent("Hi"))
	assert.Error(t, ValidateMessageContent(string(make([]byte, MaxMessageLength+1))))
	assert.Error(t, ValidateMessageContent("\xff"))

	status, err := ParseStatusFilter(" Pending_Handoff ")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingHandoff, status)
	status, err = ParseStatusFilter("all")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAll, status)
	_, err = ParseStatusFilter("archived")
	assert.Error(t, err)
}

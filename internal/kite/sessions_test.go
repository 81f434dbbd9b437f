package kite

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUserID       = "AB1234"
	testPassword     = "secret-pw"
	testAPIKey       = "kitefront"
	testAPISecret    = "secret"
	testRequestToken = "abc123"

	// sha256("kitefront" + "abc123" + "secret")
	goldenChecksum = "fc621d0c4a28c64c45a29b665941cdd888dcd642c10983d64451c8050c6bbf7d"
)

func testUser() User {
	return User{
		UserID:     testUserID,
		Password:   testPassword,
		TOTPSecret: testSecret,
		APIKey:     testAPIKey,
		APISecret:  testAPISecret,
	}
}

// mockBroker serves the five negotiation endpoints plus the two probe
// endpoints with their documented success shapes. Individual routes can be
// overridden per test to inject failures.
type mockBroker struct {
	t         *testing.T
	srv       *httptest.Server
	mux       *http.ServeMux
	overrides map[string]http.HandlerFunc
	hits      map[string]int
}

func newMockBroker(t *testing.T) *mockBroker {
	b := &mockBroker{
		t:         t,
		mux:       http.NewServeMux(),
		overrides: make(map[string]http.HandlerFunc),
		hits:      make(map[string]int),
	}

	b.handle("POST /api/login", b.loginHandler)
	b.handle("POST /api/twofa", b.twofaHandler)
	b.handle("GET /oms/user/profile", b.omsProfileHandler)
	b.handle("GET /connect/login", b.connectLoginHandler)
	b.handle("GET /connect/finish", b.connectFinishHandler)
	b.handle("POST /session/token", b.tokenHandler)
	b.handle("DELETE /session/token", b.deleteHandler)
	b.handle("GET /user/profile", b.apiProfileHandler)

	b.srv = httptest.NewServer(b.mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *mockBroker) handle(pattern string, h http.HandlerFunc) {
	b.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		b.hits[pattern]++
		if o, ok := b.overrides[pattern]; ok {
			o(w, r)
			return
		}
		h(w, r)
	})
}

func (b *mockBroker) override(pattern string, h http.HandlerFunc) {
	b.overrides[pattern] = h
}

func (b *mockBroker) failWith(pattern string, status int, errType, message string) {
	b.override(pattern, func(w http.ResponseWriter, r *http.Request) {
		writeBrokerError(w, status, errType, message)
	})
}

func (b *mockBroker) sessions() *Sessions {
	return New(Params{KiteBaseURL: b.srv.URL, APIBaseURL: b.srv.URL})
}

func writeBrokerError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"status":"error","error_type":%q,"message":%q}`, errType, message)
}

func (b *mockBroker) loginHandler(w http.ResponseWriter, r *http.Request) {
	assert.Equal(b.t, kiteVersion, r.Header.Get("X-Kite-Version"))
	assert.Contains(b.t, r.Header.Get("User-Agent"), "Mozilla")

	_ = r.ParseForm()
	if r.PostFormValue("user_id") != testUserID ||
		r.PostFormValue("password") != testPassword ||
		r.PostFormValue("type") != "user_id" {
		writeBrokerError(w, http.StatusForbidden, "UserException", "invalid credentials")
		return
	}

	fmt.Fprint(w, `{"status":"success","data":{
		"request_id":"req-1","twofa_type":"totp",
		"profile":{"user_name":"Test User","user_shortname":"Test","avatar_url":"https://example.com/a.png"}}}`)
}

func (b *mockBroker) twofaHandler(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	assert.Equal(b.t, testUserID, r.PostFormValue("user_id"))
	assert.Equal(b.t, "req-1", r.PostFormValue("request_id"))
	assert.Equal(b.t, "totp", r.PostFormValue("twofa_type"))

	if !b.acceptTwofa(r.PostFormValue("twofa_value")) {
		writeBrokerError(w, http.StatusForbidden, "TwoFAException", "invalid totp")
		return
	}

	for name, value := range map[string]string{
		"kf_session":   "kf-1",
		"enctoken":     "enc-abc",
		"public_token": "pub-xyz",
	} {
		http.SetCookie(w, &http.Cookie{Name: name, Value: value, Path: "/"})
	}
	fmt.Fprint(w, `{"status":"success","data":{}}`)
}

// acceptTwofa tolerates a window roll between the client computing the code
// and the handler checking it.
func (b *mockBroker) acceptTwofa(value string) bool {
	for _, offset := range []time.Duration{0, -totpPeriod * time.Second, totpPeriod * time.Second} {
		expected, err := totpCode(testSecret, time.Now().Add(offset))
		if err == nil && expected == value {
			return true
		}
	}
	return false
}

func (b *mockBroker) omsProfileHandler(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "enctoken enc-abc" {
		writeBrokerError(w, http.StatusUnauthorized, "TokenException", "invalid enctoken")
		return
	}
	fmt.Fprint(w, `{"status":"success","data":{
		"user_type":"individual","email":"test@example.com",
		"user_name":"Test User","user_shortname":"Test","broker":"ZERODHA",
		"exchanges":["NSE","BSE"],"products":["CNC","MIS"],"order_types":["MARKET","LIMIT"],
		"meta":{"demat_consent":"physical"}}}`)
}

func (b *mockBroker) connectLoginHandler(w http.ResponseWriter, r *http.Request) {
	assert.Equal(b.t, testAPIKey, r.URL.Query().Get("api_key"))
	assert.Equal(b.t, "3", r.URL.Query().Get("v"))
	w.Header().Set("Location", b.srv.URL+"/?api_key="+testAPIKey+"&sess_id=sess-123")
	w.WriteHeader(http.StatusFound)
}

func (b *mockBroker) connectFinishHandler(w http.ResponseWriter, r *http.Request) {
	assert.Equal(b.t, "sess-123", r.URL.Query().Get("sess_id"))
	if _, err := r.Cookie("enctoken"); err != nil {
		writeBrokerError(w, http.StatusForbidden, "TokenException", "not logged in")
		return
	}
	w.Header().Set("Location", b.srv.URL+"/?request_token="+testRequestToken+"&action=login&status=success")
	w.WriteHeader(http.StatusFound)
}

func (b *mockBroker) tokenHandler(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	assert.Equal(b.t, testAPIKey, r.PostFormValue("api_key"))
	assert.Equal(b.t, testRequestToken, r.PostFormValue("request_token"))
	if r.PostFormValue("checksum") != goldenChecksum {
		writeBrokerError(w, http.StatusForbidden, "TokenException", "invalid checksum")
		return
	}
	fmt.Fprint(w, `{"status":"success","data":{
		"user_type":"individual","email":"test@example.com",
		"user_name":"Test User","user_shortname":"Test","broker":"ZERODHA",
		"exchanges":["NSE","BSE"],"products":["CNC","MIS"],"order_types":["MARKET","LIMIT"],
		"avatar_url":"https://example.com/a.png","user_id":"AB1234",
		"api_key":"kitefront","access_token":"at-123","public_token":"pub-api",
		"refresh_token":"rt-refresh","enctoken":"","login_time":"2026-08-30 10:00:00",
		"meta":{"demat_consent":"physical"}}}`)
}

func (b *mockBroker) deleteHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("api_key") != testAPIKey || r.URL.Query().Get("access_token") != "at-123" {
		writeBrokerError(w, http.StatusForbidden, "TokenException", "token already revoked")
		return
	}
	fmt.Fprint(w, `{"status":"success","data":true}`)
}

func (b *mockBroker) apiProfileHandler(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "token "+testAPIKey+":at-123" {
		writeBrokerError(w, http.StatusUnauthorized, "TokenException", "invalid token")
		return
	}
	fmt.Fprint(w, `{"status":"success","data":{"user_id":"AB1234"}}`)
}

func TestGenerateSessionAPIStrategy(t *testing.T) {
	broker := newMockBroker(t)
	session, err := broker.sessions().GenerateSession(context.Background(), testUser())
	require.NoError(t, err)

	assert.Equal(t, "at-123", session.AccessToken)
	assert.Equal(t, "rt-refresh", session.RefreshToken)
	assert.Equal(t, testAPIKey, session.APIKey)
	assert.Equal(t, "enc-abc", session.Enctoken)
	assert.Equal(t, "kf-1", session.KFSession)
	assert.Equal(t, "AB1234", session.UserID)
	assert.Equal(t, []string{"NSE", "BSE"}, session.Exchanges)
	assert.Equal(t, "physical", session.Meta["demat_consent"])
	assert.NotEmpty(t, session.LoginTime)
}

func TestGenerateSessionOMSOnly(t *testing.T) {
	broker := newMockBroker(t)
	user := testUser()
	user.APIKey = ""
	user.APISecret = ""

	session, err := broker.sessions().GenerateSession(context.Background(), user)
	require.NoError(t, err)

	assert.Empty(t, session.AccessToken)
	assert.Empty(t, session.RefreshToken)
	assert.Empty(t, session.APIKey)
	assert.Equal(t, "enc-abc", session.Enctoken)
	assert.Equal(t, "pub-xyz", session.PublicToken)
	assert.Equal(t, "kf-1", session.KFSession)
	assert.Equal(t, "test@example.com", session.Email)
	assert.Equal(t, "ZERODHA", session.Broker)
	assert.Equal(t, []string{"CNC", "MIS"}, session.Products)
	assert.Equal(t, "https://example.com/a.png", session.AvatarURL)
	assert.NotEmpty(t, session.LoginTime)

	// The connect endpoints must not be touched on this path.
	assert.Zero(t, broker.hits["GET /connect/login"])
	assert.Zero(t, broker.hits["GET /connect/finish"])
	assert.Zero(t, broker.hits["POST /session/token"])
}

func TestGenerateSessionValidatesCredentials(t *testing.T) {
	broker := newMockBroker(t)
	s := broker.sessions()

	user := testUser()
	user.APISecret = ""
	_, err := s.GenerateSession(context.Background(), user)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Message, "api_secret")

	_, err = s.GenerateSession(context.Background(), User{UserID: testUserID})
	require.ErrorAs(t, err, &authErr)
	assert.Zero(t, broker.hits["POST /api/login"])
}

func TestGenerateSessionStepRejections(t *testing.T) {
	cases := []struct {
		name     string
		pattern  string
		status   int
		errType  string
		wantType string
	}{
		{"login rejected", "POST /api/login", 400, "UserException", "UserException"},
		{"twofa rejected", "POST /api/twofa", 400, "TwoFAException", "TwoFAException"},
		{"token exchange rejected", "POST /session/token", 403, "TokenException", "TokenException"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			broker := newMockBroker(t)
			broker.failWith(tc.pattern, tc.status, tc.errType, "rejected")

			_, err := broker.sessions().GenerateSession(context.Background(), testUser())
			var authErr *AuthError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, tc.status, authErr.Code)
			assert.Equal(t, tc.wantType, authErr.ErrType)
			assert.Equal(t, "rejected", authErr.Message)
		})
	}
}

func TestGenerateSessionConnectLoginNotRedirected(t *testing.T) {
	broker := newMockBroker(t)
	broker.failWith("GET /connect/login", 500, "GeneralException", "boom")

	_, err := broker.sessions().GenerateSession(context.Background(), testUser())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, 500, authErr.Code)
}

func TestGenerateSessionConnectFinishNotRedirected(t *testing.T) {
	broker := newMockBroker(t)
	broker.failWith("GET /connect/finish", 400, "InputException", "bad sess_id")

	_, err := broker.sessions().GenerateSession(context.Background(), testUser())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, 400, authErr.Code)
}

func TestGenerateSessionConnectLoginMissingLocation(t *testing.T) {
	broker := newMockBroker(t)
	broker.override("GET /connect/login", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusFound)
	})

	_, err := broker.sessions().GenerateSession(context.Background(), testUser())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Message, "location header")
}

func TestGenerateSessionConnectLoginMissingSessID(t *testing.T) {
	broker := newMockBroker(t)
	broker.override("GET /connect/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", broker.srv.URL+"/?api_key="+testAPIKey)
		w.WriteHeader(http.StatusFound)
	})

	_, err := broker.sessions().GenerateSession(context.Background(), testUser())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Message, "sess_id")
}

func TestGenerateSessionConnectFinishMissingRequestToken(t *testing.T) {
	broker := newMockBroker(t)
	broker.override("GET /connect/finish", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", broker.srv.URL+"/?status=success")
		w.WriteHeader(http.StatusFound)
	})

	_, err := broker.sessions().GenerateSession(context.Background(), testUser())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Message, "request_token")
}

func TestGenerateSessionMissingEnctokenCookie(t *testing.T) {
	broker := newMockBroker(t)
	broker.override("POST /api/twofa", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"success","data":{}}`)
	})

	_, err := broker.sessions().GenerateSession(context.Background(), testUser())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Message, "enctoken")
}

func TestGenerateSessionMalformedLoginBody(t *testing.T) {
	broker := newMockBroker(t)
	broker.override("POST /api/login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"success","data":{}}`)
	})

	_, err := broker.sessions().GenerateSession(context.Background(), testUser())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Message, "request_id")
}

func TestGenerateSessionBadTotpSecretAbortsBeforeTwofa(t *testing.T) {
	broker := newMockBroker(t)
	user := testUser()
	user.TOTPSecret = "not-base32!"

	_, err := broker.sessions().GenerateSession(context.Background(), user)
	var totpErr *TotpError
	require.ErrorAs(t, err, &totpErr)
	assert.Equal(t, 1, broker.hits["POST /api/login"])
	assert.Zero(t, broker.hits["POST /api/twofa"])
}

func TestGenerateSessionTransportError(t *testing.T) {
	broker := newMockBroker(t)
	s := broker.sessions()
	broker.srv.Close()

	// OMS-only path: the first round-trip is the login submit.
	user := testUser()
	user.APIKey = ""
	user.APISecret = ""
	_, err := s.GenerateSession(context.Background(), user)
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, "login", transportErr.Op)
}

func TestGenerateSessionAPIStrategyTransportError(t *testing.T) {
	broker := newMockBroker(t)
	s := broker.sessions()
	broker.srv.Close()

	_, err := s.GenerateSession(context.Background(), testUser())
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, "connect login", transportErr.Op)
}

func TestSessionChecksumGolden(t *testing.T) {
	assert.Equal(t, goldenChecksum, SessionChecksum(testAPIKey, testRequestToken, testAPISecret))
}

func TestSessionChecksumOrderMatters(t *testing.T) {
	assert.NotEqual(t,
		SessionChecksum(testAPIKey, testRequestToken, testAPISecret),
		SessionChecksum(testAPISecret, testRequestToken, testAPIKey))
}

func TestAuthErrorFromOpaqueBody(t *testing.T) {
	err := newAuthError(502, []byte("bad gateway"))
	assert.Equal(t, 502, err.Code)
	assert.Equal(t, "AuthException", err.ErrType)
	assert.Equal(t, "bad gateway", err.Message)
	assert.Equal(t, "[502] AuthException: bad gateway", err.Error())
}

package kite

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"kiteclient/internal/api"
	"kiteclient/internal/trace"
)

const (
	kiteVersion = "3"

	defaultKiteBaseURL = "https://kite.zerodha.com"
	defaultAPIBaseURL  = "https://api.kite.trade"
	defaultTimeout     = 7 * time.Second

	loginTimeLayout = "2006-01-02 15:04:05"
)

// Params configures a Sessions negotiator. Zero values select the
// production endpoints and the broker's usual 7-second timeout; the base
// URLs exist so tests can point the flow at a mock broker.
type Params struct {
	KiteBaseURL string
	APIBaseURL  string
	Timeout     time.Duration
	Logging     bool
}

// Sessions negotiates Kite user sessions. A negotiator is stateless across
// calls: every GenerateSession builds a fresh transport with its own cookie
// jar and releases it before returning. Concurrent calls are independent.
type Sessions struct {
	p Params
}

// New creates a session negotiator.
func New(p Params) *Sessions {
	if p.KiteBaseURL == "" {
		p.KiteBaseURL = defaultKiteBaseURL
	}
	if p.APIBaseURL == "" {
		p.APIBaseURL = defaultAPIBaseURL
	}
	if p.Timeout <= 0 {
		p.Timeout = defaultTimeout
	}
	return &Sessions{p: p}
}

// newTransport builds the per-negotiation HTTP client. The cookie jar is
// the channel through which the broker hands back kf_session, enctoken and
// public_token, so it must never outlive or be shared across negotiations.
func (s *Sessions) newTransport() (*api.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	opts := []api.ClientOption{
		api.WithTimeout(s.p.Timeout),
		api.WithCookieJar(jar),
		api.WithoutRedirects(),
		api.WithHeader("X-Kite-Version", kiteVersion),
		api.WithLogging(s.p.Logging),
	}
	for key, value := range api.BrowserHeaders() {
		opts = append(opts, api.WithHeader(key, value))
	}
	return api.NewClient(opts...), nil
}

// GenerateSession runs the full negotiation for the given user. With API
// credentials present it mints a signed access token via the connect
// redirect exchange; otherwise it produces an OMS cookie session. There is
// no retry and no partial result: any failed step aborts the whole flow.
func (s *Sessions) GenerateSession(ctx context.Context, user User) (*UserSession, error) {
	if err := validateUser(user); err != nil {
		return nil, err
	}

	client, err := s.newTransport()
	if err != nil {
		return nil, &TransportError{Op: "transport setup", Err: err}
	}
	defer client.CloseIdle()

	ctx, span := trace.StartSpan(ctx, "kite.generate_session")
	defer span.End()

	if user.hasAPICredentials() {
		return s.generateAPISession(ctx, client, user)
	}
	return s.generateOMSOnlySession(ctx, client, user)
}

func validateUser(user User) error {
	if user.UserID == "" || user.Password == "" || user.TOTPSecret == "" {
		return protocolError("user_id, password and totp_secret are required")
	}
	if (user.APIKey == "") != (user.APISecret == "") {
		return protocolError("api_key and api_secret must be provided together")
	}
	return nil
}

// omsLogin is step 1: credential submit. The response carries the
// two-factor challenge and the profile fields that survive into the final
// session.
func (s *Sessions) omsLogin(ctx context.Context, client *api.Client, user User) (*twofaChallenge, error) {
	ctx, span := trace.StartSpan(ctx, "kite.login")
	defer span.End()

	form := url.Values{
		"user_id":  {user.UserID},
		"password": {user.Password},
		"type":     {"user_id"},
	}
	resp, err := client.PostForm(ctx, s.p.KiteBaseURL+"/api/login", form)
	if err != nil {
		return nil, &TransportError{Op: "login", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newAuthError(resp.StatusCode, resp.Body)
	}

	var body struct {
		Data struct {
			RequestID string `json:"request_id"`
			TwofaType string `json:"twofa_type"`
			Profile   struct {
				UserName      string `json:"user_name"`
				UserShortname string `json:"user_shortname"`
				AvatarURL     string `json:"avatar_url"`
			} `json:"profile"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, protocolError("login response is not valid JSON: %v", err)
	}
	if body.Data.RequestID == "" || body.Data.TwofaType == "" {
		return nil, protocolError("login response missing request_id or twofa_type")
	}

	return &twofaChallenge{
		requestID: body.Data.RequestID,
		twofaType: body.Data.TwofaType,
		userName:  body.Data.Profile.UserName,
		shortname: body.Data.Profile.UserShortname,
		avatarURL: body.Data.Profile.AvatarURL,
	}, nil
}

// generateOMSSession runs login and two-factor, then lifts the session
// cookies out of the jar. The TOTP code is computed between the two steps
// so a slow login round-trip cannot exhaust its 30-second window.
func (s *Sessions) generateOMSSession(ctx context.Context, client *api.Client, user User) (*omsSession, error) {
	challenge, err := s.omsLogin(ctx, client, user)
	if err != nil {
		return nil, err
	}

	twofaValue, err := totpCode(user.TOTPSecret, time.Now())
	if err != nil {
		return nil, err
	}

	ctx, span := trace.StartSpan(ctx, "kite.twofa")
	defer span.End()

	form := url.Values{
		"user_id":     {user.UserID},
		"request_id":  {challenge.requestID},
		"twofa_type":  {challenge.twofaType},
		"twofa_value": {twofaValue},
	}
	resp, err := client.PostForm(ctx, s.p.KiteBaseURL+"/api/twofa", form)
	if err != nil {
		return nil, &TransportError{Op: "twofa", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newAuthError(resp.StatusCode, resp.Body)
	}

	// The broker returns the session material as Set-Cookie headers, not in
	// the response body.
	cookies := client.Cookies(s.p.KiteBaseURL)
	enctoken := cookies["enctoken"]
	if enctoken == "" {
		return nil, protocolError("enctoken cookie missing after twofa")
	}

	return &omsSession{
		userID:      user.UserID,
		userName:    challenge.userName,
		shortname:   challenge.shortname,
		avatarURL:   challenge.avatarURL,
		kfSession:   cookies["kf_session"],
		enctoken:    enctoken,
		publicToken: cookies["public_token"],
		loginTime:   time.Now().Format(loginTimeLayout),
	}, nil
}

// generateOMSOnlySession assembles a cookie-only session, filling the
// remaining profile fields from the OMS profile endpoint. AccessToken,
// RefreshToken and APIKey stay empty on this path.
func (s *Sessions) generateOMSOnlySession(ctx context.Context, client *api.Client, user User) (*UserSession, error) {
	oms, err := s.generateOMSSession(ctx, client, user)
	if err != nil {
		return nil, err
	}

	profile, err := s.omsProfile(ctx, client, oms.enctoken)
	if err != nil {
		return nil, err
	}

	session := &UserSession{
		UserType:      profile.UserType,
		Email:         profile.Email,
		UserName:      oms.userName,
		UserShortname: oms.shortname,
		Broker:        profile.Broker,
		Exchanges:     profile.Exchanges,
		Products:      profile.Products,
		OrderTypes:    profile.OrderTypes,
		AvatarURL:     oms.avatarURL,
		UserID:        oms.userID,
		PublicToken:   oms.publicToken,
		Enctoken:      oms.enctoken,
		LoginTime:     oms.loginTime,
		Meta:          profile.Meta,
		KFSession:     oms.kfSession,
	}
	if profile.UserName != "" {
		session.UserName = profile.UserName
	}
	if profile.UserShortname != "" {
		session.UserShortname = profile.UserShortname
	}
	return session, nil
}

type omsProfileData struct {
	UserType      string         `json:"user_type"`
	Email         string         `json:"email"`
	UserName      string         `json:"user_name"`
	UserShortname string         `json:"user_shortname"`
	Broker        string         `json:"broker"`
	Exchanges     []string       `json:"exchanges"`
	Products      []string       `json:"products"`
	OrderTypes    []string       `json:"order_types"`
	Meta          map[string]any `json:"meta"`
}

func (s *Sessions) omsProfile(ctx context.Context, client *api.Client, enctoken string) (*omsProfileData, error) {
	ctx, span := trace.StartSpan(ctx, "kite.oms_profile")
	defer span.End()

	headers := map[string]string{"Authorization": "enctoken " + enctoken}
	resp, err := client.Get(ctx, s.p.KiteBaseURL+"/oms/user/profile", headers)
	if err != nil {
		return nil, &TransportError{Op: "oms profile", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newAuthError(resp.StatusCode, resp.Body)
	}

	var body struct {
		Data omsProfileData `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, protocolError("oms profile response is not valid JSON: %v", err)
	}
	return &body.Data, nil
}

// generateAPISession layers the connect redirect exchange on top of the OMS
// flow and mints a signed access token.
func (s *Sessions) generateAPISession(ctx context.Context, client *api.Client, user User) (*UserSession, error) {
	// Step 1: connect/login hands out a sess_id via redirect.
	sessID, err := s.connectLogin(ctx, client, user.APIKey)
	if err != nil {
		return nil, err
	}

	// Step 2: authenticate the browser session the redirect dance rides on.
	oms, err := s.generateOMSSession(ctx, client, user)
	if err != nil {
		return nil, err
	}

	// Step 3: connect/finish redirects back with the request token.
	requestToken, err := s.connectFinish(ctx, client, user.APIKey, sessID)
	if err != nil {
		return nil, err
	}

	// Steps 4+5: prove possession of the API secret and mint the token.
	session, err := s.mintToken(ctx, client, user.APIKey, requestToken, SessionChecksum(user.APIKey, requestToken, user.APISecret))
	if err != nil {
		return nil, err
	}

	session.KFSession = oms.kfSession
	session.Enctoken = oms.enctoken
	if session.APIKey == "" {
		session.APIKey = user.APIKey
	}
	if session.LoginTime == "" {
		session.LoginTime = oms.loginTime
	}
	return session, nil
}

func (s *Sessions) connectLogin(ctx context.Context, client *api.Client, apiKey string) (string, error) {
	ctx, span := trace.StartSpan(ctx, "kite.connect_login")
	defer span.End()

	connectURL := fmt.Sprintf("%s/connect/login?v=%s&api_key=%s", s.p.KiteBaseURL, kiteVersion, url.QueryEscape(apiKey))
	resp, err := client.Get(ctx, connectURL, nil)
	if err != nil {
		return "", &TransportError{Op: "connect login", Err: err}
	}
	if resp.StatusCode != http.StatusFound {
		return "", &AuthError{Code: resp.StatusCode, ErrType: "AuthException", Message: fmt.Sprintf("connect login failed: [%d]", resp.StatusCode)}
	}

	location := resp.Location()
	if location == "" {
		return "", protocolError("location header not found in connect login response")
	}
	sessID := queryParam(location, "sess_id")
	if sessID == "" {
		return "", protocolError("sess_id not found in connect login redirect")
	}
	return sessID, nil
}

func (s *Sessions) connectFinish(ctx context.Context, client *api.Client, apiKey, sessID string) (string, error) {
	ctx, span := trace.StartSpan(ctx, "kite.connect_finish")
	defer span.End()

	finishURL := fmt.Sprintf("%s/connect/finish?v=%s&api_key=%s&sess_id=%s",
		s.p.KiteBaseURL, kiteVersion, url.QueryEscape(apiKey), url.QueryEscape(sessID))
	resp, err := client.Get(ctx, finishURL, nil)
	if err != nil {
		return "", &TransportError{Op: "connect finish", Err: err}
	}
	if resp.StatusCode != http.StatusFound {
		return "", &AuthError{Code: resp.StatusCode, ErrType: "AuthException", Message: fmt.Sprintf("connect finish failed: [%d]", resp.StatusCode)}
	}

	location := resp.Location()
	if location == "" {
		return "", protocolError("location header not found in connect finish response")
	}
	requestToken := queryParam(location, "request_token")
	if requestToken == "" {
		return "", protocolError("request_token not found in connect finish redirect")
	}
	return requestToken, nil
}

func (s *Sessions) mintToken(ctx context.Context, client *api.Client, apiKey, requestToken, checksum string) (*UserSession, error) {
	ctx, span := trace.StartSpan(ctx, "kite.token_exchange")
	defer span.End()

	form := url.Values{
		"api_key":       {apiKey},
		"request_token": {requestToken},
		"checksum":      {checksum},
	}
	resp, err := client.PostForm(ctx, s.p.APIBaseURL+"/session/token", form)
	if err != nil {
		return nil, &TransportError{Op: "token exchange", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newAuthError(resp.StatusCode, resp.Body)
	}

	var body struct {
		Data UserSession `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, protocolError("token exchange response is not valid JSON: %v", err)
	}
	if body.Data.AccessToken == "" {
		return nil, protocolError("token exchange response missing access_token")
	}
	return &body.Data, nil
}

// SessionChecksum binds the API key, request token and API secret into the
// digest the token exchange expects. The byte order is fixed by the broker:
// apiKey, then requestToken, then apiSecret. Any other order is rejected.
func SessionChecksum(apiKey, requestToken, apiSecret string) string {
	sum := sha256.Sum256([]byte(apiKey + requestToken + apiSecret))
	return hex.EncodeToString(sum[:])
}

// queryParam extracts a query parameter from a raw URL, returning "" when
// the URL does not parse or the parameter is absent.
func queryParam(rawURL, key string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Query().Get(key)
}

// Package kite negotiates Zerodha Kite sessions over the undocumented
// browser login flow: credential submit, TOTP two-factor, cookie/token
// extraction, and the optional connect/finish redirect exchange that mints
// a signed API access token.
package kite

// User holds the credentials a negotiation consumes. It is read-only from
// the negotiator's point of view. APIKey and APISecret must be set together;
// their presence selects the API-session strategy.
type User struct {
	UserID     string
	Password   string
	TOTPSecret string
	APIKey     string
	APISecret  string
}

// hasAPICredentials reports whether the API-session strategy applies.
func (u User) hasAPICredentials() bool {
	return u.APIKey != "" && u.APISecret != ""
}

// UserSession is the outcome of a successful negotiation. Exactly one is
// built per GenerateSession call and ownership transfers to the caller.
// AccessToken and RefreshToken are only present for API sessions; Enctoken
// is present for both strategies and is the bearer credential for the OMS
// web endpoints.
type UserSession struct {
	UserType      string         `json:"user_type"`
	Email         string         `json:"email"`
	UserName      string         `json:"user_name"`
	UserShortname string         `json:"user_shortname"`
	Broker        string         `json:"broker"`
	Exchanges     []string       `json:"exchanges"`
	Products      []string       `json:"products"`
	OrderTypes    []string       `json:"order_types"`
	AvatarURL     string         `json:"avatar_url"`
	UserID        string         `json:"user_id"`
	APIKey        string         `json:"api_key"`
	AccessToken   string         `json:"access_token"`
	PublicToken   string         `json:"public_token"`
	RefreshToken  string         `json:"refresh_token"`
	Enctoken      string         `json:"enctoken"`
	LoginTime     string         `json:"login_time"`
	Meta          map[string]any `json:"meta"`
	KFSession     string         `json:"kf_session"`
}

// twofaChallenge carries step-1 state into step 2 of the OMS flow. It never
// leaves a negotiation.
type twofaChallenge struct {
	requestID string
	twofaType string
	userName  string
	shortname string
	avatarURL string
}

// omsSession is the OMS flow's intermediate result: the three cookies of
// interest plus the profile fields carried over from the login response.
type omsSession struct {
	userID      string
	userName    string
	shortname   string
	avatarURL   string
	kfSession   string
	enctoken    string
	publicToken string
	loginTime   string
}

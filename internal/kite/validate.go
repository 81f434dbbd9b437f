package kite

import (
	"context"
	"net/http"
	"net/url"

	"kiteclient/internal/trace"
)

// IsOMSSessionValid probes the OMS profile endpoint with the enctoken
// bearer form. It returns false for any non-200 status; network failures
// surface as a TransportError, not as an invalid session.
func (s *Sessions) IsOMSSessionValid(ctx context.Context, enctoken string) (bool, error) {
	ctx, span := trace.StartSpan(ctx, "kite.oms_session_valid")
	defer span.End()

	client, err := s.newTransport()
	if err != nil {
		return false, &TransportError{Op: "transport setup", Err: err}
	}
	defer client.CloseIdle()

	headers := map[string]string{"Authorization": "enctoken " + enctoken}
	resp, err := client.Get(ctx, s.p.KiteBaseURL+"/oms/user/profile", headers)
	if err != nil {
		return false, &TransportError{Op: "oms session probe", Err: err}
	}
	return resp.StatusCode == http.StatusOK, nil
}

// IsAPISessionValid probes the API profile endpoint with the
// "token api_key:access_token" bearer form.
func (s *Sessions) IsAPISessionValid(ctx context.Context, apiKey, accessToken string) (bool, error) {
	ctx, span := trace.StartSpan(ctx, "kite.api_session_valid")
	defer span.End()

	client, err := s.newTransport()
	if err != nil {
		return false, &TransportError{Op: "transport setup", Err: err}
	}
	defer client.CloseIdle()

	headers := map[string]string{"Authorization": "token " + apiKey + ":" + accessToken}
	resp, err := client.Get(ctx, s.p.APIBaseURL+"/user/profile", headers)
	if err != nil {
		return false, &TransportError{Op: "api session probe", Err: err}
	}
	return resp.StatusCode == http.StatusOK, nil
}

// DeleteSession revokes an API session's access token. Revoking an already
// revoked token fails the same way as any other broker rejection.
func (s *Sessions) DeleteSession(ctx context.Context, apiKey, accessToken string) error {
	ctx, span := trace.StartSpan(ctx, "kite.delete_session")
	defer span.End()

	client, err := s.newTransport()
	if err != nil {
		return &TransportError{Op: "transport setup", Err: err}
	}
	defer client.CloseIdle()

	query := url.Values{
		"api_key":      {apiKey},
		"access_token": {accessToken},
	}
	resp, err := client.Delete(ctx, s.p.APIBaseURL+"/session/token", query)
	if err != nil {
		return &TransportError{Op: "delete session", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return newAuthError(resp.StatusCode, resp.Body)
	}
	return nil
}

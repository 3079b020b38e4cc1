package roblox

import "strconv"

// TokenResponse is the token endpoint response.
type TokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type,omitempty"`
	ExpiresIn        int    `json:"expires_in,omitempty"`
	Scope            string `json:"scope,omitempty"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// UserInfo is the OpenID userinfo response for a Roblox account.
type UserInfo struct {
	// Sub is the stable Roblox user ID, as a decimal string.
	Sub string `json:"sub"`

	// PreferredUsername is the account's username, when the profile
	// scope was granted.
	PreferredUsername string `json:"preferred_username,omitempty"`

	// Nickname is the account's display name.
	Nickname string `json:"nickname,omitempty"`
}

// ID returns the numeric Roblox user ID.
func (u *UserInfo) ID() (int64, error) {
	return strconv.ParseInt(u.Sub, 10, 64)
}

// DisplayName returns the best available human-readable name: the username,
// falling back to the nickname, falling back to the stringified ID.
func (u *UserInfo) DisplayName() string {
	if u.PreferredUsername != "" {
		return u.PreferredUsername
	}

	if u.Nickname != "" {
		return u.Nickname
	}

	return u.Sub
}

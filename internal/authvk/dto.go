package authvk

import (
	errors "github.com/storiesoff/backend/internal"
	"github.com/storiesoff/backend/internal/supabase"
)

// NativeLoginRequest carries a VK access token obtained by the mobile app
// through the native VK SDK.
type NativeLoginRequest struct {
	AccessToken string `json:"access_token"`
	UserID      int64  `json:"user_id"`
	Email       string `json:"email"`
}

func (r *NativeLoginRequest) Validate() error {
	if r.AccessToken == "" {
		return errors.NewValidationError("missing VK access_token", errors.ErrCodeMissingFields)
	}
	return nil
}

// LoginResponse is the session payload returned to native clients and
// embedded in the popup postMessage for web clients.
type LoginResponse struct {
	Provider      string         `json:"provider,omitempty"`
	AccessToken   string         `json:"access_token"`
	RefreshToken  string         `json:"refresh_token"`
	ExpiresIn     int            `json:"expires_in"`
	TokenType     string         `json:"token_type"`
	ProviderToken string         `json:"provider_token,omitempty"`
	User          *supabase.User `json:"user,omitempty"`
}

// Profile is the VK identity the callback or native login resolved.
type Profile struct {
	VKID      string
	Email     string
	FirstName string
	LastName  string
	AvatarURL string
}

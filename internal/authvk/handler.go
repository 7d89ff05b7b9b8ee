package authvk

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/markbates/goth"
	"github.com/markbates/goth/providers/vk"

	errors "github.com/storiesoff/backend/internal"
	"github.com/storiesoff/backend/internal/transport"
)

// ServiceAPI defines the login flow contract for HTTP handlers.
type ServiceAPI interface {
	Login(ctx context.Context, profile Profile) (*LoginResponse, error)
}

// Handler serves the VK OAuth endpoints: the popup/redirect authorize flow
// and the native-SDK token exchange.
type Handler struct {
	*transport.BaseHandler
	Service  ServiceAPI
	Provider goth.Provider
	Logger   *slog.Logger
}

func NewHandler(service ServiceAPI, provider goth.Provider, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: transport.NewBaseHandler(logger),
		Service:     service,
		Provider:    provider,
		Logger:      logger,
	}
}

// popupPage posts the payload to the opener window and closes the popup.
// json.Marshal escapes '<' so the payload cannot break out of the script tag.
const popupPage = `<!doctype html>
<html><head><meta charset="utf-8" /></head>
<body>
<script>
  (function(){
    try {
      var data = %s;
      if (window.opener && window.opener.postMessage) {
        window.opener.postMessage({ source: 'storiesoff-auth', provider: 'vk', data: data }, '*');
      }
    } catch(e) {}
    window.close();
  })();
</script>
</body></html>`

func (h *Handler) writePopup(w http.ResponseWriter, status int, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`{"error":"internal error"}`)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, popupPage, data)
}

// Start redirects the browser to the VK authorize page. An app_redirect query
// parameter is tunneled through the OAuth state so the callback can hand the
// session back to the mobile app via deep link.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	if h.Provider == nil {
		h.HandleError(w, errors.NewServerError("VK OAuth is not configured", errors.ErrCodeNotConfigured))
		return
	}

	state := ""
	if appRedirect := r.URL.Query().Get("app_redirect"); appRedirect != "" {
		encoded, err := json.Marshal(map[string]string{"app_redirect": appRedirect})
		if err == nil {
			state = base64.StdEncoding.EncodeToString(encoded)
		}
	}

	session, err := h.Provider.BeginAuth(state)
	if err != nil {
		h.Logger.Error("failed to begin VK auth", "error", err)
		h.HandleError(w, errors.NewServerError("VK start failed", errors.ErrCodeOAuthFailed))
		return
	}
	authURL, err := session.GetAuthURL()
	if err != nil {
		h.HandleError(w, errors.NewServerError("VK start failed", errors.ErrCodeOAuthFailed))
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback exchanges the authorization code, resolves the VK profile and
// either deep-links back into the app or posts the session to the opener.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	if h.Provider == nil {
		h.writePopup(w, http.StatusInternalServerError, map[string]string{"error": "Server is not configured"})
		return
	}

	query := r.URL.Query()

	if oauthErr := query.Get("error"); oauthErr != "" {
		h.writePopup(w, http.StatusBadRequest, map[string]string{"error": oauthErr})
		return
	}

	session := &vk.Session{}
	if _, err := session.Authorize(h.Provider, query); err != nil {
		h.Logger.Error("VK code exchange failed", "error", err)
		h.writePopup(w, http.StatusBadRequest, map[string]string{"error": "VK code exchange failed"})
		return
	}

	gothUser, err := h.Provider.FetchUser(session)
	if err != nil {
		h.Logger.Error("VK user fetch failed", "error", err)
		h.writePopup(w, http.StatusBadRequest, map[string]string{"error": "VK user fetch failed"})
		return
	}

	resp, err := h.Service.Login(r.Context(), Profile{
		VKID:      gothUser.UserID,
		Email:     gothUser.Email,
		FirstName: gothUser.FirstName,
		LastName:  gothUser.LastName,
		AvatarURL: gothUser.AvatarURL,
	})
	if err != nil {
		h.writePopup(w, http.StatusInternalServerError, map[string]string{"error": errorMessage(err)})
		return
	}
	resp.ProviderToken = gothUser.AccessToken

	if appRedirect := decodeAppRedirect(query.Get("state")); appRedirect != "" {
		target, err := url.Parse(appRedirect)
		if err == nil {
			q := target.Query()
			q.Set("provider", "vk")
			q.Set("access_token", resp.AccessToken)
			q.Set("refresh_token", resp.RefreshToken)
			q.Set("expires_in", strconv.Itoa(resp.ExpiresIn))
			q.Set("token_type", resp.TokenType)
			target.RawQuery = q.Encode()
			http.Redirect(w, r, target.String(), http.StatusFound)
			return
		}
	}

	h.writePopup(w, http.StatusOK, resp)
}

// NativeLogin exchanges a VK access token from the native SDK for a Supabase
// session.
func (h *Handler) NativeLogin(w http.ResponseWriter, r *http.Request) {
	if h.Provider == nil {
		h.HandleError(w, errors.NewServerError("VK OAuth is not configured", errors.ErrCodeNotConfigured))
		return
	}

	var req NativeLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}
	if err := req.Validate(); err != nil {
		h.HandleError(w, err)
		return
	}

	session := &vk.Session{
		AccessToken: req.AccessToken,
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	gothUser, err := h.Provider.FetchUser(session)
	if err != nil {
		h.Logger.Error("VK user fetch failed", "error", err)
		h.HandleError(w, errors.NewValidationError("VK user fetch failed", errors.ErrCodeOAuthFailed))
		return
	}

	email := req.Email
	if email == "" {
		email = gothUser.Email
	}

	resp, err := h.Service.Login(r.Context(), Profile{
		VKID:      gothUser.UserID,
		Email:     email,
		FirstName: gothUser.FirstName,
		LastName:  gothUser.LastName,
		AvatarURL: gothUser.AvatarURL,
	})
	if err != nil {
		h.HandleError(w, err)
		return
	}
	resp.Provider = "vk"

	h.WriteJSON(w, http.StatusOK, resp)
}

func decodeAppRedirect(state string) string {
	if state == "" {
		return ""
	}
	decoded, err := base64.StdEncoding.DecodeString(state)
	if err != nil {
		return ""
	}
	var payload struct {
		AppRedirect string `json:"app_redirect"`
	}
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return ""
	}
	return payload.AppRedirect
}

func errorMessage(err error) string {
	if appErr, ok := errors.IsAppError(err); ok {
		return appErr.Message
	}
	return "VK callback failed"
}

package authvk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	errors "github.com/storiesoff/backend/internal"
	"github.com/storiesoff/backend/internal/supabase"
)

// SupabaseAPI is the slice of the auth admin surface the login flow needs.
type SupabaseAPI interface {
	CreateUser(ctx context.Context, params supabase.CreateUserParams) (*supabase.User, error)
	FindUserByEmail(ctx context.Context, email string) (*supabase.User, error)
	UpdateUser(ctx context.Context, userID string, params supabase.UpdateUserParams) error
	SignInWithPassword(ctx context.Context, email, password string) (*supabase.Session, error)
}

// Service bridges a resolved VK identity to a Supabase session. Every VK
// account maps to one Supabase user with deterministic credentials, so a
// repeat login lands on the same account.
type Service struct {
	supabase     SupabaseAPI
	passwordSalt string
	logger       *slog.Logger
}

func NewService(supabaseClient SupabaseAPI, passwordSalt string, logger *slog.Logger) *Service {
	return &Service{
		supabase:     supabaseClient,
		passwordSalt: passwordSalt,
		logger:       logger,
	}
}

// credentials derives the Supabase email/password pair for a VK identity.
// The email falls back to a synthetic vk.local address when VK did not
// disclose one; the password folds in the first 8 chars of the salt.
func (s *Service) credentials(profile Profile) (string, string) {
	email := profile.Email
	if email == "" {
		email = fmt.Sprintf("vk_%s@vk.local", profile.VKID)
	}
	salt := s.passwordSalt
	if salt == "" {
		salt = "s"
	}
	if len(salt) > 8 {
		salt = salt[:8]
	}
	return email, fmt.Sprintf("vk_%s_%s", profile.VKID, salt)
}

// Login provisions or refreshes the Supabase account for the VK profile and
// signs in server-side to mint session tokens.
func (s *Service) Login(ctx context.Context, profile Profile) (*LoginResponse, error) {
	if profile.VKID == "" {
		return nil, errors.NewValidationError("VK user not found", errors.ErrCodeOAuthFailed)
	}

	email, password := s.credentials(profile)
	metadata := map[string]interface{}{
		"provider": "vk",
		"vk_id":    profile.VKID,
		"name":     strings.TrimSpace(profile.FirstName + " " + profile.LastName),
		"avatar":   profile.AvatarURL,
	}

	_, err := s.supabase.CreateUser(ctx, supabase.CreateUserParams{
		Email:        email,
		Password:     password,
		EmailConfirm: true,
		UserMetadata: metadata,
	})
	if err != nil && !supabase.IsAlreadyRegistered(err) {
		// Creation failed for another reason; fall back to locating the
		// account and rotating it onto the deterministic credentials.
		existing, findErr := s.supabase.FindUserByEmail(ctx, email)
		if findErr != nil {
			s.logger.Error("failed to look up supabase user", "error", findErr, "vk_id", profile.VKID)
			return nil, errors.NewServerError("cannot create or locate user", errors.ErrCodeUserNotFound)
		}
		if existing == nil {
			return nil, errors.NewServerError("cannot create or locate user", errors.ErrCodeUserNotFound)
		}

		metadata["updated_at"] = time.Now().UTC().Format(time.RFC3339)
		if updErr := s.supabase.UpdateUser(ctx, existing.ID, supabase.UpdateUserParams{
			Password:     password,
			UserMetadata: metadata,
		}); updErr != nil {
			s.logger.Error("failed to update supabase user", "error", updErr, "user_id", existing.ID)
			return nil, errors.NewServerError("failed to update user", errors.ErrCodeSessionFailed)
		}
	}

	session, err := s.supabase.SignInWithPassword(ctx, email, password)
	if err != nil {
		s.logger.Error("supabase sign-in failed", "error", err, "vk_id", profile.VKID)
		return nil, errors.NewServerError("failed to create session", errors.ErrCodeSessionFailed)
	}

	return &LoginResponse{
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		ExpiresIn:    session.ExpiresIn,
		TokenType:    session.TokenType,
		User:         session.User,
	}, nil
}

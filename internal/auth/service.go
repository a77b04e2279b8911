package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/meishi-app/meishi/internal/mailer"
	"github.com/meishi-app/meishi/internal/shared"
	"github.com/meishi-app/meishi/internal/token"
)

// resetWindow is how long a password reset link stays valid.
const resetWindow = 2 * time.Hour

const (
	maxNameLen     = 50
	maxEmailLen    = 255
	minPasswordLen = 6
	// maxPasswordBytes matches bcrypt's input limit; longer passwords would
	// fail inside the hash routine instead of at validation.
	maxPasswordBytes = 72
)

// AuditRecorder persists auth events; *shared.AuditLogger satisfies it.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service wraps the credential lifecycle: registration, email activation,
// login, remember-me and password reset.
type Service struct {
	repo     Repository
	tokens   *token.Service
	mail     mailer.Sender
	audit    AuditRecorder
	logger   *slog.Logger
	baseURL  string
	validate *validator.Validate
	now      func() time.Time
}

// NewService constructs a Service. audit may be nil.
func NewService(repo Repository, tokens *token.Service, mail mailer.Sender, audit AuditRecorder, logger *slog.Logger, baseURL string) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		tokens:   tokens,
		mail:     mail,
		audit:    audit,
		logger:   logger,
		baseURL:  strings.TrimRight(baseURL, "/"),
		validate: validator.New(),
		now:      time.Now,
	}
}

// WithClock overrides the time source. Used by tests to cross the reset
// expiry boundary without sleeping.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Register validates the signup input, persists an unactivated user and
// sends exactly one activation email. Mail delivery is fire-and-forget: a
// failed send is logged and does not undo the registration.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = NormalizeEmail(in.Email)

	if verr := s.validateRegister(in); len(verr) > 0 {
		return nil, verr
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.tokens.Cost())
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	pair, err := s.tokens.Generate()
	if err != nil {
		return nil, fmt.Errorf("auth: activation token: %w", err)
	}

	user := &User{
		Name:             in.Name,
		Email:            in.Email,
		PasswordHash:     string(passwordHash),
		ActivationDigest: pair.Digest,
	}
	id, err := s.repo.CreateUser(ctx, user)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, ValidationError{"email": "has already been taken"}
		}
		return nil, fmt.Errorf("auth: create user: %w", err)
	}
	user.ID = id

	s.deliver(activationEmail(s.baseURL, user, pair.Raw))
	s.record(ctx, user.ID, "user.register", map[string]any{"email": user.Email})

	return user, nil
}

// Activate verifies the emailed token and flips the account to activated.
// A missing user or bad token yields ErrActivationFailed; a repeat attempt
// yields ErrAlreadyActivated and changes nothing. No email is re-sent.
func (s *Service) Activate(ctx context.Context, userID int64, raw string) (*User, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, ErrActivationFailed
	}
	if user.Activated {
		return nil, ErrAlreadyActivated
	}
	if !s.tokens.Verify(raw, user.ActivationDigest) {
		return nil, ErrActivationFailed
	}

	at := s.now().UTC()
	if err := s.repo.MarkActivated(ctx, user.ID, at); err != nil {
		if errors.Is(err, ErrAlreadyActivated) {
			return nil, ErrAlreadyActivated
		}
		return nil, fmt.Errorf("auth: mark activated: %w", err)
	}
	user.Activated = true
	user.ActivatedAt = &at

	s.record(ctx, user.ID, "user.activate", nil)
	return user, nil
}

// Authenticate checks email/password. Unknown address and wrong password
// both map to ErrInvalidCredentials; an unactivated account is reported
// distinctly so the UI can point at the activation mail.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.Activated {
		return nil, ErrNotActivated
	}
	s.record(ctx, user.ID, "user.login", nil)
	return user, nil
}

// Remember issues a fresh remember token, stores its digest and returns the
// raw token for the persistent cookie. Last writer wins.
func (s *Service) Remember(ctx context.Context, userID int64) (string, error) {
	pair, err := s.tokens.Generate()
	if err != nil {
		return "", fmt.Errorf("auth: remember token: %w", err)
	}
	if err := s.repo.SetRememberDigest(ctx, userID, pair.Digest); err != nil {
		return "", fmt.Errorf("auth: store remember digest: %w", err)
	}
	return pair.Raw, nil
}

// Forget clears the remember digest. Safe to call when nothing is stored.
func (s *Service) Forget(ctx context.Context, userID int64) error {
	return s.repo.ClearRememberDigest(ctx, userID)
}

// ResolveRemember authenticates a presented remember credential. Any
// failure, including a stale id, returns ErrInvalidCredentials so the
// caller degrades to anonymous instead of surfacing storage errors.
func (s *Service) ResolveRemember(ctx context.Context, userID int64, raw string) (*User, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if user.RememberDigest == nil || !s.tokens.Verify(raw, *user.RememberDigest) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// FindByID loads a user. Used by session resolution and the profile page.
func (s *Service) FindByID(ctx context.Context, userID int64) (*User, error) {
	return s.repo.FindByID(ctx, userID)
}

// RequestReset issues a reset token for the given address and mails the
// link. An unknown address is reported as ErrEmailNotFound; the UI shows a
// distinct message, accepting the enumeration trade-off.
func (s *Service) RequestReset(ctx context.Context, email string) error {
	user, err := s.repo.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrEmailNotFound
		}
		return fmt.Errorf("auth: lookup for reset: %w", err)
	}

	pair, err := s.tokens.Generate()
	if err != nil {
		return fmt.Errorf("auth: reset token: %w", err)
	}
	sentAt := s.now().UTC()
	if err := s.repo.SetResetDigest(ctx, user.ID, pair.Digest, sentAt); err != nil {
		return fmt.Errorf("auth: store reset digest: %w", err)
	}

	s.deliver(resetEmail(s.baseURL, user, pair.Raw))
	s.record(ctx, user.ID, "user.reset_request", nil)
	return nil
}

// ValidateResetAccess checks a presented reset credential: token first,
// then the expiry window, so an expired link is reported distinctly.
func (s *Service) ValidateResetAccess(ctx context.Context, userID int64, raw string) (*User, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if user.ResetDigest == nil || !s.tokens.Verify(raw, *user.ResetDigest) {
		return nil, ErrInvalidToken
	}
	if user.ResetSentAt == nil || s.now().After(user.ResetSentAt.Add(resetWindow)) {
		return nil, ErrResetExpired
	}
	return user, nil
}

// CompleteReset sets a new password after re-validating the token. A
// password validation failure keeps the token alive so the same link can be
// retried; success clears it, making the link single-use.
func (s *Service) CompleteReset(ctx context.Context, userID int64, raw, password, confirmation string) (*User, error) {
	user, err := s.ValidateResetAccess(ctx, userID, raw)
	if err != nil {
		return nil, err
	}

	if verr := validatePassword(password, confirmation); len(verr) > 0 {
		return nil, verr
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), s.tokens.Cost())
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}
	if err := s.repo.UpdatePasswordClearReset(ctx, user.ID, string(passwordHash)); err != nil {
		return nil, fmt.Errorf("auth: update password: %w", err)
	}
	user.PasswordHash = string(passwordHash)
	user.ResetDigest = nil
	user.ResetSentAt = nil

	s.record(ctx, user.ID, "user.reset_complete", nil)
	return user, nil
}

// RegisterSession persists the session audit row in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session audit row from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}

// NormalizeEmail lowercases and trims an address before any lookup or write.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) validateRegister(in RegisterInput) ValidationError {
	verr := ValidationError{}
	if in.Name == "" {
		verr["name"] = "can't be blank"
	} else if utf8.RuneCountInString(in.Name) > maxNameLen {
		verr["name"] = fmt.Sprintf("is too long (maximum is %d characters)", maxNameLen)
	}
	if in.Email == "" {
		verr["email"] = "can't be blank"
	} else if utf8.RuneCountInString(in.Email) > maxEmailLen {
		verr["email"] = fmt.Sprintf("is too long (maximum is %d characters)", maxEmailLen)
	} else if err := s.validate.Var(in.Email, "email"); err != nil {
		verr["email"] = "is invalid"
	}
	for field, msg := range validatePassword(in.Password, in.PasswordConfirmation) {
		verr[field] = msg
	}
	return verr
}

func validatePassword(password, confirmation string) ValidationError {
	verr := ValidationError{}
	if password == "" {
		verr["password"] = "can't be blank"
	} else if utf8.RuneCountInString(password) < minPasswordLen {
		verr["password"] = fmt.Sprintf("is too short (minimum is %d characters)", minPasswordLen)
	} else if len(password) > maxPasswordBytes {
		verr["password"] = fmt.Sprintf("is too long (maximum is %d bytes)", maxPasswordBytes)
	}
	if password != confirmation {
		verr["password_confirmation"] = "doesn't match password"
	}
	return verr
}

func (s *Service) deliver(email mailer.Email) {
	if s.mail == nil {
		return
	}
	if err := s.mail.Send(email); err != nil {
		s.logger.Warn("send mail", slog.String("subject", email.Subject), slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, userID int64, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  userID,
		Action:   action,
		Entity:   "user",
		EntityID: strconv.FormatInt(userID, 10),
		Meta:     meta,
		At:       s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

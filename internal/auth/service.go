// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/logging"
	"github.com/holomush/authd/pkg/errutil"
)

// Deps are the collaborators a Service is built from. All but Notifier are required.
type Deps struct {
	Accounts AccountRepository
	Tokens   RefreshTokenRepository
	Tx       Transactor
	Cache    Cache
	Hasher   PasswordHasher
	Signer   AccessTokenSigner

	// Mailer delivers messages whose delivery is the purpose of the call
	// (reset codes, generated passwords).
	Mailer Mailer

	// Notifier delivers messages that must not fail the call (verification).
	// Nil uses Mailer.
	Notifier Mailer
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Nil is ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records counters on m.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock replaces time.Now for every component.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRevokeOnReuse controls revoke-all on presentation of a rotated token.
func WithRevokeOnReuse(enabled bool) Option {
	return func(s *Service) { s.revokeOnReuse = enabled }
}

// WithRevokeSessionsOnReset controls revoke-all after a password reset.
func WithRevokeSessionsOnReset(enabled bool) Option {
	return func(s *Service) { s.revokeOnReset = enabled }
}

// WithMaxFailedAttempts overrides MaxFailedAttempts.
func WithMaxFailedAttempts(n int) Option {
	return func(s *Service) { s.maxAttempts = n }
}

// WithAllowedEmailDomains restricts registration to email domains matching
// any of the glob patterns (for example "*.example.com").
func WithAllowedEmailDomains(patterns ...string) Option {
	return func(s *Service) { s.domainPatterns = append(s.domainPatterns, patterns...) }
}

// Service orchestrates login, refresh, logout, registration and password
// reset over the credential, token and reset components.
type Service struct {
	accounts AccountRepository
	tokens   RefreshTokenRepository
	tx       Transactor
	cache    Cache
	hasher   PasswordHasher
	notifier Mailer

	throttle *LoginThrottle
	verifier *CredentialVerifier
	issuer   *TokenIssuer
	rotation *RotationEngine
	reset    *PasswordResetFlow
	signer   AccessTokenSigner

	logger         *slog.Logger
	metrics        *Metrics
	now            func() time.Time
	revokeOnReuse  bool
	revokeOnReset  bool
	maxAttempts    int
	domainPatterns []string
	domains        []glob.Glob
}

// NewService creates a Service. It fails with AUTH_DEPENDENCY_MISSING if a
// required collaborator is nil.
func NewService(deps Deps, opts ...Option) (*Service, error) {
	missing := []string{}
	check := func(name string, isNil bool) {
		if isNil {
			missing = append(missing, name)
		}
	}
	check("accounts", deps.Accounts == nil)
	check("tokens", deps.Tokens == nil)
	check("tx", deps.Tx == nil)
	check("cache", deps.Cache == nil)
	check("hasher", deps.Hasher == nil)
	check("signer", deps.Signer == nil)
	check("mailer", deps.Mailer == nil)
	if len(missing) > 0 {
		return nil, oops.Code(CodeDependencyMissing).
			With("missing", missing).
			Errorf("missing dependencies: %s", strings.Join(missing, ", "))
	}

	s := &Service{
		accounts:      deps.Accounts,
		tokens:        deps.Tokens,
		tx:            deps.Tx,
		cache:         deps.Cache,
		hasher:        deps.Hasher,
		signer:        deps.Signer,
		notifier:      deps.Notifier,
		logger:        slog.Default(),
		now:           time.Now,
		revokeOnReuse: true,
		revokeOnReset: true,
	}
	if s.notifier == nil {
		s.notifier = deps.Mailer
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, pattern := range s.domainPatterns {
		g, err := glob.Compile(strings.ToLower(pattern), '.')
		if err != nil {
			return nil, oops.Code("AUTH_CONFIG_INVALID").
				With("pattern", pattern).
				Wrap(err)
		}
		s.domains = append(s.domains, g)
	}

	s.throttle = NewLoginThrottle(deps.Accounts, s.maxAttempts)

	s.verifier = NewCredentialVerifier(deps.Accounts, deps.Hasher, s.throttle, s.logger)
	s.verifier.now = s.now

	s.issuer = NewTokenIssuer(deps.Signer, deps.Tokens)
	s.issuer.now = s.now

	s.rotation = NewRotationEngine(deps.Tokens, deps.Accounts, s.issuer, deps.Tx, s.logger)
	s.rotation.now = s.now
	s.rotation.metrics = s.metrics
	s.rotation.SetRevokeOnReuse(s.revokeOnReuse)

	s.reset = NewPasswordResetFlow(deps.Accounts, deps.Cache, deps.Hasher, deps.Mailer, s.rotation, s.logger)
	s.reset.now = s.now
	s.reset.metrics = s.metrics
	s.reset.throttle = s.throttle
	s.reset.SetRevokeSessions(s.revokeOnReset)

	return s, nil
}

// Rotation exposes the rotation engine for callers that need token state directly.
func (s *Service) Rotation() *RotationEngine {
	return s.rotation
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	AccountID    ulid.ULID
	Roles        []string
}

// Login authenticates identifier/password and issues a token pair.
// AUTH_ACCOUNT_INACTIVE is reported as AUTH_INVALID_CREDENTIALS.
func (s *Service) Login(ctx context.Context, identifier, password, ip string) (*LoginResult, error) {
	result, err := s.login(ctx, identifier, password, ip)
	s.metrics.login(err)
	return result, err
}

func (s *Service) login(ctx context.Context, identifier, password, ip string) (*LoginResult, error) {
	account, err := s.verifier.Authenticate(ctx, identifier, password)
	if HasCode(err, CodeAccountInactive) {
		return nil, invalidCredentials()
	}
	if err != nil {
		return nil, err
	}

	access, err := s.issuer.IssueAccessToken(account)
	if err != nil {
		return nil, err
	}
	refresh, _, err := s.issuer.IssueRefreshToken(ctx, account.ID, ip)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "login succeeded", "account_id", account.ID.String())
	return &LoginResult{
		AccessToken:  access.Value,
		RefreshToken: refresh,
		ExpiresAt:    access.ExpiresAt,
		AccountID:    account.ID,
		Roles:        append([]string(nil), account.Roles...),
	}, nil
}

// RefreshResult is returned by a successful Refresh.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Refresh rotates refreshToken into a new pair.
func (s *Service) Refresh(ctx context.Context, refreshToken, ip string) (*RefreshResult, error) {
	pair, err := s.rotation.Rotate(ctx, refreshToken, ip)
	if err != nil {
		return nil, err
	}
	return &RefreshResult{
		AccessToken:  pair.AccessToken.Value,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.AccessToken.ExpiresAt,
	}, nil
}

// Logout revokes refreshToken. Unknown and already-revoked tokens also report
// true so callers learn nothing about token state; only infrastructure
// failures return an error.
func (s *Service) Logout(ctx context.Context, refreshToken string) (bool, error) {
	err := s.rotation.RevokeExplicit(ctx, refreshToken)
	switch {
	case err == nil:
		return true, nil
	case HasCode(err, CodeTokenNotFound), HasCode(err, CodeTokenRevoked):
		s.logger.DebugContext(ctx, "logout of inactive refresh token", "code", Code(err))
		return true, nil
	default:
		errutil.LogErrorContext(ctx, s.logger, "logout failed", err)
		return false, err
	}
}

// RegisterResult is returned by a successful Register.
type RegisterResult struct {
	AccountID    ulid.ULID
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Register creates an active, unverified account and its first refresh token
// in one unit of work, then hands a verification email to the Notifier.
// Verification delivery failures are logged and never fail registration.
func (s *Service) Register(ctx context.Context, username, password, email, ip string) (*RegisterResult, error) {
	result, err := s.register(ctx, username, password, email, ip)
	s.metrics.registration(err)
	return result, err
}

func (s *Service) register(ctx context.Context, username, password, email, ip string) (*RegisterResult, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := s.checkEmailDomain(normalized); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	account, err := NewAccount(username, normalized, hash, s.now())
	if err != nil {
		return nil, err
	}
	refresh, record, err := s.issuer.MintRefreshToken(account.ID, ip)
	if err != nil {
		return nil, err
	}
	access, err := s.issuer.IssueAccessToken(account)
	if err != nil {
		return nil, err
	}

	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.accounts.Create(ctx, account); err != nil {
			return err
		}
		return s.tokens.Create(ctx, record)
	})
	if errors.Is(err, ErrAlreadyExists) {
		return nil, oops.Code(CodeAccountExists).
			With("username", username).
			Errorf("username or email is already registered")
	}
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create account and token").
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "account registered",
		"account_id", account.ID.String(),
		logging.Identifier("email", account.Email))

	s.sendVerification(ctx, account)

	return &RegisterResult{
		AccountID:    account.ID,
		AccessToken:  access.Value,
		RefreshToken: refresh,
		ExpiresAt:    access.ExpiresAt,
	}, nil
}

func (s *Service) checkEmailDomain(email string) error {
	if len(s.domains) == 0 {
		return nil
	}
	_, domain, _ := strings.Cut(email, "@")
	for _, g := range s.domains {
		if g.Match(domain) {
			return nil
		}
	}
	return oops.Code(CodeEmailDomainNotAllowed).
		With("domain", domain).
		Errorf("email domain %q is not allowed", domain)
}

func (s *Service) sendVerification(ctx context.Context, account *Account) {
	token, err := issueVerification(ctx, s.cache, account, s.now())
	if err != nil {
		errutil.LogBestEffort(ctx, s.logger, "issue_verification", err, "account_id", account.ID.String())
		return
	}
	if err := s.notifier.SendVerification(ctx, account.Email, token); err != nil {
		errutil.LogBestEffort(ctx, s.logger, "send_verification", err, "account_id", account.ID.String())
	}
}

// ResendVerification issues a fresh verification email for an unverified account.
func (s *Service) ResendVerification(ctx context.Context, accountID ulid.ULID) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return oops.Code("VERIFY_RESEND_FAILED").
			With("operation", "get account").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	if account.EmailVerified {
		return nil
	}
	token, err := issueVerification(ctx, s.cache, account, s.now())
	if err != nil {
		return err
	}
	if err := s.notifier.SendVerification(ctx, account.Email, token); err != nil {
		return recode(CodeDeliveryFailed, "send verification", err).
			With("account_id", accountID.String()).
			Wrapf(opaque(err), "verification delivery failed")
	}
	return nil
}

// VerifyEmail consumes a verification token and marks the account verified.
func (s *Service) VerifyEmail(ctx context.Context, token string) (ulid.ULID, error) {
	ticket, err := consumeVerification(ctx, s.cache, token, s.now())
	if err != nil {
		return ulid.ULID{}, err
	}
	err = s.accounts.MarkEmailVerified(ctx, ticket.AccountID)
	if errors.Is(err, ErrNotFound) {
		return ulid.ULID{}, oops.Code(CodeVerificationInvalid).Errorf("verification token is invalid or expired")
	}
	if err != nil {
		return ulid.ULID{}, oops.Code("VERIFY_EMAIL_FAILED").
			With("operation", "mark email verified").
			With("account_id", ticket.AccountID.String()).
			Wrap(err)
	}
	return ticket.AccountID, nil
}

// ForgotResult is returned by ForgotPassword.
type ForgotResult struct {
	Message string
}

// ForgotPassword requests a reset code for email. Unknown emails get the same
// message and no error.
func (s *Service) ForgotPassword(ctx context.Context, email string) (*ForgotResult, error) {
	msg, err := s.reset.RequestReset(ctx, email)
	if err != nil {
		return nil, err
	}
	return &ForgotResult{Message: msg}, nil
}

// ResetPassword completes a password reset.
func (s *Service) ResetPassword(ctx context.Context, req ResetRequest) (*ResetResult, error) {
	return s.reset.CompleteReset(ctx, req)
}

// ValidateAccessToken checks an access token's signature and expiry.
func (s *Service) ValidateAccessToken(token string) (*AccessClaims, error) {
	claims, err := s.signer.Parse(token)
	if err != nil {
		return nil, recode(CodeAccessTokenInvalid, "parse access token", err).
			Wrapf(opaque(err), "access token is invalid")
	}
	return claims, nil
}

// RevokeAll revokes every refresh token of accountID.
func (s *Service) RevokeAll(ctx context.Context, accountID ulid.ULID) (int64, error) {
	return s.rotation.RevokeAllForAccount(ctx, accountID, ReasonAdmin)
}

// Unlock clears the failed-attempt counter of identifier. When identifier
// names an account, the counters of both its email and username are cleared.
func (s *Service) Unlock(ctx context.Context, identifier string) error {
	account, err := s.accounts.GetByIdentifier(ctx, NormalizeIdentifier(identifier))
	switch {
	case err == nil:
		if err := s.throttle.ResetAccount(ctx, account); err != nil {
			return err
		}
	case errors.Is(err, ErrNotFound):
		if err := s.throttle.Reset(ctx, identifier); err != nil {
			return err
		}
	default:
		return oops.Code("AUTH_UNLOCK_FAILED").
			With("operation", "get account by identifier").
			Wrap(err)
	}
	s.logger.InfoContext(ctx, "identifier unlocked", logging.Identifier("identifier", identifier))
	return nil
}

// ListSessions returns the refresh tokens of accountID, newest first.
func (s *Service) ListSessions(ctx context.Context, accountID ulid.ULID) ([]*RefreshToken, error) {
	return s.rotation.ListForAccount(ctx, accountID)
}

// PurgeExpired deletes refresh tokens that expired more than retention ago.
func (s *Service) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	return s.rotation.PurgeExpired(ctx, retention)
}

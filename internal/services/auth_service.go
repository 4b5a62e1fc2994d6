package services

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/soaringjerry/Quill/internal/models"
)

type AuthStore interface {
	AddUser(ctx context.Context, u *models.User) error
	// AddUserFirstAdmin inserts u and stores it as admin when no user exists
	// yet; the emptiness check and the insert are one atomic step. It reports
	// whether u was promoted.
	AddUserFirstAdmin(ctx context.Context, u *models.User) (bool, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	CountUsers(ctx context.Context) (int, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
	SoftDeleteUser(ctx context.Context, id string) (bool, error)
	AddAudit(ctx context.Context, e models.AuditEntry) error
}

type TokenSigner func(uid string, role models.Role, ttl time.Duration) (string, error)

// Identity is the authenticated caller as seen by every service.
type Identity struct {
	UserID    string
	Role      models.Role
	Anonymous bool
}

// HasRole reports whether the caller holds one of roles.
func (id Identity) HasRole(roles ...models.Role) bool {
	for _, r := range roles {
		if id.Role == r {
			return true
		}
	}
	return false
}

func requireRole(id Identity, roles ...models.Role) error {
	if !id.HasRole(roles...) {
		return NewForbiddenError("forbidden")
	}
	return nil
}

type AuthService struct {
	store     AuthStore
	now       func() time.Time
	idGen     func() string
	signToken TokenSigner
	tokenTTL  time.Duration
}

type AuthResult struct {
	Token  string      `json:"token"`
	UserID string      `json:"user_id"`
	Role   models.Role `json:"role"`
}

type RegisterRequest struct {
	Name      string
	Email     string
	Password  string
	Anonymous bool
}

type CreateUserRequest struct {
	RegisterRequest
	Role models.Role
}

func NewAuthService(store AuthStore, signer TokenSigner, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &AuthService{
		store:     store,
		now:       func() time.Time { return time.Now().UTC() },
		idGen:     uuid.NewString,
		signToken: signer,
		tokenTTL:  ttl,
	}
}

// Authenticate resolves a verified token subject to a live identity.
func (s *AuthService) Authenticate(ctx context.Context, uid string) (Identity, error) {
	if strings.TrimSpace(uid) == "" {
		return Identity{}, NewUnauthorizedError("unauthorized")
	}
	u, err := s.store.GetUser(ctx, uid)
	if err != nil {
		return Identity{}, err
	}
	if u == nil || u.Deleted {
		return Identity{}, NewUnauthorizedError("unauthorized")
	}
	return Identity{UserID: u.ID, Role: u.Role, Anonymous: u.Anonymous}, nil
}

// Register creates a self-service account. The very first account becomes admin.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*AuthResult, error) {
	u, err := s.createUser(ctx, req, models.RoleStudent, func(ctx context.Context, u *models.User) error {
		promoted, err := s.store.AddUserFirstAdmin(ctx, u)
		if promoted {
			u.Role = models.RoleAdmin
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.issue(u)
}

// CreateUser lets an admin provision an account with any role.
func (s *AuthService) CreateUser(ctx context.Context, actor Identity, req CreateUserRequest) (*models.User, error) {
	if err := requireRole(actor, models.RoleAdmin); err != nil {
		return nil, err
	}
	if !req.Role.Valid() {
		return nil, NewInvalidError("unknown role")
	}
	return s.createUser(ctx, req.RegisterRequest, req.Role, s.store.AddUser)
}

func (s *AuthService) createUser(ctx context.Context, req RegisterRequest, role models.Role, insert func(context.Context, *models.User) error) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || strings.TrimSpace(req.Password) == "" {
		return nil, NewInvalidError("email/password required")
	}
	existing, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, NewConflictError("email exists")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := &models.User{
		ID:        s.idGen(),
		Name:      strings.TrimSpace(req.Name),
		Email:     email,
		PassHash:  hash,
		Role:      role,
		Anonymous: req.Anonymous,
		CreatedAt: s.now(),
	}
	if err := insert(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, NewConflictError("email exists")
		}
		return nil, err
	}
	return u, nil
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || strings.TrimSpace(password) == "" {
		return nil, NewInvalidError("email/password required")
	}
	u, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil || u.Deleted {
		return nil, NewUnauthorizedError("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword(u.PassHash, []byte(password)); err != nil {
		return nil, NewUnauthorizedError("invalid credentials")
	}
	return s.issue(u)
}

func (s *AuthService) issue(u *models.User) (*AuthResult, error) {
	if s.signToken == nil {
		return nil, NewInvalidError("token signer not configured")
	}
	token, err := s.signToken(u.ID, u.Role, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, UserID: u.ID, Role: u.Role}, nil
}

func (s *AuthService) Me(ctx context.Context, actor Identity) (*models.User, error) {
	u, err := s.store.GetUser(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, NewNotFoundError("user not found")
	}
	return u, nil
}

func (s *AuthService) ListUsers(ctx context.Context, actor Identity) ([]*models.User, error) {
	if err := requireRole(actor, models.RoleAdmin); err != nil {
		return nil, err
	}
	return s.store.ListUsers(ctx)
}

// DeleteUser soft-deletes an account; its responses stay for aggregation history.
func (s *AuthService) DeleteUser(ctx context.Context, actor Identity, id string) error {
	if err := requireRole(actor, models.RoleAdmin); err != nil {
		return err
	}
	if id == actor.UserID {
		return NewInvalidError("cannot delete own account")
	}
	ok, err := s.store.SoftDeleteUser(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return NewNotFoundError("user not found")
	}
	audit(ctx, s.store, models.AuditEntry{Time: s.now(), Actor: actor.UserID, Action: "delete_user", Target: id})
	return nil
}

func (s *AuthService) TokenTTL() time.Duration {
	return s.tokenTTL
}

type auditStore interface {
	AddAudit(ctx context.Context, e models.AuditEntry) error
}

func audit(ctx context.Context, store auditStore, e models.AuditEntry) {
	if err := store.AddAudit(ctx, e); err != nil {
		log.Printf("audit: %s %s: %v", e.Action, e.Target, err)
	}
}

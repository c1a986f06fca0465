package fund

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/mtlprog/quota/internal/domain"
	"github.com/mtlprog/quota/internal/ledger"
)

var (
	// ErrEmailTaken indicates that another client already uses the email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials indicates an unknown email, a wrong password or an inactive client.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrWeakPassword indicates a password shorter than MinPasswordLength.
	ErrWeakPassword = errors.New("password too short")
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

// Registration holds the data needed to create a client.
type Registration struct {
	Name     string
	Email    string
	Password string
	Role     domain.Role
}

// ClientService registers clients and checks their credentials.
type ClientService struct {
	store ledger.ClientRepository
	cost  int
}

// NewClientService creates a ClientService hashing passwords at bcrypt.DefaultCost.
func NewClientService(store ledger.ClientRepository) *ClientService {
	return &ClientService{store: store, cost: bcrypt.DefaultCost}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an active client. The role defaults to client.
func (s *ClientService) Register(ctx context.Context, r Registration) (domain.Client, error) {
	if len(r.Password) < MinPasswordLength {
		return domain.Client{}, ErrWeakPassword
	}
	if r.Role == "" {
		r.Role = domain.RoleClient
	}
	if !r.Role.Valid() {
		return domain.Client{}, fmt.Errorf("unknown role %q", r.Role)
	}
	email := normalizeEmail(r.Email)
	if email == "" || strings.TrimSpace(r.Name) == "" {
		return domain.Client{}, errors.New("name and email are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(r.Password), s.cost)
	if err != nil {
		return domain.Client{}, fmt.Errorf("hashing password: %w", err)
	}

	c, err := s.store.CreateClient(ctx, domain.Client{
		Name:           strings.TrimSpace(r.Name),
		Email:          email,
		CredentialHash: string(hash),
		Role:           r.Role,
		Active:         true,
	})
	if errors.Is(err, ledger.ErrConstraintViolation) {
		return domain.Client{}, fmt.Errorf("%w: %s", ErrEmailTaken, email)
	}
	if err != nil {
		return domain.Client{}, fmt.Errorf("creating client: %w", err)
	}
	slog.Info("client registered", "client", c.ID, "role", c.Role)
	return c, nil
}

// VerifyCredentials returns the active client matching email and password.
func (s *ClientService) VerifyCredentials(ctx context.Context, email, password string) (domain.Client, error) {
	c, err := s.store.GetClientByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, ledger.ErrNotFound) {
		return domain.Client{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.Client{}, fmt.Errorf("loading client: %w", err)
	}
	if !c.Active {
		return domain.Client{}, ErrInvalidCredentials
	}
	if !matchCredential(c.CredentialHash, password) {
		return domain.Client{}, ErrInvalidCredentials
	}
	return c, nil
}

// TODO: rehash legacy MD5 credentials with bcrypt on successful login once
// ClientRepository can update a client's credential.
func matchCredential(stored, password string) bool {
	if legacy, ok := strings.CutPrefix(stored, domain.LegacyMD5Prefix); ok {
		sum := md5.Sum([]byte(password))
		return subtle.ConstantTimeCompare([]byte(strings.ToLower(legacy)), []byte(hex.EncodeToString(sum[:]))) == 1
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
}

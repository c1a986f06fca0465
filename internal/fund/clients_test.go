package fund

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/mtlprog/quota/internal/domain"
	"github.com/mtlprog/quota/internal/ledger"
)

func newClientService() (*ClientService, *ledger.MemoryStore) {
	store := ledger.NewMemoryStore()
	svc := NewClientService(store)
	svc.cost = bcrypt.MinCost
	return svc, store
}

func TestRegisterAndVerify(t *testing.T) {
	ctx := context.Background()
	svc, _ := newClientService()

	c, err := svc.Register(ctx, Registration{Name: "Ana", Email: " Ana@Example.com ", Password: "s3cret-pass"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if c.Email != "ana@example.com" || c.Role != domain.RoleClient || !c.Active {
		t.Errorf("client = %+v", c)
	}
	if c.CredentialHash == "" || c.CredentialHash == "s3cret-pass" {
		t.Error("password not hashed")
	}

	got, err := svc.VerifyCredentials(ctx, "ANA@example.com", "s3cret-pass")
	if err != nil || got.ID != c.ID {
		t.Errorf("VerifyCredentials() = %+v, %v", got, err)
	}

	tests := []struct {
		name, email, password string
	}{
		{"wrong password", "ana@example.com", "nope-nope"},
		{"unknown email", "bob@example.com", "s3cret-pass"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.VerifyCredentials(ctx, tt.email, tt.password); !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("VerifyCredentials() error = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestRegisterRejects(t *testing.T) {
	ctx := context.Background()
	svc, _ := newClientService()

	if _, err := svc.Register(ctx, Registration{Name: "Ana", Email: "ana@example.com", Password: "short"}); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("weak password error = %v", err)
	}
	if _, err := svc.Register(ctx, Registration{Name: "Ana", Email: "ana@example.com", Password: "long-enough", Role: "root"}); err == nil {
		t.Error("expected unknown role error")
	}

	if _, err := svc.Register(ctx, Registration{Name: "Ana", Email: "ana@example.com", Password: "long-enough", Role: domain.RoleAdmin}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := svc.Register(ctx, Registration{Name: "Other", Email: "ANA@example.com", Password: "long-enough"}); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("duplicate email error = %v, want ErrEmailTaken", err)
	}
}

func TestVerifyInactiveClient(t *testing.T) {
	ctx := context.Background()
	svc, store := newClientService()

	hash, _ := bcrypt.GenerateFromPassword([]byte("long-enough"), bcrypt.MinCost)
	if _, err := store.CreateClient(ctx, domain.Client{Name: "Old", Email: "old@example.com", CredentialHash: string(hash), Role: domain.RoleClient}); err != nil {
		t.Fatalf("CreateClient() error = %v", err)
	}
	if _, err := svc.VerifyCredentials(ctx, "old@example.com", "long-enough"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("VerifyCredentials(inactive) error = %v, want ErrInvalidCredentials", err)
	}
}

func TestVerifyLegacyMD5Credential(t *testing.T) {
	ctx := context.Background()
	svc, store := newClientService()

	// md5("password")
	if _, err := store.CreateClient(ctx, domain.Client{
		Name: "Legacy", Email: "legacy@example.com", Active: true, Role: domain.RoleClient,
		CredentialHash: domain.LegacyMD5Prefix + "5F4DCC3B5AA765D61D8327DEB882CF99",
	}); err != nil {
		t.Fatalf("CreateClient() error = %v", err)
	}

	if _, err := svc.VerifyCredentials(ctx, "legacy@example.com", "password"); err != nil {
		t.Errorf("VerifyCredentials() error = %v", err)
	}
	if _, err := svc.VerifyCredentials(ctx, "legacy@example.com", "Password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("VerifyCredentials(wrong) error = %v, want ErrInvalidCredentials", err)
	}
}

package httpapi

import (
	"testing"
	"time"

	"partspos/internal/domain"
	"partspos/internal/store/memory"
)

func newTestAuth(t *testing.T) *AuthManager {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "admin123")
	t.Setenv("SEED_STAFF_PASSWORD", "staff123")
	repo := memory.NewSeeded()
	return NewAuthManager("test-secret-0123456789abcdef01234567", time.Hour, repo)
}

func TestLoginIssuesParsableToken(t *testing.T) {
	auth := newTestAuth(t)

	resp, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.Role != domain.RoleAdmin {
		t.Fatalf("expected admin role, got %s", resp.Role)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "admin" || actor.Role != domain.RoleAdmin {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	auth := newTestAuth(t)

	if _, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "wrong"}); err == nil {
		t.Fatalf("expected bad password to be rejected")
	}
	if _, err := auth.Login(domain.LoginRequest{Username: "nobody", Password: "admin123"}); err == nil {
		t.Fatalf("expected unknown user to be rejected")
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	auth := newTestAuth(t)
	other := NewAuthManager("a-completely-different-secret-value!", time.Hour, memory.NewSeeded())

	resp, err := other.Login(domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login on other manager: %v", err)
	}
	if _, err := auth.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with a different secret to be rejected")
	}
}

func TestVerifyDestructivePassword(t *testing.T) {
	auth := newTestAuth(t)
	staffActor := domain.Actor{Username: "staff", Role: domain.RoleStaff}
	adminActor := domain.Actor{Username: "admin", Role: domain.RoleAdmin}

	if !auth.VerifyDestructivePassword(adminActor, "admin123") {
		t.Fatalf("expected the acting admin's own password to verify")
	}
	// A manager may type their password on a staff member's screen.
	if !auth.VerifyDestructivePassword(staffActor, "admin123") {
		t.Fatalf("expected any admin password to authorize from a staff session")
	}
	if auth.VerifyDestructivePassword(staffActor, "staff123") {
		t.Fatalf("expected a staff password to be insufficient")
	}
	if auth.VerifyDestructivePassword(adminActor, "") {
		t.Fatalf("expected an empty password to fail")
	}
}

func TestCreateStaffValidation(t *testing.T) {
	auth := newTestAuth(t)

	if _, err := auth.CreateStaff(domain.StaffCreateRequest{Username: "ab", Password: "secret1"}); err == nil {
		t.Fatalf("expected short username to be rejected")
	}
	if _, err := auth.CreateStaff(domain.StaffCreateRequest{Username: "karim", Password: "12345"}); err == nil {
		t.Fatalf("expected short password to be rejected")
	}
	if _, err := auth.CreateStaff(domain.StaffCreateRequest{Username: "admin", Password: "secret1"}); err == nil {
		t.Fatalf("expected duplicate username to be rejected")
	}

	created, err := auth.CreateStaff(domain.StaffCreateRequest{Username: "Karim", Password: "secret1"})
	if err != nil {
		t.Fatalf("create staff: %v", err)
	}
	if created.Username != "karim" || created.Role != domain.RoleStaff {
		t.Fatalf("unexpected staff user %+v", created)
	}

	if _, err := auth.Login(domain.LoginRequest{Username: "karim", Password: "secret1"}); err != nil {
		t.Fatalf("expected new staff to log in: %v", err)
	}

	found := false
	for _, user := range auth.ListStaff() {
		if user.Username == "karim" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected karim in staff list")
	}
}

package accounts

import (
	"context"
	"errors"
	"testing"

	"github.com/painelssh/sshpanel/internal/apperr"
	"github.com/painelssh/sshpanel/internal/auth"
	"github.com/painelssh/sshpanel/internal/authz"
	"github.com/painelssh/sshpanel/internal/database"
)

func newService(t *testing.T) (*Service, *database.User) {
	t.Helper()
	db, err := database.OpenMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	hash, _ := auth.HashPassword("admin123")
	admin := &database.User{Username: "admin", PasswordHash: hash, Role: authz.RoleAdmin}
	if err := db.Create(admin).Error; err != nil {
		t.Fatalf("create admin: %v", err)
	}
	return NewService(db, auth.NewSessionStore()), admin
}

func mustCreate(t *testing.T, s *Service, actor authz.Actor, name string, role authz.Role) *database.User {
	t.Helper()
	u, err := s.Create(context.Background(), actor, CreateInput{Username: name, Password: "secret1", Role: role})
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	return u
}

func TestHierarchicalCreation(t *testing.T) {
	s, admin := newService(t)
	ctx := context.Background()

	res := mustCreate(t, s, admin.Actor(), "res", authz.RoleReseller)
	if res.ParentID == nil || *res.ParentID != admin.ID {
		t.Errorf("reseller parent = %v", res.ParentID)
	}
	sub := mustCreate(t, s, res.Actor(), "sub", authz.RoleSubReseller)
	cli := mustCreate(t, s, sub.Actor(), "cli", authz.RoleClient)
	if *cli.ParentID != sub.ID {
		t.Errorf("client parent = %d, want %d", *cli.ParentID, sub.ID)
	}

	denied := []struct {
		actor *database.User
		role  authz.Role
	}{
		{sub, authz.RoleSubReseller},
		{sub, authz.RoleReseller},
		{res, authz.RoleReseller},
		{cli, authz.RoleClient},
		{admin, authz.RoleAdmin},
	}
	for _, d := range denied {
		_, err := s.Create(ctx, d.actor.Actor(), CreateInput{Username: "x" + string(d.role), Password: "secret1", Role: d.role})
		if !errors.Is(err, apperr.ErrForbidden) {
			t.Errorf("%s creating %s: expected Forbidden, got %v", d.actor.Username, d.role, err)
		}
	}
}

func TestCreateValidation(t *testing.T) {
	s, admin := newService(t)
	ctx := context.Background()
	cases := []CreateInput{
		{Username: "ab", Password: "secret1", Role: authz.RoleClient},
		{Username: "bad name", Password: "secret1", Role: authz.RoleClient},
		{Username: "okname", Password: "123", Role: authz.RoleClient},
		{Username: "okname", Password: "secret1", Role: "revenda"},
	}
	for i, in := range cases {
		if _, err := s.Create(ctx, admin.Actor(), in); !apperr.IsValidation(err) {
			t.Errorf("case %d: expected validation error, got %v", i, err)
		}
	}
	mustCreate(t, s, admin.Actor(), "dup", authz.RoleClient)
	if _, err := s.Create(ctx, admin.Actor(), CreateInput{Username: "dup", Password: "secret1", Role: authz.RoleClient}); !apperr.IsValidation(err) {
		t.Errorf("duplicate username: %v", err)
	}
}

func TestAdminChoosesParent(t *testing.T) {
	s, admin := newService(t)
	ctx := context.Background()
	res := mustCreate(t, s, admin.Actor(), "res", authz.RoleReseller)
	cli := mustCreate(t, s, admin.Actor(), "cli", authz.RoleClient)

	u, err := s.Create(ctx, admin.Actor(), CreateInput{Username: "c2", Password: "secret1", Role: authz.RoleClient, ParentID: &res.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if *u.ParentID != res.ID {
		t.Errorf("parent = %d, want %d", *u.ParentID, res.ID)
	}
	_, err = s.Create(ctx, admin.Actor(), CreateInput{Username: "c3", Password: "secret1", Role: authz.RoleClient, ParentID: &cli.ID})
	if !apperr.IsValidation(err) {
		t.Errorf("client as parent: %v", err)
	}
}

func TestSetStatus(t *testing.T) {
	s, admin := newService(t)
	ctx := context.Background()
	res := mustCreate(t, s, admin.Actor(), "res", authz.RoleReseller)
	sub := mustCreate(t, s, res.Actor(), "sub", authz.RoleSubReseller)
	other := mustCreate(t, s, admin.Actor(), "res2", authz.RoleReseller)

	session, _ := s.sessions.Create(sub.ID)
	u, err := s.SetStatus(ctx, res.Actor(), sub.ID, database.StatusSuspended)
	if err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if u.Status != database.StatusSuspended {
		t.Errorf("status = %s", u.Status)
	}
	if _, ok := s.sessions.Get(session); ok {
		t.Error("suspended user kept its session")
	}
	if _, err := s.Authenticate(ctx, "sub", "secret1"); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("suspended login: %v", err)
	}

	if _, err := s.SetStatus(ctx, other.Actor(), sub.ID, database.StatusActive); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("foreign reseller: %v", err)
	}
	if _, err := s.SetStatus(ctx, admin.Actor(), admin.ID, database.StatusSuspended); !apperr.IsValidation(err) {
		t.Errorf("self suspend: %v", err)
	}
}

func TestAuthenticateAndChangePassword(t *testing.T) {
	s, admin := newService(t)
	ctx := context.Background()

	if _, err := s.Authenticate(ctx, "admin", "wrong"); !apperr.IsValidation(err) {
		t.Errorf("wrong password: %v", err)
	}
	if _, err := s.Authenticate(ctx, "nobody", "admin123"); !apperr.IsValidation(err) {
		t.Errorf("unknown user: %v", err)
	}
	if err := s.ChangePassword(ctx, admin.Actor(), "wrong", "newpass1"); !apperr.IsValidation(err) {
		t.Errorf("bad current password: %v", err)
	}
	if err := s.ChangePassword(ctx, admin.Actor(), "admin123", "newpass1"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, err := s.Authenticate(ctx, "admin", "newpass1"); err != nil {
		t.Errorf("login with new password: %v", err)
	}
}

func TestListScoped(t *testing.T) {
	s, admin := newService(t)
	res := mustCreate(t, s, admin.Actor(), "res", authz.RoleReseller)
	mustCreate(t, s, res.Actor(), "sub", authz.RoleSubReseller)
	mustCreate(t, s, admin.Actor(), "res2", authz.RoleReseller)

	users, err := s.List(context.Background(), res.Actor())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(users) != 2 {
		t.Errorf("reseller sees %d accounts, want 2", len(users))
	}
}

func TestCreateAdminFirstOnly(t *testing.T) {
	db, err := database.OpenMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	s := NewService(db, nil)
	ctx := context.Background()

	u, err := s.CreateAdmin(ctx, "root", "toor123", true)
	if err != nil {
		t.Fatalf("first admin: %v", err)
	}
	if u.Role != authz.RoleAdmin || u.ParentID != nil {
		t.Errorf("admin = %+v", u)
	}
	if _, err := s.CreateAdmin(ctx, "second", "toor123", true); !errors.Is(err, ErrSetupDone) {
		t.Errorf("second setup err = %v, want ErrSetupDone", err)
	}
	if _, err := s.CreateAdmin(ctx, "second", "toor123", false); err != nil {
		t.Errorf("command line admin: %v", err)
	}
	if _, err := s.CreateAdmin(ctx, "second", "toor123", false); !apperr.IsValidation(err) {
		t.Errorf("duplicate admin err = %v", err)
	}
}

func TestResetPasswordEndsSessions(t *testing.T) {
	s, admin := newService(t)
	ctx := context.Background()
	token, _ := s.sessions.Create(admin.ID)

	if err := s.ResetPassword(ctx, "admin", "newpass1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, ok := s.sessions.Get(token); ok {
		t.Error("old session should be gone")
	}
	if _, err := s.Authenticate(ctx, "admin", "newpass1"); err != nil {
		t.Errorf("login with new password: %v", err)
	}
	if err := s.ResetPassword(ctx, "nobody", "newpass1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown user err = %v", err)
	}
}

package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tidecrate/storefront/internal/users"
	pkgAuth "github.com/tidecrate/storefront/pkg/auth"
	"github.com/tidecrate/storefront/pkg/auth/session"
	"github.com/tidecrate/storefront/pkg/config"
	"github.com/tidecrate/storefront/pkg/db/models"
	"github.com/tidecrate/storefront/pkg/enums"
	pkgerrors "github.com/tidecrate/storefront/pkg/errors"
	"github.com/tidecrate/storefront/pkg/security"
)

var testJWT = config.JWTConfig{
	Secret:            "secret",
	Issuer:            "tidecrate",
	ExpirationMinutes: 30,
}

var testPassword = config.PasswordConfig{
	ArgonMemoryKB:    8 * 1024,
	ArgonTime:        1,
	ArgonParallelism: 1,
	ArgonSaltLen:     16,
	ArgonKeyLen:      32,
}

type stubUserRepo struct {
	byEmail   map[string]*models.User
	accounts  map[uuid.UUID]*users.Account
	createErr error
	lastLogin map[uuid.UUID]time.Time
}

func newStubUserRepo() *stubUserRepo {
	return &stubUserRepo{
		byEmail:   map[string]*models.User{},
		accounts:  map[uuid.UUID]*users.Account{},
		lastLogin: map[uuid.UUID]time.Time{},
	}
}

func (r *stubUserRepo) add(email, password string, role enums.AppRole) *models.User {
	hash, err := security.HashPassword(password, testPassword)
	if err != nil {
		panic(err)
	}
	user := &models.User{ID: uuid.New(), Email: email, PasswordHash: hash}
	r.byEmail[email] = user
	r.accounts[user.ID] = &users.Account{User: *user, Profile: &models.Profile{UserID: user.ID, FullName: "Test"}, Role: role}
	return user
}

func (r *stubUserRepo) Create(_ context.Context, dto users.CreateUserDTO) (*users.Account, error) {
	if r.createErr != nil {
		return nil, r.createErr
	}
	user := models.User{ID: uuid.New(), Email: dto.Email, PasswordHash: dto.PasswordHash}
	account := &users.Account{User: user, Profile: &models.Profile{UserID: user.ID, FullName: dto.FullName}, Role: dto.Role}
	r.byEmail[dto.Email] = &user
	r.accounts[user.ID] = account
	return account, nil
}

func (r *stubUserRepo) FindByEmail(_ context.Context, email string) (*models.User, error) {
	if user, ok := r.byEmail[email]; ok {
		return user, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubUserRepo) FindAccount(_ context.Context, id uuid.UUID) (*users.Account, error) {
	if account, ok := r.accounts[id]; ok {
		return account, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubUserRepo) UpdateLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	r.lastLogin[id] = at
	return nil
}

func (r *stubUserRepo) UpdatePasswordHash(_ context.Context, id uuid.UUID, hash string) error {
	for _, u := range r.byEmail {
		if u.ID == id {
			u.PasswordHash = hash
		}
	}
	return nil
}

type stubSessions struct {
	grants  map[string]session.Grant
	revoked []string
}

func newStubSessions() *stubSessions {
	return &stubSessions{grants: map[string]session.Grant{}}
}

func (s *stubSessions) Issue(_ context.Context, userID uuid.UUID) (session.Grant, error) {
	grant := session.Grant{AccessID: uuid.NewString(), RefreshToken: uuid.NewString(), UserID: userID}
	s.grants[grant.AccessID] = grant
	return grant, nil
}

func (s *stubSessions) Rotate(ctx context.Context, oldAccessID, provided string) (session.Grant, error) {
	old, ok := s.grants[oldAccessID]
	if !ok || old.RefreshToken != provided {
		return session.Grant{}, session.ErrInvalidRefreshToken
	}
	delete(s.grants, oldAccessID)
	return s.Issue(ctx, old.UserID)
}

func (s *stubSessions) Revoke(_ context.Context, accessID string) error {
	s.revoked = append(s.revoked, accessID)
	delete(s.grants, accessID)
	return nil
}

func buildService(t *testing.T) (Service, *stubUserRepo, *stubSessions) {
	t.Helper()
	repo := newStubUserRepo()
	sessions := newStubSessions()
	svc, err := NewService(ServiceParams{
		UserRepo:       repo,
		SessionManager: sessions,
		JWTConfig:      testJWT,
		PasswordConfig: testPassword,
	})
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	return svc, repo, sessions
}

func TestSigninMintsRoleClaim(t *testing.T) {
	svc, repo, _ := buildService(t)
	admin := repo.add("ops@tidecrate.test", "harbour42", enums.AppRoleAdmin)

	resp, err := svc.Signin(context.Background(), SigninRequest{Email: " OPS@tidecrate.test ", Password: "harbour42"})
	if err != nil {
		t.Fatalf("signin: %v", err)
	}
	claims, err := pkgAuth.ParseAccessToken(testJWT, resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.Role != enums.AppRoleAdmin || claims.UserID != admin.ID {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if resp.RefreshToken == "" {
		t.Fatal("expected refresh token")
	}
	if _, ok := repo.lastLogin[admin.ID]; !ok {
		t.Fatal("expected last login to be recorded")
	}
}

func TestSigninRejectsBadCredentials(t *testing.T) {
	svc, repo, _ := buildService(t)
	repo.add("c@tidecrate.test", "harbour42", enums.AppRoleCustomer)

	for _, req := range []SigninRequest{
		{Email: "c@tidecrate.test", Password: "wrong"},
		{Email: "missing@tidecrate.test", Password: "harbour42"},
		{Email: "", Password: "harbour42"},
	} {
		_, err := svc.Signin(context.Background(), req)
		if !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
			t.Fatalf("%+v: expected unauthorized, got %v", req, err)
		}
	}
}

func TestSignupCreatesCustomerSession(t *testing.T) {
	svc, _, _ := buildService(t)

	resp, err := svc.Signup(context.Background(), SignupRequest{
		Email:    "New@Tidecrate.test",
		Password: "lobster2026",
		FullName: "New Customer",
	})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if resp.User.Email != "new@tidecrate.test" || resp.User.Role != enums.AppRoleCustomer {
		t.Fatalf("unexpected user %+v", resp.User)
	}
	if resp.User.LastLoginAt == nil {
		t.Fatal("expected last login to be set")
	}
}

func TestSignupValidation(t *testing.T) {
	svc, repo, _ := buildService(t)

	_, err := svc.Signup(context.Background(), SignupRequest{Email: "a@b.test", Password: "short", FullName: "A"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected weak password validation error, got %v", err)
	}

	repo.createErr = errors.New(`ERROR: duplicate key value violates unique constraint "users_email_key"`)
	_, err = svc.Signup(context.Background(), SignupRequest{Email: "a@b.test", Password: "lobster2026", FullName: "A"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict on duplicate email, got %v", err)
	}
}

func TestRefreshRotatesAndRejectsReplay(t *testing.T) {
	svc, repo, _ := buildService(t)
	repo.add("c@tidecrate.test", "harbour42", enums.AppRoleCustomer)

	first, err := svc.Signin(context.Background(), SigninRequest{Email: "c@tidecrate.test", Password: "harbour42"})
	if err != nil {
		t.Fatalf("signin: %v", err)
	}
	second, err := svc.Refresh(context.Background(), RefreshRequest{AccessToken: first.AccessToken, RefreshToken: first.RefreshToken})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("expected rotated refresh token")
	}

	_, err = svc.Refresh(context.Background(), RefreshRequest{AccessToken: first.AccessToken, RefreshToken: first.RefreshToken})
	if !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("expected replay to be unauthorized, got %v", err)
	}
}

func TestSignoutRevokes(t *testing.T) {
	svc, _, sessions := buildService(t)
	if err := svc.Signout(context.Background(), "access-1"); err != nil {
		t.Fatalf("signout: %v", err)
	}
	if len(sessions.revoked) != 1 || sessions.revoked[0] != "access-1" {
		t.Fatalf("expected revoke, got %v", sessions.revoked)
	}
	if err := svc.Signout(context.Background(), ""); !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized for empty session, got %v", err)
	}
}

func TestSessionReturnsProfile(t *testing.T) {
	svc, repo, _ := buildService(t)
	user := repo.add("c@tidecrate.test", "harbour42", enums.AppRoleCustomer)

	dto, err := svc.Session(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if dto.FullName != "Test" {
		t.Fatalf("unexpected dto %+v", dto)
	}
	if _, err := svc.Session(context.Background(), uuid.New()); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSigninUpgradesStaleHash(t *testing.T) {
	svc, repo, _ := buildService(t)
	user := repo.add("legacy@tidecrate.test", "harbour42", enums.AppRoleCustomer)

	weaker := testPassword
	weaker.ArgonKeyLen = 16
	stale, err := security.HashPassword("harbour42", weaker)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	user.PasswordHash = stale

	if _, err := svc.Signin(context.Background(), SigninRequest{Email: "legacy@tidecrate.test", Password: "harbour42"}); err != nil {
		t.Fatalf("signin: %v", err)
	}
	if user.PasswordHash == stale {
		t.Fatal("expected stale hash to be replaced")
	}
	if security.NeedsRehash(user.PasswordHash, testPassword) {
		t.Fatal("expected upgraded hash to match current settings")
	}
}

package services

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/artistdir/internal/common"
	"github.com/dmitrijs2005/artistdir/internal/dbx"
	"github.com/dmitrijs2005/artistdir/internal/server/identity"
	"github.com/dmitrijs2005/artistdir/internal/server/models"
	"github.com/dmitrijs2005/artistdir/internal/server/repositories/ownership"
	"github.com/dmitrijs2005/artistdir/internal/server/repositories/users"
)

// --- helpers ---

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func strp(s string) *string { return &s }
func intp(i int) *int       { return &i }

// fakeStore is an in-memory users/ownership store shared by every
// repository the fake manager vends.
type fakeStore struct {
	mu    sync.Mutex
	users map[string]*models.User

	artists       map[string]string // artist id -> added_by
	contributions map[string]string // research id -> user_id

	calls   int
	createN int

	getErr       error
	createErr    error
	backfillErr  error
	setWalletErr error
	applyErr     error
	deleteErr    error
	reassignErr  error
}

func newFakeStore(us ...*models.User) *fakeStore {
	s := &fakeStore{
		users:         map[string]*models.User{},
		artists:       map[string]string{},
		contributions: map[string]string{},
	}
	for _, u := range us {
		s.users[u.ID] = u
	}
	return s
}

func (s *fakeStore) hit() {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
}

func clone(u *models.User) *models.User {
	c := *u
	return &c
}

type fakeUsers struct{ s *fakeStore }

func (f *fakeUsers) find(match func(*models.User) bool) (*models.User, error) {
	f.s.hit()
	if f.s.getErr != nil {
		return nil, f.s.getErr
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, u := range f.s.users {
		if match(u) {
			return clone(u), nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	return f.find(func(u *models.User) bool { return u.ID == id })
}

func (f *fakeUsers) GetByIDForUpdate(ctx context.Context, id string) (*models.User, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeUsers) GetByExternalID(_ context.Context, externalID string) (*models.User, error) {
	return f.find(func(u *models.User) bool {
		return u.ExternalIdentityID != nil && *u.ExternalIdentityID == externalID
	})
}

func (f *fakeUsers) GetByWallet(_ context.Context, w string) (*models.User, error) {
	w = strings.ToLower(w)
	return f.find(func(u *models.User) bool { return u.Wallet != nil && *u.Wallet == w })
}

func (f *fakeUsers) Create(_ context.Context, u *models.User) (*models.User, error) {
	f.s.hit()
	if f.s.createErr != nil {
		return nil, f.s.createErr
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.createN++
	u.ID = "new-" + string(rune('0'+f.s.createN))
	f.s.users[u.ID] = clone(u)
	return u, nil
}

func (f *fakeUsers) BackfillUsername(_ context.Context, id, username string) error {
	f.s.hit()
	if f.s.backfillErr != nil {
		return f.s.backfillErr
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if u, ok := f.s.users[id]; ok && u.Username == nil {
		u.Username = &username
	}
	return nil
}

func (f *fakeUsers) SetWallet(_ context.Context, externalID, w string) error {
	f.s.hit()
	if f.s.setWalletErr != nil {
		return f.s.setWalletErr
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, u := range f.s.users {
		if u.ExternalIdentityID != nil && *u.ExternalIdentityID == externalID {
			u.Wallet = &w
			return nil
		}
	}
	return common.ErrorNotFound
}

func (f *fakeUsers) ApplyMerge(_ context.Context, legacyID, externalID string, email *string, count int) error {
	f.s.hit()
	if f.s.applyErr != nil {
		return f.s.applyErr
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	u, ok := f.s.users[legacyID]
	if !ok {
		return common.ErrorNotFound
	}
	u.ExternalIdentityID = &externalID
	u.Email = email
	u.AcceptedContributionCount = &count
	return nil
}

func (f *fakeUsers) Delete(_ context.Context, id string) error {
	f.s.hit()
	if f.s.deleteErr != nil {
		return f.s.deleteErr
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if _, ok := f.s.users[id]; !ok {
		return common.ErrorNotFound
	}
	delete(f.s.users, id)
	return nil
}

func (f *fakeUsers) SetRole(_ context.Context, id string, role models.Role, value bool) error {
	f.s.hit()
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	u, ok := f.s.users[id]
	if !ok {
		return common.ErrorNotFound
	}
	switch role {
	case models.RoleAdmin:
		u.IsAdmin = value
	case models.RoleSuperAdmin:
		u.IsSuperAdmin = value
	case models.RoleWhiteListed:
		u.IsWhiteListed = value
	case models.RoleHidden:
		u.IsHidden = value
	}
	return nil
}

func (f *fakeUsers) FindDuplicateEmails(context.Context) ([]models.DuplicateEmail, error) {
	f.s.hit()
	return nil, nil
}

type fakeOwnership struct{ s *fakeStore }

func (f *fakeOwnership) reassign(m map[string]string, from, to string) (int64, error) {
	f.s.hit()
	if f.s.reassignErr != nil {
		return 0, f.s.reassignErr
	}
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var n int64
	for k, v := range m {
		if v == from {
			m[k] = to
			n++
		}
	}
	return n, nil
}

func (f *fakeOwnership) ReassignArtists(_ context.Context, from, to string) (int64, error) {
	return f.reassign(f.s.artists, from, to)
}

func (f *fakeOwnership) ReassignContributions(_ context.Context, from, to string) (int64, error) {
	return f.reassign(f.s.contributions, from, to)
}

type fakeRepoManager struct{ s *fakeStore }

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) users.Repository            { return &fakeUsers{m.s} }
func (m *fakeRepoManager) Ownership(dbx.DBTX) ownership.Repository    { return &fakeOwnership{m.s} }

type fakeVerifier struct {
	out   *identity.VerifiedIdentity
	err   error
	calls int
}

func (v *fakeVerifier) Verify(context.Context, string) (*identity.VerifiedIdentity, error) {
	v.calls++
	return v.out, v.err
}

type fakeArchiver struct {
	records []models.MergeRecord
	err     error
}

func (a *fakeArchiver) Archive(_ context.Context, rec models.MergeRecord) error {
	a.records = append(a.records, rec)
	return a.err
}

type racingManager struct {
	fakeRepoManager
	winner *models.User
}

func (m *racingManager) Users(dbx.DBTX) users.Repository {
	return &racingUsers{fakeUsers: fakeUsers{m.s}, winner: m.winner}
}

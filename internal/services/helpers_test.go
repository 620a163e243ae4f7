package services

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alimgiray/openwiden/internal/models"
	"github.com/alimgiray/openwiden/internal/repositories"
	"github.com/alimgiray/openwiden/internal/testutil"
	"github.com/alimgiray/openwiden/internal/vcs"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockClient is a mock implementation of vcs.Client for testing
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Provider() models.VCS {
	return m.Called().Get(0).(models.VCS)
}

func (m *MockClient) ListUserRepositories(ctx context.Context) ([]*vcs.RepositoryRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*vcs.RepositoryRecord), args.Error(1)
}

func (m *MockClient) FetchRepository(ctx context.Context, id int64) (*vcs.RepositoryRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*vcs.RepositoryRecord), args.Error(1)
}

func (m *MockClient) FetchRepositoryLanguages(ctx context.Context, id int64) (map[string]float64, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]float64), args.Error(1)
}

func (m *MockClient) ListRepositoryIssues(ctx context.Context, id int64) ([]*vcs.IssueRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*vcs.IssueRecord), args.Error(1)
}

func (m *MockClient) ListUserOrganizations(ctx context.Context) ([]*vcs.OrganizationRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*vcs.OrganizationRecord), args.Error(1)
}

func (m *MockClient) CurrentAccount(ctx context.Context) (*vcs.AccountRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*vcs.AccountRecord), args.Error(1)
}

// stubCredentials hands out the same client for every stored account
type stubCredentials struct {
	client      vcs.Client
	accountRepo *repositories.VCSAccountRepository
}

func (s *stubCredentials) ClientFor(ctx context.Context, userID string, provider models.VCS) (vcs.Client, *models.VCSAccount, error) {
	account, err := s.accountRepo.GetByUserAndVCS(ctx, userID, provider)
	if err != nil {
		return nil, nil, &CredentialMissingError{UserID: userID, VCS: provider}
	}
	return s.client, account, nil
}

func (s *stubCredentials) ClientForAccount(ctx context.Context, account *models.VCSAccount) (vcs.Client, error) {
	return s.client, nil
}

type dispatchedJob struct {
	jobType models.JobType
	payload interface{}
}

type fakeDispatcher struct {
	mu   sync.Mutex
	jobs []dispatchedJob
	err  error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, jobType models.JobType, payload interface{}) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return "", d.err
	}
	d.jobs = append(d.jobs, dispatchedJob{jobType: jobType, payload: payload})
	return "task-" + string(jobType), nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []Message
}

func (n *recordingNotifier) Send(ctx context.Context, userID string, msg Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return nil
}

type testEnv struct {
	db               *sql.DB
	repositoryRepo   *repositories.RepositoryRepository
	organizationRepo *repositories.OrganizationRepository
	memberRepo       *repositories.MemberRepository
	issueRepo        *repositories.IssueRepository
	accountRepo      *repositories.VCSAccountRepository
	userRepo         *repositories.UserRepository
	notificationRepo *repositories.NotificationRepository
	jobRepo          *repositories.JobRepository
	reconciler       *ReconcilerService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.NewDB(t)

	env := &testEnv{
		db:               db,
		repositoryRepo:   repositories.NewRepositoryRepository(db),
		organizationRepo: repositories.NewOrganizationRepository(db),
		memberRepo:       repositories.NewMemberRepository(db),
		issueRepo:        repositories.NewIssueRepository(db),
		accountRepo:      repositories.NewVCSAccountRepository(db),
		userRepo:         repositories.NewUserRepository(db),
		notificationRepo: repositories.NewNotificationRepository(db),
		jobRepo:          repositories.NewJobRepository(db),
	}
	env.reconciler = NewReconcilerService(env.repositoryRepo, env.organizationRepo, env.memberRepo, env.issueRepo)
	return env
}

// newUser stores a user with a github account holding a token
func (env *testEnv) newUser(t *testing.T, username string, remoteID int64) (*models.User, *models.VCSAccount) {
	t.Helper()
	ctx := context.Background()

	user := models.NewUser(username)
	require.NoError(t, env.userRepo.Create(ctx, user))

	account := models.NewVCSAccount(user.ID, models.VCSGitHub, remoteID, username)
	account.AccessToken = "token-" + username
	account.TokenType = "bearer"
	require.NoError(t, env.accountRepo.Create(ctx, account))
	return user, account
}

func repositoryRecord(remoteID int64, name string) *vcs.RepositoryRecord {
	return &vcs.RepositoryRecord{
		Provider:   models.VCSGitHub,
		RemoteID:   remoteID,
		Name:       name,
		URL:        "https://github.com/octo/" + name,
		StarCount:  5,
		Visibility: models.VisibilityPublic,
		CreatedAt:  time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:  time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func issueRecord(remoteID int64, title string) *vcs.IssueRecord {
	return &vcs.IssueRecord{
		RemoteID:  remoteID,
		Title:     title,
		State:     models.IssueStateOpen,
		Labels:    []string{"bug"},
		URL:       "https://github.com/octo/foo/issues/1",
		CreatedAt: time.Date(2021, 2, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2021, 2, 2, 0, 0, 0, 0, time.UTC),
	}
}

var errProviderDown = &vcs.RemoteFetchError{Provider: models.VCSGitHub, Operation: "fetch", StatusCode: 503, Err: errors.New("service unavailable")}

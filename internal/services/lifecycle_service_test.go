package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alimgiray/openwiden/internal/models"
	"github.com/alimgiray/openwiden/internal/vcs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type lifecycleFixture struct {
	env        *testEnv
	client     *MockClient
	dispatcher *fakeDispatcher
	notifier   *recordingNotifier
	service    *LifecycleService
	user       *models.User
	repo       *models.Repository
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()
	ctx := context.Background()

	env := newTestEnv(t)
	user, _ := env.newUser(t, "octo", 1)
	repo, _, err := env.reconciler.SyncRepository(ctx, repositoryRecord(42, "foo"), Ownership{OwnerID: &user.ID})
	require.NoError(t, err)

	client := &MockClient{}
	credentials := &stubCredentials{client: client, accountRepo: env.accountRepo}
	remoteSync := NewRemoteSyncService(credentials, env.reconciler, env.accountRepo, env.memberRepo)

	f := &lifecycleFixture{
		env:        env,
		client:     client,
		dispatcher: &fakeDispatcher{},
		notifier:   &recordingNotifier{},
		user:       user,
		repo:       repo,
	}
	f.service = NewLifecycleService(env.repositoryRepo, env.reconciler, remoteSync, f.dispatcher, f.notifier)
	return f
}

func (f *lifecycleFixture) stored(t *testing.T) *models.Repository {
	t.Helper()
	repo, err := f.env.repositoryRepo.GetByID(context.Background(), f.repo.ID)
	require.NoError(t, err)
	return repo
}

func (f *lifecycleFixture) payload() LifecyclePayload {
	return LifecyclePayload{RepositoryID: f.repo.ID, UserID: f.user.ID}
}

func TestLifecycleAddSucceeds(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t)

	f.client.On("FetchRepository", mock.Anything, int64(42)).Return(repositoryRecord(42, "foo"), nil)
	f.client.On("FetchRepositoryLanguages", mock.Anything, int64(42)).Return(map[string]float64{"Go": 1200}, nil)
	f.client.On("ListRepositoryIssues", mock.Anything, int64(42)).Return([]*vcs.IssueRecord{issueRecord(1, "crash"), issueRecord(2, "typo")}, nil)

	taskID, err := f.service.Add(ctx, f.repo.ID, f.user.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, taskID)

	repo := f.stored(t)
	assert.Equal(t, models.RepositoryStateAdding, repo.State)
	assert.True(t, repo.IsAdded)
	require.Len(t, f.dispatcher.jobs, 1)
	assert.Equal(t, models.JobTypeRepositoryAdd, f.dispatcher.jobs[0].jobType)
	assert.Equal(t, f.payload(), f.dispatcher.jobs[0].payload)

	require.NoError(t, f.service.CompleteAdd(ctx, f.payload()))

	repo = f.stored(t)
	assert.Equal(t, models.RepositoryStateAdded, repo.State)
	assert.True(t, repo.IsAdded)
	assert.Equal(t, 1200.0, repo.Languages["Go"])

	issues, err := f.env.issueRepo.ListByRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Len(t, issues, 2)

	require.Len(t, f.notifier.messages, 1)
	assert.Equal(t, "foo is added", f.notifier.messages[0].Message)
	assert.Equal(t, models.RepositoryStateAdded, f.notifier.messages[0].State)
	f.client.AssertExpectations(t)
}

func TestLifecycleAddFails(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t)

	f.client.On("FetchRepository", mock.Anything, int64(42)).Return(nil, errProviderDown)

	_, err := f.service.Add(ctx, f.repo.ID, f.user.ID)
	require.NoError(t, err)

	err = f.service.CompleteAdd(ctx, f.payload())
	assert.ErrorIs(t, err, errProviderDown)

	repo := f.stored(t)
	assert.Equal(t, models.RepositoryStateAddFailed, repo.State)
	assert.False(t, repo.IsAdded)

	require.Len(t, f.notifier.messages, 1)
	assert.Contains(t, f.notifier.messages[0].Message, "foo could not be added")
	assert.Equal(t, models.RepositoryStateAddFailed, f.notifier.messages[0].State)

	// a redelivered job finds the repository settled and does nothing
	require.NoError(t, f.service.CompleteAdd(ctx, f.payload()))
	assert.Len(t, f.notifier.messages, 1)

	// add_failed can be added again
	_, err = f.service.Add(ctx, f.repo.ID, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RepositoryStateAdding, f.stored(t).State)
}

func TestLifecycleAddGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("already added", func(t *testing.T) {
		f := newLifecycleFixture(t)
		_, err := f.env.repositoryRepo.CompareAndSetState(ctx, f.repo.ID, models.RepositoryStateNotAdded, models.RepositoryStateAdded, true)
		require.NoError(t, err)

		_, err = f.service.Add(ctx, f.repo.ID, f.user.ID)
		var alreadyAdded *AlreadyAddedError
		assert.ErrorAs(t, err, &alreadyAdded)
		assert.Empty(t, f.dispatcher.jobs)
	})

	t.Run("private", func(t *testing.T) {
		f := newLifecycleFixture(t)
		rec := repositoryRecord(42, "foo")
		rec.Visibility = models.VisibilityPrivate
		_, _, err := f.env.reconciler.SyncRepository(ctx, rec, Ownership{OwnerID: &f.user.ID})
		require.NoError(t, err)

		_, err = f.service.Add(ctx, f.repo.ID, f.user.ID)
		var private *PrivateRepositoryError
		require.ErrorAs(t, err, &private)
		assert.Equal(t, models.VisibilityPrivate, private.Visibility)
		assert.Equal(t, models.RepositoryStateNotAdded, f.stored(t).State)
	})

	t.Run("in flight", func(t *testing.T) {
		f := newLifecycleFixture(t)
		_, err := f.service.Add(ctx, f.repo.ID, f.user.ID)
		require.NoError(t, err)

		_, err = f.service.Add(ctx, f.repo.ID, f.user.ID)
		var conflict *ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, models.RepositoryStateAdding, conflict.State)

		_, err = f.service.Remove(ctx, f.repo.ID, f.user.ID)
		assert.ErrorAs(t, err, &conflict)
		assert.Len(t, f.dispatcher.jobs, 1)
	})

	t.Run("not accessible", func(t *testing.T) {
		f := newLifecycleFixture(t)
		stranger, _ := f.env.newUser(t, "stranger", 2)

		_, err := f.service.Add(ctx, f.repo.ID, stranger.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = f.service.Add(ctx, "missing", f.user.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestLifecycleDispatchFailureRestoresState(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t)
	f.dispatcher.err = errors.New("queue unavailable")

	_, err := f.service.Add(ctx, f.repo.ID, f.user.ID)
	require.Error(t, err)

	repo := f.stored(t)
	assert.Equal(t, models.RepositoryStateNotAdded, repo.State)
	assert.False(t, repo.IsAdded)
}

func TestLifecycleRemove(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t)

	_, err := f.service.Remove(ctx, f.repo.ID, f.user.ID)
	var notAdded *NotAddedError
	require.ErrorAs(t, err, &notAdded)

	_, err = f.env.repositoryRepo.CompareAndSetState(ctx, f.repo.ID, models.RepositoryStateNotAdded, models.RepositoryStateAdded, true)
	require.NoError(t, err)
	_, _, err = f.env.reconciler.SyncIssue(ctx, f.repo, issueRecord(1, "crash"))
	require.NoError(t, err)

	_, err = f.service.Remove(ctx, f.repo.ID, f.user.ID)
	require.NoError(t, err)
	repo := f.stored(t)
	assert.Equal(t, models.RepositoryStateRemoving, repo.State)
	assert.False(t, repo.IsAdded)
	require.Len(t, f.dispatcher.jobs, 1)
	assert.Equal(t, models.JobTypeRepositoryRemove, f.dispatcher.jobs[0].jobType)

	require.NoError(t, f.service.CompleteRemove(ctx, f.payload()))

	repo = f.stored(t)
	assert.Equal(t, models.RepositoryStateNotAdded, repo.State)
	assert.False(t, repo.IsAdded)

	issues, err := f.env.issueRepo.ListByRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Empty(t, issues)

	require.Len(t, f.notifier.messages, 1)
	assert.Equal(t, "foo is removed", f.notifier.messages[0].Message)
}

func TestLifecycleAddSettlesWhenCancelled(t *testing.T) {
	f := newLifecycleFixture(t)

	_, err := f.service.Add(context.Background(), f.repo.ID, f.user.ID)
	require.NoError(t, err)

	// a worker shutting down cancels the context of the running job
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = f.service.CompleteAdd(ctx, f.payload())
	require.Error(t, err)
	var settleErr *SettleError
	assert.False(t, errors.As(err, &settleErr))

	repo := f.stored(t)
	assert.Equal(t, models.RepositoryStateAddFailed, repo.State)
	assert.False(t, repo.IsAdded)
	require.Len(t, f.notifier.messages, 1)
	assert.Equal(t, models.RepositoryStateAddFailed, f.notifier.messages[0].State)

	_, err = f.service.Add(context.Background(), f.repo.ID, f.user.ID)
	assert.NoError(t, err)
}

func TestLifecycleRemoveFails(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t)

	_, err := f.env.repositoryRepo.CompareAndSetState(ctx, f.repo.ID, models.RepositoryStateNotAdded, models.RepositoryStateAdded, true)
	require.NoError(t, err)
	_, err = f.service.Remove(ctx, f.repo.ID, f.user.ID)
	require.NoError(t, err)

	// the purge cannot run without the issues table
	_, err = f.env.db.ExecContext(ctx, `DROP TABLE issues`)
	require.NoError(t, err)

	err = f.service.CompleteRemove(ctx, f.payload())
	require.Error(t, err)

	repo := f.stored(t)
	assert.Equal(t, models.RepositoryStateRemoveFailed, repo.State)
	assert.True(t, repo.IsAdded)

	require.Len(t, f.notifier.messages, 1)
	assert.Contains(t, f.notifier.messages[0].Message, "foo could not be removed")
	assert.Equal(t, models.RepositoryStateRemoveFailed, f.notifier.messages[0].State)

	// a redelivered job finds the repository settled
	require.NoError(t, f.service.CompleteRemove(ctx, f.payload()))
	assert.Len(t, f.notifier.messages, 1)

	// remove_failed can be removed again
	_, err = f.service.Remove(ctx, f.repo.ID, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RepositoryStateRemoving, f.stored(t).State)
}

func TestLifecycleConcurrentAddDispatchesOnce(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t)

	const requests = 10
	var wg sync.WaitGroup
	errs := make(chan error, requests)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.Add(ctx, f.repo.ID, f.user.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	accepted, conflicts := 0, 0
	for err := range errs {
		var conflict *ConflictError
		switch {
		case err == nil:
			accepted++
		case errors.As(err, &conflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, requests-1, conflicts)
	assert.Len(t, f.dispatcher.jobs, 1)
	assert.Equal(t, models.RepositoryStateAdding, f.stored(t).State)
}

func TestLifecycleRecoverStranded(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t)

	// foo was being added when its job failed without settling
	_, err := f.service.Add(ctx, f.repo.ID, f.user.ID)
	require.NoError(t, err)
	failed, err := models.NewJob(models.JobTypeRepositoryAdd, f.payload())
	require.NoError(t, err)
	failed.MarkFailed()
	require.NoError(t, f.env.jobRepo.Create(ctx, failed))

	// bar is being removed and its job is still queued
	bar, _, err := f.env.reconciler.SyncRepository(ctx, repositoryRecord(43, "bar"), Ownership{OwnerID: &f.user.ID})
	require.NoError(t, err)
	_, err = f.env.repositoryRepo.CompareAndSetState(ctx, bar.ID, models.RepositoryStateNotAdded, models.RepositoryStateRemoving, false)
	require.NoError(t, err)
	queued, err := models.NewJob(models.JobTypeRepositoryRemove, LifecyclePayload{RepositoryID: bar.ID, UserID: f.user.ID})
	require.NoError(t, err)
	require.NoError(t, f.env.jobRepo.Create(ctx, queued))

	recovered, err := f.service.RecoverStranded(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	repo := f.stored(t)
	assert.Equal(t, models.RepositoryStateAddFailed, repo.State)
	assert.False(t, repo.IsAdded)
	require.Len(t, f.notifier.messages, 1)
	assert.Equal(t, models.RepositoryStateAddFailed, f.notifier.messages[0].State)
	require.NotNil(t, f.notifier.messages[0].RepositoryID)
	assert.Equal(t, f.repo.ID, *f.notifier.messages[0].RepositoryID)

	stored, err := f.env.repositoryRepo.GetByID(ctx, bar.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RepositoryStateRemoving, stored.State)

	recovered, err = f.service.RecoverStranded(ctx)
	require.NoError(t, err)
	assert.Zero(t, recovered)
}

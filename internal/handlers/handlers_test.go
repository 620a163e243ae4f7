package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alimgiray/openwiden/internal/middleware"
	"github.com/alimgiray/openwiden/internal/models"
	"github.com/alimgiray/openwiden/internal/repositories"
	"github.com/alimgiray/openwiden/internal/services"
	"github.com/alimgiray/openwiden/internal/testutil"
	"github.com/alimgiray/openwiden/internal/vcs"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const (
	gitHubSecret = "gh-secret"
	gitLabSecret = "gl-secret"
)

type testServer struct {
	router     *gin.Engine
	jobRepo    *repositories.JobRepository
	repoRepo   *repositories.RepositoryRepository
	reconciler *services.ReconcilerService
	user       *models.User
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	db := testutil.NewDB(t)

	userRepo := repositories.NewUserRepository(db)
	repoRepo := repositories.NewRepositoryRepository(db)
	orgRepo := repositories.NewOrganizationRepository(db)
	memberRepo := repositories.NewMemberRepository(db)
	issueRepo := repositories.NewIssueRepository(db)
	jobRepo := repositories.NewJobRepository(db)
	notificationRepo := repositories.NewNotificationRepository(db)

	reconciler := services.NewReconcilerService(repoRepo, orgRepo, memberRepo, issueRepo)
	jobService := services.NewJobService(jobRepo)
	notificationService := services.NewNotificationService(notificationRepo)
	lifecycle := services.NewLifecycleService(repoRepo, reconciler, nil, jobService, notificationService)
	repositoryHandler := NewRepositoryHandler(
		services.NewRepositoryService(repoRepo, issueRepo),
		lifecycle,
		services.NewExportService(repoRepo),
	)
	notificationHandler := NewNotificationHandler(notificationService)
	webhookHandler := NewWebhookHandler(jobService, gitHubSecret, gitLabSecret)
	taskHandler := NewTaskHandler(jobService)

	user := models.NewUser("octo")
	require.NoError(t, userRepo.Create(ctx, user))

	router := gin.New()
	router.Use(func(c *gin.Context) {
		if c.GetHeader("X-Test-User") != "" {
			c.Set("session", &middleware.SessionData{UserID: c.GetHeader("X-Test-User"), ExpiresAt: time.Now().Add(time.Hour)})
		}
		c.Next()
	})
	router.POST("/webhooks/github", webhookHandler.GitHub)
	router.POST("/webhooks/gitlab", webhookHandler.GitLab)
	router.GET("/repositories", repositoryHandler.Added)
	router.GET("/repositories/:id/issues", repositoryHandler.AddedIssues)
	api := router.Group("/api")
	api.Use(middleware.AuthRequired())
	{
		api.GET("/repositories", repositoryHandler.List)
		api.GET("/repositories/export", repositoryHandler.Export)
		api.POST("/repositories/:id/add", repositoryHandler.Add)
		api.POST("/repositories/:id/remove", repositoryHandler.Remove)
		api.GET("/notifications", notificationHandler.List)
		api.GET("/tasks/:id", taskHandler.Get)
	}

	return &testServer{router: router, jobRepo: jobRepo, repoRepo: repoRepo, reconciler: reconciler, user: user}
}

func (s *testServer) do(req *http.Request, userID string) *httptest.ResponseRecorder {
	if userID != "" {
		req.Header.Set("X-Test-User", userID)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) storeRepository(t *testing.T, remoteID int64, name string, visibility models.Visibility) *models.Repository {
	t.Helper()
	repo, _, err := s.reconciler.SyncRepository(context.Background(), &vcs.RepositoryRecord{
		Provider:   models.VCSGitHub,
		RemoteID:   remoteID,
		Name:       name,
		URL:        "https://github.com/octo/" + name,
		Visibility: visibility,
		CreatedAt:  time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:  time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
	}, services.Ownership{OwnerID: &s.user.ID})
	require.NoError(t, err)
	return repo
}

func (s *testServer) pendingJobs(t *testing.T) []*models.Job {
	t.Helper()
	jobs, err := s.jobRepo.ListByStatus(context.Background(), models.JobStatusPending)
	require.NoError(t, err)
	return jobs
}

func signGitHub(body []byte) string {
	mac := hmac.New(sha256.New, []byte(gitHubSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestGitHubWebhook(t *testing.T) {
	body := []byte(`{"action":"archived","repository":{"id":42,"name":"foo"}}`)

	newRequest := func(event, signature string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-GitHub-Event", event)
		req.Header.Set("X-Hub-Signature-256", signature)
		return req
	}

	t.Run("queues a signed delivery", func(t *testing.T) {
		s := newTestServer(t)
		w := s.do(newRequest("repository", signGitHub(body)), "")
		assert.Equal(t, http.StatusAccepted, w.Code)

		jobs := s.pendingJobs(t)
		require.Len(t, jobs, 1)
		assert.Equal(t, models.JobTypeWebhook, jobs[0].JobType)

		var payload services.WebhookPayload
		require.NoError(t, jobs[0].DecodePayload(&payload))
		assert.Equal(t, models.VCSGitHub, payload.VCS)
		assert.Equal(t, "repository", string(payload.Category))
		assert.JSONEq(t, string(body), string(payload.Body))
	})

	t.Run("rejects a bad signature", func(t *testing.T) {
		s := newTestServer(t)
		w := s.do(newRequest("repository", "sha256=deadbeef"), "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Empty(t, s.pendingJobs(t))
	})

	t.Run("answers ping", func(t *testing.T) {
		s := newTestServer(t)
		w := s.do(newRequest("ping", signGitHub(body)), "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, s.pendingJobs(t))
	})

	t.Run("ignores other events", func(t *testing.T) {
		s := newTestServer(t)
		w := s.do(newRequest("push", signGitHub(body)), "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "ignored")
		assert.Empty(t, s.pendingJobs(t))
	})
}

func TestGitLabWebhook(t *testing.T) {
	body := `{"object_kind":"issue","project":{"id":7},"object_attributes":{"id":1,"action":"open"}}`

	newRequest := func(event, token string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/gitlab", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Gitlab-Event", event)
		req.Header.Set("X-Gitlab-Token", token)
		return req
	}

	tests := []struct {
		name   string
		event  string
		token  string
		status int
		queued int
	}{
		{"issue hook", "Issue Hook", gitLabSecret, http.StatusAccepted, 1},
		{"system hook", "System Hook", gitLabSecret, http.StatusAccepted, 1},
		{"wrong token", "Issue Hook", "nope", http.StatusUnauthorized, 0},
		{"push hook", "Push Hook", gitLabSecret, http.StatusOK, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			w := s.do(newRequest(tt.event, tt.token), "")
			assert.Equal(t, tt.status, w.Code)
			assert.Len(t, s.pendingJobs(t), tt.queued)
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		s := newTestServer(t)
		req := httptest.NewRequest(http.MethodPost, "/webhooks/gitlab", bytes.NewBufferString("{not json"))
		req.Header.Set("X-Gitlab-Event", "Issue Hook")
		req.Header.Set("X-Gitlab-Token", gitLabSecret)
		w := s.do(req, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRepositoryEndpoints(t *testing.T) {
	s := newTestServer(t)
	public := s.storeRepository(t, 42, "foo", models.VisibilityPublic)
	private := s.storeRepository(t, 43, "secret", models.VisibilityPrivate)

	post := func(path string) *http.Request {
		return httptest.NewRequest(http.MethodPost, path, nil)
	}

	t.Run("requires a session", func(t *testing.T) {
		w := s.do(httptest.NewRequest(http.MethodGet, "/api/repositories", nil), "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("lists repositories", func(t *testing.T) {
		w := s.do(httptest.NewRequest(http.MethodGet, "/api/repositories", nil), s.user.ID)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"name":"foo"`)
		assert.Contains(t, w.Body.String(), `"name":"secret"`)
	})

	t.Run("add", func(t *testing.T) {
		w := s.do(post("/api/repositories/"+public.ID+"/add"), s.user.ID)
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Contains(t, w.Body.String(), "task_id")

		w = s.do(post("/api/repositories/"+public.ID+"/add"), s.user.ID)
		assert.Equal(t, http.StatusConflict, w.Code)

		jobs := s.pendingJobs(t)
		require.Len(t, jobs, 1)
		assert.Equal(t, models.JobTypeRepositoryAdd, jobs[0].JobType)
	})

	t.Run("private repository", func(t *testing.T) {
		w := s.do(post("/api/repositories/"+private.ID+"/add"), s.user.ID)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("remove not added", func(t *testing.T) {
		w := s.do(post("/api/repositories/"+private.ID+"/remove"), s.user.ID)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("unknown repository", func(t *testing.T) {
		w := s.do(post("/api/repositories/missing/add"), s.user.ID)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("someone else's repository", func(t *testing.T) {
		w := s.do(post("/api/repositories/"+public.ID+"/remove"), "another-user")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("notifications", func(t *testing.T) {
		w := s.do(httptest.NewRequest(http.MethodGet, "/api/notifications?unread=true", nil), s.user.ID)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"notifications":[]}`, w.Body.String())
	})
}

func TestAddedRepositories(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	added := s.storeRepository(t, 42, "foo", models.VisibilityPublic)
	notAdded := s.storeRepository(t, 43, "bar", models.VisibilityPublic)
	addedPrivate := s.storeRepository(t, 44, "secret", models.VisibilityPrivate)

	for _, repo := range []*models.Repository{added, addedPrivate} {
		ok, err := s.repoRepo.CompareAndSetState(ctx, repo.ID, models.RepositoryStateNotAdded, models.RepositoryStateAdded, true)
		require.NoError(t, err)
		require.True(t, ok)
	}
	_, _, err := s.reconciler.SyncIssue(ctx, added, &vcs.IssueRecord{
		RemoteID:  7,
		Title:     "crash on start",
		State:     models.IssueStateOpen,
		URL:       "https://github.com/octo/foo/issues/7",
		CreatedAt: time.Date(2021, 2, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2021, 2, 2, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	t.Run("lists added public repositories without a session", func(t *testing.T) {
		w := s.do(httptest.NewRequest(http.MethodGet, "/repositories", nil), "")
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Repositories []*models.Repository `json:"repositories"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Len(t, body.Repositories, 1)
		assert.Equal(t, added.ID, body.Repositories[0].ID)
	})

	t.Run("lists issues of an added repository", func(t *testing.T) {
		w := s.do(httptest.NewRequest(http.MethodGet, "/repositories/"+added.ID+"/issues", nil), "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "crash on start")
	})

	t.Run("hides repositories that are not added or not public", func(t *testing.T) {
		for _, id := range []string{notAdded.ID, addedPrivate.ID, "missing"} {
			w := s.do(httptest.NewRequest(http.MethodGet, "/repositories/"+id+"/issues", nil), "")
			assert.Equal(t, http.StatusNotFound, w.Code, id)
		}
	})
}

func TestTaskStatus(t *testing.T) {
	s := newTestServer(t)
	repo := s.storeRepository(t, 42, "foo", models.VisibilityPublic)

	w := s.do(httptest.NewRequest(http.MethodPost, "/api/repositories/"+repo.ID+"/add", nil), s.user.ID)
	require.Equal(t, http.StatusAccepted, w.Code)
	var accepted struct {
		TaskID string `json:"task_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	require.NotEmpty(t, accepted.TaskID)

	t.Run("reports the task of its user", func(t *testing.T) {
		w := s.do(httptest.NewRequest(http.MethodGet, "/api/tasks/"+accepted.TaskID, nil), s.user.ID)
		require.Equal(t, http.StatusOK, w.Code)

		var task struct {
			TaskID string           `json:"task_id"`
			Type   models.JobType   `json:"type"`
			Status models.JobStatus `json:"status"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &task))
		assert.Equal(t, accepted.TaskID, task.TaskID)
		assert.Equal(t, models.JobTypeRepositoryAdd, task.Type)
		assert.Equal(t, models.JobStatusPending, task.Status)
	})

	t.Run("hides tasks of other users", func(t *testing.T) {
		w := s.do(httptest.NewRequest(http.MethodGet, "/api/tasks/"+accepted.TaskID, nil), "another-user")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("unknown task", func(t *testing.T) {
		w := s.do(httptest.NewRequest(http.MethodGet, "/api/tasks/missing", nil), s.user.ID)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestExportRepositories(t *testing.T) {
	s := newTestServer(t)
	s.storeRepository(t, 42, "foo", models.VisibilityPublic)
	s.storeRepository(t, 43, "bar", models.VisibilityPublic)

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/repositories/export", nil), s.user.ID)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Repositories")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Name", rows[0][0])
	assert.ElementsMatch(t, []string{"foo", "bar"}, []string{rows[1][0], rows[2][0]})
	assert.Equal(t, "github", rows[1][1])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", services.ErrNotFound, http.StatusNotFound},
		{"conflict", &services.ConflictError{RepositoryID: "r", State: models.RepositoryStateAdding}, http.StatusConflict},
		{"already added", &services.AlreadyAddedError{RepositoryID: "r"}, http.StatusConflict},
		{"private", &services.PrivateRepositoryError{RepositoryID: "r", Visibility: models.VisibilityPrivate}, http.StatusUnprocessableEntity},
		{"validation", &services.ValidationError{Field: "title", Message: "must not be empty"}, http.StatusUnprocessableEntity},
		{"missing credential", &services.CredentialMissingError{UserID: "u", VCS: models.VCSGitHub}, http.StatusUnauthorized},
		{"remote auth", &vcs.RemoteAuthError{Provider: models.VCSGitHub, Err: errors.New("401")}, http.StatusUnauthorized},
		{"remote fetch", &services.RemoteSyncError{VCS: models.VCSGitHub, Operation: "repositories", Err: &vcs.RemoteFetchError{Provider: models.VCSGitHub, StatusCode: 500, Err: errors.New("boom")}}, http.StatusBadGateway},
		{"unknown provider", vcs.ErrUnknownProvider, http.StatusNotFound},
		{"anything else", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, message := statusFor(tt.err)
			assert.Equal(t, tt.want, status)
			assert.NotContains(t, message, "boom")
		})
	}
}

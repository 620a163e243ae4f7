package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alimgiray/openwiden/internal/models"
	"github.com/alimgiray/openwiden/internal/vcs"
	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return New(server.Client(), WithBaseURL(server.URL))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func repositoryPayload(id int64, name, ownerType string) map[string]interface{} {
	return map[string]interface{}{
		"id":                id,
		"name":              name,
		"html_url":          "https://github.com/octo/" + name,
		"description":       "a repo",
		"stargazers_count":  5,
		"open_issues_count": 2,
		"forks_count":       1,
		"private":           false,
		"visibility":        "public",
		"created_at":        "2020-01-01T00:00:00Z",
		"updated_at":        "2021-01-01T00:00:00Z",
		"owner":             map[string]interface{}{"id": 900, "login": "octo", "type": ownerType},
	}
}

func TestListUserRepositories(t *testing.T) {
	mux := http.NewServeMux()
	var serverURL string
	mux.HandleFunc("/user/repos", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			writeJSON(w, []interface{}{repositoryPayload(2, "bar", "Organization")})
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s/user/repos?page=2>; rel="next"`, serverURL))
		writeJSON(w, []interface{}{repositoryPayload(1, "foo", "User")})
	})

	server := httptest.NewServer(mux)
	defer server.Close()
	serverURL = server.URL
	client := New(server.Client(), WithBaseURL(server.URL))

	records, err := client.ListUserRepositories(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, int64(1), records[0].RemoteID)
	assert.Equal(t, "foo", records[0].Name)
	assert.Equal(t, models.VisibilityPublic, records[0].Visibility)
	assert.Nil(t, records[0].Organization)
	assert.Equal(t, 5, records[0].StarCount)

	require.NotNil(t, records[1].Organization)
	assert.Equal(t, int64(900), records[1].Organization.RemoteID)
	assert.Equal(t, "octo", records[1].Organization.Name)
}

func TestListRepositoryIssuesSkipsPullRequests(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repositories/42", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, repositoryPayload(42, "foo", "User"))
	})
	mux.HandleFunc("/repos/octo/foo/issues", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "open", r.URL.Query().Get("state"))
		writeJSON(w, []interface{}{
			map[string]interface{}{
				"id": 10, "title": "bug", "body": "it breaks", "state": "open",
				"html_url":   "https://github.com/octo/foo/issues/1",
				"labels":     []interface{}{map[string]interface{}{"name": "bug"}},
				"created_at": "2022-01-01T00:00:00Z", "updated_at": "2022-01-02T00:00:00Z",
			},
			map[string]interface{}{
				"id": 11, "title": "pr", "state": "open",
				"pull_request": map[string]interface{}{"url": "https://api.github.com/repos/octo/foo/pulls/2"},
				"created_at":   "2022-01-01T00:00:00Z", "updated_at": "2022-01-02T00:00:00Z",
			},
		})
	})

	client := newTestClient(t, mux)
	records, err := client.ListRepositoryIssues(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(10), records[0].RemoteID)
	assert.Equal(t, int64(42), records[0].RepositoryRemoteID)
	assert.Equal(t, []string{"bug"}, records[0].Labels)
	assert.Equal(t, models.IssueStateOpen, records[0].State)
	assert.Nil(t, records[0].ClosedAt)
}

func TestFetchRepositoryLanguages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repositories/42", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, repositoryPayload(42, "foo", "User"))
	})
	mux.HandleFunc("/repos/octo/foo/languages", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]int{"Go": 1200, "Makefile": 30})
	})

	client := newTestClient(t, mux)
	languages, err := client.FetchRepositoryLanguages(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"Go": 1200, "Makefile": 30}, languages)
}

func TestListUserOrganizations(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user/memberships/orgs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []interface{}{
			map[string]interface{}{"role": "admin", "organization": map[string]interface{}{"id": 1, "login": "acme"}},
			map[string]interface{}{"role": "member", "organization": map[string]interface{}{"id": 2, "login": "other"}},
		})
	})

	client := newTestClient(t, mux)
	records, err := client.ListUserOrganizations(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0].IsAdmin)
	assert.Equal(t, "https://github.com/acme", records[0].URL)
	assert.False(t, records[1].IsAdmin)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantAuth  bool
		retryable bool
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, wantAuth: true},
		{name: "not found", status: http.StatusNotFound, retryable: false},
		{name: "bad gateway", status: http.StatusBadGateway, retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/repositories/42", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				writeJSON(w, map[string]string{"message": "nope"})
			})

			client := newTestClient(t, mux)
			_, err := client.FetchRepository(context.Background(), 42)
			require.Error(t, err)

			var authErr *vcs.RemoteAuthError
			var fetchErr *vcs.RemoteFetchError
			if tt.wantAuth {
				assert.True(t, errors.As(err, &authErr))
				return
			}
			require.True(t, errors.As(err, &fetchErr))
			assert.Equal(t, tt.status, fetchErr.StatusCode)
			assert.Equal(t, tt.retryable, fetchErr.Retryable())
		})
	}
}

func TestToIssueRecordRejectsUnknownState(t *testing.T) {
	state := "merged"
	id := int64(3)
	_, err := ToIssueRecord(1, &github.Issue{ID: &id, State: &state})
	assert.Error(t, err)
}

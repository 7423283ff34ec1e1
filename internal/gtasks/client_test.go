package gtasks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// stubMinter hands back a fixed access token.
type stubMinter struct{ token string }

func (s *stubMinter) AccessToken(_ context.Context, _ string) (string, error) {
	return s.token, nil
}

// newTestServer serves one task list with the given task pages, following
// the source's pageToken protocol.
func newTestServer(t *testing.T, taskPages []tasksResponse) (*httptest.Server, *Client) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/users/@me/lists", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer at-123" {
			t.Errorf("Authorization = %q, want Bearer at-123", got)
		}
		json.NewEncoder(w).Encode(taskListsResponse{
			Items: []taskListItem{{ID: "list1", Title: "Inbox"}},
		})
	})
	mux.HandleFunc("/lists/list1/tasks", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		for _, p := range []string{"showCompleted", "showHidden", "showDeleted"} {
			if q.Get(p) != "true" {
				t.Errorf("query %s = %q, want true", p, q.Get(p))
			}
		}
		idx := 0
		if tok := q.Get("pageToken"); tok != "" {
			for i, page := range taskPages[:len(taskPages)-1] {
				if page.NextPageToken == tok {
					idx = i + 1
				}
			}
		}
		json.NewEncoder(w).Encode(taskPages[idx])
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := NewClient(Config{BaseURL: srv.URL, PageSize: 2}, &stubMinter{token: "at-123"})
	client.SetHTTPClient(srv.Client())
	return srv, client
}

func TestFetchAllFollowsPagination(t *testing.T) {
	pages := []tasksResponse{
		{
			Items: []taskItem{
				{ID: "t1", Status: "completed", Updated: "2024-03-15T10:00:00Z"},
				{ID: "t2", Status: "needsAction", Updated: "2024-03-15T11:00:00Z"},
			},
			NextPageToken: "page2",
		},
		{
			Items: []taskItem{
				{ID: "t3", Status: "completed", Updated: "2024-03-16T09:00:00Z", Deleted: true},
			},
		},
	}
	_, client := newTestServer(t, pages)

	tasks, err := client.FetchAll(context.Background(), "refresh-tok")
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("got %d tasks, want 3 across both pages", len(tasks))
	}
	if tasks[0].ID != "t1" || !tasks[0].IsCompleted() {
		t.Errorf("task 0 = %+v", tasks[0])
	}
	if !tasks[2].Deleted {
		t.Errorf("task 2 should carry the deleted flag through: %+v", tasks[2])
	}
	want := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	if !tasks[0].Updated.Equal(want) {
		t.Errorf("task 0 updated = %v, want %v", tasks[0].Updated, want)
	}
}

func TestFetchAllBadTimestampBecomesZero(t *testing.T) {
	pages := []tasksResponse{
		{Items: []taskItem{{ID: "t1", Status: "needsAction", Updated: "not-a-time"}}},
	}
	_, client := newTestServer(t, pages)

	tasks, err := client.FetchAll(context.Background(), "refresh-tok")
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if !tasks[0].Updated.IsZero() {
		t.Fatalf("unparsable timestamp should become zero, got %v", tasks[0].Updated)
	}
}

func TestFetchAllEmptyList(t *testing.T) {
	_, client := newTestServer(t, []tasksResponse{{}})

	tasks, err := client.FetchAll(context.Background(), "refresh-tok")
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("got %d tasks, want none", len(tasks))
	}
}

func TestDoRequestWrapsRemoteErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, &stubMinter{token: "at-123"})
	client.SetHTTPClient(srv.Client())

	_, err := client.ListTaskLists(context.Background(), "at-123")
	if !errors.Is(err, ErrRemoteSource) {
		t.Fatalf("err = %v, want ErrRemoteSource in the chain", err)
	}
}

func TestTaskPagerReset(t *testing.T) {
	pages := []tasksResponse{
		{Items: []taskItem{{ID: "t1", Status: "needsAction"}}, NextPageToken: "page2"},
		{Items: []taskItem{{ID: "t2", Status: "completed"}}},
	}
	_, client := newTestServer(t, pages)

	pager := client.Tasks("list1", "at-123")

	drain := func() []string {
		var ids []string
		for pager.Next(context.Background()) {
			for _, task := range pager.Page() {
				ids = append(ids, task.ID)
			}
		}
		if err := pager.Err(); err != nil {
			t.Fatalf("pager: %v", err)
		}
		return ids
	}

	first := drain()
	if len(first) != 2 {
		t.Fatalf("first drain = %v, want t1 and t2", first)
	}
	if pager.Next(context.Background()) {
		t.Fatal("exhausted pager should stay closed")
	}

	pager.Reset()
	second := drain()
	if len(second) != 2 || second[0] != "t1" || second[1] != "t2" {
		t.Fatalf("drain after Reset = %v, want the same sequence", second)
	}
}

func TestNewClientCapsPageSize(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://example.com", PageSize: 5000}, &stubMinter{})
	if c.pageSize != 100 {
		t.Errorf("pageSize = %d, want capped at 100", c.pageSize)
	}
	c = NewClient(Config{BaseURL: "http://example.com"}, &stubMinter{})
	if c.pageSize != 100 {
		t.Errorf("default pageSize = %d, want 100", c.pageSize)
	}
}

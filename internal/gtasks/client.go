// Package gtasks is the client for the remote task source, a Google-Tasks
// style REST API. All calls are authenticated with a per-user OAuth access
// token minted from the user's stored refresh token, and all pagination is
// followed to the end so coverage is never bounded by a single page.
package gtasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pulseworks/taskmetrics/internal/domain"
	"github.com/pulseworks/taskmetrics/internal/pkg/httpretry"
)

// ErrRemoteSource marks any failure talking to the task source. Callers
// match it with errors.Is; the underlying cause stays in the chain.
var ErrRemoteSource = errors.New("remote task source error")

// Client is the task source API client.
type Client struct {
	baseURL    string
	pageSize   int
	httpClient httpretry.HTTPDoer
	tokens     TokenMinter
}

// NewClient creates a task source client. tokens mints per-user access
// tokens; pass NewTokenMinter in production or a stub in tests.
func NewClient(cfg Config, tokens TokenMinter) *Client {
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		pageSize:   pageSize,
		httpClient: httpretry.NewRetryClient(&http.Client{Timeout: timeout}, 3),
		tokens:     tokens,
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing).
func (c *Client) SetHTTPClient(client httpretry.HTTPDoer) {
	c.httpClient = client
}

// doRequest performs an authenticated GET against the task source API.
func (c *Client) doRequest(ctx context.Context, accessToken, endpoint string, query url.Values) ([]byte, error) {
	reqURL := c.baseURL + endpoint
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteSource, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrRemoteSource, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrRemoteSource, resp.StatusCode, string(body))
	}
	return body, nil
}

// ListTaskLists returns every task container the user owns, following
// pagination to the end.
func (c *Client) ListTaskLists(ctx context.Context, accessToken string) ([]domain.TaskList, error) {
	var lists []domain.TaskList
	pageToken := ""

	for {
		q := url.Values{}
		q.Set("maxResults", strconv.Itoa(c.pageSize))
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		body, err := c.doRequest(ctx, accessToken, "/users/@me/lists", q)
		if err != nil {
			return nil, err
		}

		var page taskListsResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("%w: decode task lists: %v", ErrRemoteSource, err)
		}
		for _, item := range page.Items {
			lists = append(lists, domain.TaskList{ID: item.ID, Title: item.Title})
		}

		if page.NextPageToken == "" {
			return lists, nil
		}
		pageToken = page.NextPageToken
	}
}

// Tasks returns a restartable pager over one task list. Completed, hidden
// and deleted items are included so the aggregator sees the full set.
func (c *Client) Tasks(listID, accessToken string) *TaskPager {
	return &TaskPager{client: c, listID: listID, accessToken: accessToken}
}

// AllTasks drains every page of every given list into one slice.
func (c *Client) AllTasks(ctx context.Context, accessToken string, lists []domain.TaskList) ([]domain.Task, error) {
	var all []domain.Task
	for _, list := range lists {
		pager := c.Tasks(list.ID, accessToken)
		for pager.Next(ctx) {
			all = append(all, pager.Page()...)
		}
		if err := pager.Err(); err != nil {
			return nil, err
		}
	}
	return all, nil
}

// FetchAll mints an access token from the user's refresh token, then
// drains every task list. This is the stats.TaskSource implementation.
func (c *Client) FetchAll(ctx context.Context, refreshToken string) ([]domain.Task, error) {
	accessToken, err := c.tokens.AccessToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	lists, err := c.ListTaskLists(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return c.AllTasks(ctx, accessToken, lists)
}

// fetchTasksPage fetches one page of tasks for a list.
func (c *Client) fetchTasksPage(ctx context.Context, accessToken, listID, pageToken string) ([]domain.Task, string, error) {
	q := url.Values{}
	q.Set("maxResults", strconv.Itoa(c.pageSize))
	q.Set("showCompleted", "true")
	q.Set("showHidden", "true")
	q.Set("showDeleted", "true")
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	body, err := c.doRequest(ctx, accessToken, "/lists/"+url.PathEscape(listID)+"/tasks", q)
	if err != nil {
		return nil, "", err
	}

	var page tasksResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, "", fmt.Errorf("%w: decode tasks: %v", ErrRemoteSource, err)
	}

	tasks := make([]domain.Task, 0, len(page.Items))
	for _, item := range page.Items {
		tasks = append(tasks, item.toDomain())
	}
	return tasks, page.NextPageToken, nil
}

package gtasks

import (
	"context"

	"github.com/pulseworks/taskmetrics/internal/domain"
)

// TaskPager iterates over the pages of one task list. The usual loop:
//
//	pager := client.Tasks(listID, token)
//	for pager.Next(ctx) {
//		handle(pager.Page())
//	}
//	if err := pager.Err(); err != nil { ... }
//
// Reset returns the pager to the first page, making the sequence
// restartable.
type TaskPager struct {
	client      *Client
	listID      string
	accessToken string

	page      []domain.Task
	pageToken string
	started   bool
	done      bool
	err       error
}

// Next fetches the next page. It returns false when the pages are
// exhausted or an error occurred; check Err afterwards.
func (p *TaskPager) Next(ctx context.Context) bool {
	if p.done || p.err != nil {
		return false
	}
	if p.started && p.pageToken == "" {
		p.done = true
		return false
	}

	tasks, next, err := p.client.fetchTasksPage(ctx, p.accessToken, p.listID, p.pageToken)
	if err != nil {
		p.err = err
		return false
	}

	p.started = true
	p.page = tasks
	p.pageToken = next
	if next == "" && len(tasks) == 0 && !p.done {
		// Empty final page still counts as one iteration so callers see it
		// exactly once, then the pager closes.
		p.done = true
	}
	return true
}

// Page returns the most recently fetched page.
func (p *TaskPager) Page() []domain.Task { return p.page }

// Err returns the first error encountered, if any.
func (p *TaskPager) Err() error { return p.err }

// Reset rewinds the pager to the first page.
func (p *TaskPager) Reset() {
	p.page = nil
	p.pageToken = ""
	p.started = false
	p.done = false
	p.err = nil
}

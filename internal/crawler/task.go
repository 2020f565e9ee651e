package crawler

import (
	"fmt"
	"sync"
	"time"
	"unicode/utf8"
)

// TaskStatus is the lifecycle state of a URLTask.
type TaskStatus string

// Task statuses. Only forward transitions are legal.
const (
	StatusPending   TaskStatus = "pending"
	StatusInFlight  TaskStatus = "in_flight"
	StatusSucceeded TaskStatus = "succeeded"
	StatusFailed    TaskStatus = "failed"
)

// Terminal reports whether no further transition can occur.
func (s TaskStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// URLTask is the unit of work for a single input URL. It is mutated only by
// the goroutine running it; readers go through View.
type URLTask struct {
	url   string
	index int

	mu       sync.RWMutex
	status   TaskStatus
	attempts []Attempt
	document *Document
	failure  error
	started  time.Time
	finished time.Time
}

// NewURLTask creates a pending task.
func NewURLTask(index int, url string) *URLTask {
	return &URLTask{url: url, index: index, status: StatusPending}
}

// URL returns the target URL.
func (t *URLTask) URL() string { return t.url }

// Index returns the stable input position.
func (t *URLTask) Index() int { return t.index }

// Status returns the current status.
func (t *URLTask) Status() TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Start moves the task from Pending to InFlight.
func (t *URLTask) Start(now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusPending {
		return fmt.Errorf("start task %d from %s: %w", t.index, t.status, ErrIllegalTransition)
	}
	t.status = StatusInFlight
	t.started = now
	return nil
}

// RecordAttempt appends a strategy try to the attempt log.
func (t *URLTask) RecordAttempt(a Attempt) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}
	t.attempts = append(t.attempts, a)
}

// Succeed stores the document and freezes the task.
func (t *URLTask) Succeed(doc Document, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusInFlight {
		return fmt.Errorf("succeed task %d from %s: %w", t.index, t.status, ErrIllegalTransition)
	}
	doc.LengthChars = utf8.RuneCountInString(doc.Markdown)
	t.document = &doc
	t.status = StatusSucceeded
	t.finished = now
	return nil
}

// Fail stores the failure reason and freezes the task. Pending tasks may fail
// directly when they never obtained a slot.
func (t *URLTask) Fail(reason error, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return fmt.Errorf("fail task %d from %s: %w", t.index, t.status, ErrIllegalTransition)
	}
	if reason == nil {
		reason = fmt.Errorf("task %d failed without a reason", t.index)
	}
	t.failure = reason
	t.status = StatusFailed
	t.finished = now
	return nil
}

// TaskView is an immutable copy of a task's state.
type TaskView struct {
	URL      string
	Index    int
	Status   TaskStatus
	Attempts []Attempt
	Document *Document
	Failure  error
	Started  time.Time
	Finished time.Time
}

// View copies the task state.
func (t *URLTask) View() TaskView {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v := TaskView{
		URL:      t.url,
		Index:    t.index,
		Status:   t.status,
		Attempts: append([]Attempt(nil), t.attempts...),
		Failure:  t.failure,
		Started:  t.started,
		Finished: t.finished,
	}
	if t.document != nil {
		doc := *t.document
		v.Document = &doc
	}
	return v
}

// Result returns the terminal result, or nil while the task is still running.
func (v TaskView) Result() TaskResult {
	switch v.Status {
	case StatusSucceeded:
		if v.Document != nil {
			return *v.Document
		}
		return FailureReport{URL: v.URL, Kind: KindInternal, Err: fmt.Errorf("task %d succeeded without a document", v.Index)}
	case StatusFailed:
		return FailureReport{URL: v.URL, Kind: KindOf(v.Failure), Err: v.Failure}
	default:
		return nil
	}
}

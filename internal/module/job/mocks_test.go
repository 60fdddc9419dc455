package job

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/palettebot/server/internal/model"
	"github.com/palettebot/server/internal/module/quota"
	"github.com/palettebot/server/internal/utils/metrics"
)

// Prometheus collectors register globally, so the package shares one set.
var testMetrics = metrics.New("jobtest")

// memRepo is an in-memory job repository with the same conditional-update
// semantics as the real one.
type memRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*Job
}

func newMemRepo() *memRepo {
	return &memRepo{jobs: make(map[uuid.UUID]*Job)}
}

func (r *memRepo) Create(_ context.Context, j *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.ID] = j
	return nil
}

func (r *memRepo) Get(_ context.Context, id uuid.UUID) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j, nil
}

func (r *memRepo) ClaimOldestPending(_ context.Context, limit int) ([]*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pending []*Job
	for _, j := range r.jobs {
		if j.Status == StatusPending {
			pending = append(pending, j)
		}
	}
	sort.Slice(pending, func(i, k int) bool {
		return pending[i].CreatedAt.Before(pending[k].CreatedAt)
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}

	now := time.Now()
	for _, j := range pending {
		j.Status = StatusProcessing
		j.StartedAt = &now
	}
	return pending, nil
}

func (r *memRepo) CompleteIfActive(_ context.Context, id uuid.UUID, imageURL string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.IsTerminal() {
		return false, nil
	}
	now := time.Now()
	j.Status = StatusCompleted
	j.ImageURL = imageURL
	j.CompletedAt = &now
	return true, nil
}

func (r *memRepo) FailIfActive(_ context.Context, id uuid.UUID, errMsg string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.IsTerminal() {
		return false, nil
	}
	now := time.Now()
	j.Status = StatusFailed
	j.ErrorMessage = errMsg
	j.CompletedAt = &now
	return true, nil
}

func (r *memRepo) RevertToPending(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || j.Status != StatusProcessing {
		return false, nil
	}
	j.Status = StatusPending
	j.RetryCount++
	j.StartedAt = nil
	return true, nil
}

func (r *memRepo) RecoverStuck(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, j := range r.jobs {
		if j.Status == StatusProcessing && j.StartedAt != nil && j.StartedAt.Before(cutoff) {
			j.Status = StatusPending
			j.StartedAt = nil
			n++
		}
	}
	return n, nil
}

// stubProvider returns canned responses or errors, recording each request.
type stubProvider struct {
	mu       sync.Mutex
	generate func(ctx context.Context, req *model.GenerationRequest) ([]byte, error)
	requests []*model.GenerationRequest
}

func (p *stubProvider) Generate(ctx context.Context, req *model.GenerationRequest) ([]byte, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	return p.generate(ctx, req)
}

func (p *stubProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// memStorage stores puts in memory and serves canned fetches.
type memStorage struct {
	mu        sync.Mutex
	puts      [][]byte
	putErr    error
	fetchData []byte
	fetchErr  error
	fetched   []string
}

func (s *memStorage) Put(_ context.Context, data []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return "", s.putErr
	}
	s.puts = append(s.puts, data)
	return fmt.Sprintf("https://cdn.test/img-%d.png", len(s.puts)), nil
}

func (s *memStorage) Fetch(_ context.Context, url string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched = append(s.fetched, url)
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return s.fetchData, nil
}

// memTransport records outbound messages.
type memTransport struct {
	mu     sync.Mutex
	texts  []string
	photos []string
}

func (t *memTransport) SendText(_ context.Context, _ int64, text string, _ model.Keyboard) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.texts = append(t.texts, text)
	return nil
}

func (t *memTransport) SendPhoto(_ context.Context, _ int64, imageURL, _ string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.photos = append(t.photos, imageURL)
	return nil
}

// quotaStub is an in-memory quota repository for wiring a real quota
// service into completer tests.
type quotaStub struct {
	rows map[int64]*quota.UserQuota
}

func newQuotaStub() *quotaStub {
	return &quotaStub{rows: make(map[int64]*quota.UserQuota)}
}

func (q *quotaStub) GetOrCreate(_ context.Context, userID int64, initialFree int) (*quota.UserQuota, error) {
	if row, ok := q.rows[userID]; ok {
		return row, nil
	}
	row := &quota.UserQuota{UserID: userID, FreeCredits: initialFree}
	q.rows[userID] = row
	return row, nil
}

func (q *quotaStub) Get(_ context.Context, userID int64) (*quota.UserQuota, error) {
	row, ok := q.rows[userID]
	if !ok {
		return nil, quota.ErrQuotaNotFound
	}
	return row, nil
}

func (q *quotaStub) DecrementFree(_ context.Context, userID int64) error {
	if row, ok := q.rows[userID]; ok && row.FreeCredits > 0 {
		row.FreeCredits--
	}
	return nil
}

func (q *quotaStub) IncrementGenerated(_ context.Context, userID int64) error {
	if row, ok := q.rows[userID]; ok {
		row.TotalGenerated++
	}
	return nil
}

func (q *quotaStub) SetPreferredModel(_ context.Context, userID int64, modelID string) error {
	if row, ok := q.rows[userID]; ok {
		row.PreferredModel = modelID
	}
	return nil
}

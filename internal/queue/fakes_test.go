package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/voice-journal/internal/blobstore"
	"github.com/cuongbtq/voice-journal/internal/domain"
)

// memStore mirrors the conditional-update semantics of the Postgres store
type memStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job

	insertErr error
	claimErr  error
	markErr   error
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*domain.Job)}
}

func (s *memStore) Insert(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *memStore) GetByID(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *memStore) ClaimQueued(_ context.Context, limit int, now time.Time) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return nil, s.claimErr
	}

	var eligible []*domain.Job
	for _, job := range s.jobs {
		if job.Status == domain.StatusQueued && !job.AvailableAt.After(now) {
			eligible = append(eligible, job)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].CreatedAt.Equal(eligible[j].CreatedAt) {
			return eligible[i].ID < eligible[j].ID
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}

	claimed := make([]*domain.Job, 0, len(eligible))
	for _, job := range eligible {
		claimedAt := now
		job.Status = domain.StatusProcessing
		job.Attempts++
		job.ClaimedAt = &claimedAt
		job.UpdatedAt = now
		cp := *job
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

func (s *memStore) transition(jobID string, attempt int, apply func(*domain.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	job, ok := s.jobs[jobID]
	if !ok || job.Status != domain.StatusProcessing || job.Attempts != attempt {
		return domain.ErrInvalidTransition
	}
	from := job.Status
	apply(job)
	if !from.CanTransition(job.Status) {
		panic("memStore: illegal transition " + from.String() + " -> " + job.Status.String())
	}
	job.ClaimedAt = nil
	return nil
}

func (s *memStore) MarkCompleted(_ context.Context, jobID string, attempt int, result string, now time.Time) error {
	return s.transition(jobID, attempt, func(job *domain.Job) {
		job.Status = domain.StatusCompleted
		job.Result = &result
		job.LastError = nil
		job.UpdatedAt = now
	})
}

func (s *memStore) MarkRetry(_ context.Context, jobID string, attempt int, lastError string, availableAt, now time.Time) error {
	return s.transition(jobID, attempt, func(job *domain.Job) {
		job.Status = domain.StatusQueued
		job.LastError = &lastError
		job.AvailableAt = availableAt
		job.UpdatedAt = now
	})
}

func (s *memStore) MarkFailed(_ context.Context, jobID string, attempt int, lastError string, now time.Time) error {
	return s.transition(jobID, attempt, func(job *domain.Job) {
		job.Status = domain.StatusFailed
		job.Result = nil
		job.LastError = &lastError
		job.UpdatedAt = now
	})
}

func (s *memStore) ReclaimStale(_ context.Context, claimedBefore, now time.Time, maxAttempts int, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, job := range s.jobs {
		if job.Status != domain.StatusProcessing || job.ClaimedAt == nil || !job.ClaimedAt.Before(claimedBefore) {
			continue
		}
		if job.Attempts >= maxAttempts {
			job.Status = domain.StatusFailed
		} else {
			job.Status = domain.StatusQueued
		}
		r := reason
		job.LastError = &r
		job.ClaimedAt = nil
		job.AvailableAt = now
		job.UpdatedAt = now
		n++
	}
	return n, nil
}

func (s *memStore) get(jobID string) domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[jobID]
}

// memBlobs serves the key itself as the audio payload unless told otherwise
type memBlobs struct {
	mu      sync.Mutex
	missing map[string]bool
	fetches int
}

func (b *memBlobs) FetchBytes(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetches++
	if b.missing[key] {
		return nil, blobstore.ErrNotFound
	}
	return []byte(key), nil
}

type transcribeFunc func(ctx context.Context, audio []byte, mimeType string) (string, error)

// recordingTranscriber counts calls per audio payload and tracks peak concurrency
type recordingTranscriber struct {
	mu        sync.Mutex
	calls     map[string]int
	mimeTypes map[string]string
	inFlight  int
	peak      int
	fn        transcribeFunc
}

func newRecordingTranscriber(fn transcribeFunc) *recordingTranscriber {
	if fn == nil {
		fn = func(_ context.Context, audio []byte, _ string) (string, error) {
			return "transcript of " + string(audio), nil
		}
	}
	return &recordingTranscriber{
		calls:     make(map[string]int),
		mimeTypes: make(map[string]string),
		fn:        fn,
	}
}

func (r *recordingTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	r.mu.Lock()
	r.calls[string(audio)]++
	r.mimeTypes[string(audio)] = mimeType
	r.inFlight++
	if r.inFlight > r.peak {
		r.peak = r.inFlight
	}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inFlight--
		r.mu.Unlock()
	}()

	return r.fn(ctx, audio, mimeType)
}

func (r *recordingTranscriber) callCount(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[key]
}

func (r *recordingTranscriber) totalCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, n := range r.calls {
		total += n
	}
	return total
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"dockit/app/pkg/logger"
)

var (
	ErrJobExists   = errors.New("scheduler: job already exists")
	ErrAlreadyRun  = errors.New("scheduler: already started")
	ErrInvalidJob  = errors.New("scheduler: invalid job")
	ErrStopTimeout = errors.New("scheduler: stop timeout")
)

// JobSpec is a periodic job. Run receives a context that carries both the
// scheduler lifetime and, when Timeout is set, a per-run deadline.
type JobSpec struct {
	Name       string
	Interval   time.Duration
	Timeout    time.Duration
	RunOnStart bool
	Run        func(context.Context) error
}

type JobStatus struct {
	Name         string
	Runs         int64
	LastStartAt  time.Time
	LastEndAt    time.Time
	LastError    string
	LastDuration time.Duration
}

type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]JobSpec
	status  map[string]JobStatus
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New() *Scheduler {
	return &Scheduler{
		jobs:   make(map[string]JobSpec),
		status: make(map[string]JobStatus),
	}
}

func (s *Scheduler) Register(job JobSpec) error {
	switch {
	case job.Name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidJob)
	case job.Interval <= 0:
		return fmt.Errorf("%w: %s has no interval", ErrInvalidJob, job.Name)
	case job.Run == nil:
		return fmt.Errorf("%w: %s has no run func", ErrInvalidJob, job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyRun
	}
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, job.Name)
	}
	s.jobs[job.Name] = job
	s.status[job.Name] = JobStatus{Name: job.Name}
	return nil
}

func (s *Scheduler) Start(parent context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyRun
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.started = true

	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.runLoop(ctx, job)
	}
	return nil
}

// Stop cancels every job and waits up to timeout for in-flight runs to drain.
// A timeout of zero waits forever.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.cancel = nil
	s.started = false
	s.mu.Unlock()

	cancel()
	if timeout <= 0 {
		s.wg.Wait()
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("%w after %s", ErrStopTimeout, timeout)
	}
}

func (s *Scheduler) Snapshot() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]JobStatus, 0, len(s.status))
	for _, st := range s.status {
		items = append(items, st)
	}
	sort.Slice(items, func(a, b int) bool { return items[a].Name < items[b].Name })
	return items
}

func (s *Scheduler) runLoop(ctx context.Context, job JobSpec) {
	defer s.wg.Done()
	if job.RunOnStart {
		s.runOnce(ctx, job)
	}
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, job)
		}
	}
}

func (s *Scheduler) runOnce(parent context.Context, job JobSpec) {
	start := time.Now()

	runCtx := parent
	cancel := func() {}
	if job.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(parent, job.Timeout)
	}
	err := job.Run(runCtx)
	cancel()
	end := time.Now()

	s.mu.Lock()
	st := s.status[job.Name]
	st.Runs++
	st.LastStartAt = start
	st.LastEndAt = end
	st.LastDuration = end.Sub(start)
	st.LastError = ""
	if err != nil {
		st.LastError = err.Error()
	}
	s.status[job.Name] = st
	s.mu.Unlock()

	if err != nil {
		logger.Error("[Scheduler] job=%s failed: %v", job.Name, err)
	}
}

// Package jobmgr runs named background jobs with cancellation and in-memory
// tracking. At most one job runs under a given name at a time.
//
// Typical usage:
//
//	jm := jobmgr.NewManager(ctx, log)
//
//	err := jm.StartAsync("scheduler", func(ctx context.Context) error {
//	    // do work until ctx is cancelled
//	    return nil
//	})
//
//	// later...
//	_ = jm.Stop("scheduler")
//	jm.Wait()
//
// The package is intentionally minimal: no retry logic, no persistence.
package jobmgr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	ErrAlreadyRunning = errors.New("job is already running")
	ErrNotRunning     = errors.New("job not running")
)

// Job represents a running unit of work.
// Jobs are added and removed by Manager automatically.
type Job struct {
	Name   string
	Cancel context.CancelFunc
}

// Manager orchestrates starting, stopping and tracking jobs.
// It is safe for concurrent use.
type Manager struct {
	parent context.Context
	log    zerolog.Logger

	mu   sync.Mutex
	jobs map[string]*Job
	wg   sync.WaitGroup
}

// NewManager creates a Manager whose jobs are cancelled when parent is.
func NewManager(parent context.Context, log zerolog.Logger) *Manager {
	return &Manager{
		parent: parent,
		log:    log,
		jobs:   make(map[string]*Job),
	}
}

// StartAsync runs a job in a separate goroutine and returns immediately.
// If a job with the same name is already running, ErrAlreadyRunning is
// returned. Jobs are removed automatically after completion.
func (m *Manager) StartAsync(name string, runner func(ctx context.Context) error) error {
	ctx, job, err := m.reserve(name)
	if err != nil {
		return err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.release(job)
		_ = m.run(ctx, name, runner)
	}()
	return nil
}

func (m *Manager) reserve(name string) (context.Context, *Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[name]; exists {
		return nil, nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
	}
	ctx, cancel := context.WithCancel(m.parent)
	job := &Job{Name: name, Cancel: cancel}
	m.jobs[name] = job
	return ctx, job, nil
}

func (m *Manager) release(job *Job) {
	job.Cancel()
	m.mu.Lock()
	if m.jobs[job.Name] == job {
		delete(m.jobs, job.Name)
	}
	m.mu.Unlock()
}

func (m *Manager) run(ctx context.Context, name string, runner func(ctx context.Context) error) error {
	m.log.Debug().Str("job", name).Msg("job running")
	err := runner(ctx)
	switch {
	case err != nil && !errors.Is(err, context.Canceled):
		m.log.Error().Err(err).Str("job", name).Msg("job failed")
	default:
		m.log.Debug().Str("job", name).Msg("job done")
	}
	return err
}

// Stop cancels a running job by name. The name stays reserved until the
// job has returned.
func (m *Manager) Stop(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, name)
	}

	job.Cancel()
	return nil
}

// Running reports whether a job with name is active.
func (m *Manager) Running(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.jobs[name]
	return ok
}

// List returns the active job names, sorted.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.jobs))
	for k := range m.jobs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Status returns a human-readable summary of active jobs.
// Example:
//
//	"Running jobs: markov-regenerate, scheduler"
//
// If none are running: "No jobs are running."
func (m *Manager) Status() string {
	active := m.List()
	if len(active) == 0 {
		return "No jobs are running."
	}
	return fmt.Sprintf("Running jobs: %s", strings.Join(active, ", "))
}

// Wait blocks until every async job has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

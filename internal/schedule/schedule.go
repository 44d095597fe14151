// Package schedule periodically restarts discovery while nothing is connected.
package schedule

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cjeanneret/RotaGo/internal/debug"
)

// Discoverer starts a scan when no scan or connection is in progress.
type Discoverer interface {
	DiscoverIfIdle()
}

// Rediscovery runs Discoverer.DiscoverIfIdle on a cron schedule.
type Rediscovery struct {
	cron    *cron.Cron
	target  Discoverer
	spec    string
	entry   cron.EntryID
	mu      sync.Mutex
	started bool
	runs    int
}

// New parses spec (standard five-field cron or a descriptor such as
// "@every 5m") and registers the job. It does not start the scheduler.
func New(spec string, target Discoverer) (*Rediscovery, error) {
	if spec == "" {
		return nil, fmt.Errorf("schedule: empty spec")
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("schedule: invalid spec %q: %w", spec, err)
	}
	r := &Rediscovery{
		cron:   cron.New(),
		target: target,
		spec:   spec,
	}
	r.entry = r.cron.Schedule(sched, cron.FuncJob(r.Tick))
	return r, nil
}

// Tick runs one rediscovery attempt.
func (r *Rediscovery) Tick() {
	r.mu.Lock()
	r.runs++
	n := r.runs
	r.mu.Unlock()
	debug.Verbose("scheduled rediscovery", "run", n, "schedule", r.spec)
	r.target.DiscoverIfIdle()
}

// Runs returns how many times Tick has fired.
func (r *Rediscovery) Runs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

// Next returns the next activation time, zero before Start.
func (r *Rediscovery) Next() time.Time {
	return r.cron.Entry(r.entry).Next
}

func (r *Rediscovery) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.cron.Start()
	r.started = true
	debug.Info("rediscovery scheduled", "schedule", r.spec)
}

// Stop halts the scheduler and waits for a running job to return.
func (r *Rediscovery) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	r.mu.Unlock()
	<-r.cron.Stop().Done()
}

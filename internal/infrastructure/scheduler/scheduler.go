package scheduler

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
)

type Logger interface {
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

// Scheduler drives cron-cadence jobs. Each named job holds its own lock for
// the duration of a run: a tick that fires while the previous run of the same
// job is still going is skipped, never queued. Overlapping dumps against the
// same database are unsafe.
type Scheduler struct {
	cron   *cron.Cron
	logger Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(logger Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *Scheduler) jobLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locks[name]; !ok {
		s.locks[name] = &sync.Mutex{}
	}
	return s.locks[name]
}

// AddJob registers job under the given cron spec. Jobs sharing a name share a
// lock, so a full-backup job and a manual full backup routed through the same
// name cannot overlap.
func (s *Scheduler) AddJob(name, spec string, job func(context.Context) error) error {
	lock := s.jobLock(name)

	_, err := s.cron.AddFunc(spec, func() {
		if !lock.TryLock() {
			s.logger.Warnf("[%s] Previous run still in progress, skipping this tick", name)
			return
		}
		defer lock.Unlock()

		if err := job(context.Background()); err != nil {
			s.logger.Errorf("[%s] Scheduled run failed: %v", name, err)
		}
	})
	return err
}

// RunExclusive executes fn under the job lock outside the cron cadence, for
// one-shot CLI invocations that must still respect skip-if-busy.
func (s *Scheduler) RunExclusive(ctx context.Context, name string, fn func(context.Context) error) error {
	lock := s.jobLock(name)
	lock.Lock()
	defer lock.Unlock()
	return fn(ctx)
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

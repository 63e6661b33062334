package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job — периодическая задача планировщика.
type Job func(ctx context.Context) error

// Scheduler управляет запланированными задачами
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	jobs    map[string]Job
	running bool
}

// New создает новый планировщик; nil loc означает UTC.
func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(loc)),
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]Job),
	}
}

// AddJob registers f under name using a standard five-field cron spec or a
// descriptor such as "@daily".
func (s *Scheduler) AddJob(name, spec string, f Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("job %q already registered", name)
	}
	_, err := s.cron.AddFunc(spec, func() {
		log.Printf("🕘 Triggered %s", name)
		if err := f(s.ctx); err != nil {
			log.Printf("❌ %s failed: %v", name, err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", name, err)
	}
	s.jobs[name] = f
	return nil
}

// Trigger runs a registered job immediately in the calling goroutine.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.Lock()
	f, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return f(ctx)
}

// Start запускает планировщик
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.jobs) == 0 {
		log.Println("⚠️ No jobs registered, scheduler not started")
		return
	}
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	log.Printf("📅 Scheduler started with %d job(s)", len(s.jobs))
}

// Stop останавливает планировщик и ждёт завершения текущих задач
func (s *Scheduler) Stop() {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()
	if wasRunning {
		<-s.cron.Stop().Done()
	}
	s.cancel()
	log.Println("📅 Scheduler stopped")
}

// IsRunning проверяет, запущен ли планировщик
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Next returns the next activation time across all jobs.
func (s *Scheduler) Next() (time.Time, bool) {
	var next time.Time
	for _, e := range s.cron.Entries() {
		if e.Next.IsZero() {
			continue
		}
		if next.IsZero() || e.Next.Before(next) {
			next = e.Next
		}
	}
	return next, !next.IsZero()
}

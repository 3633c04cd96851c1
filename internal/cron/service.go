// Package cron schedules recurring agent prompts. Jobs fire as ordinary
// inbound messages, so the agent handles them with its full tool set.
package cron

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"nanobot/internal/domain"
	"nanobot/internal/metrics"
)

// cronParser accepts standard 5-field expressions, optional seconds, and
// descriptors like "@hourly" or "@every 10m".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Job is one scheduled prompt.
type Job struct {
	ID        string     `json:"id"`
	Name      string     `json:"name,omitempty"`
	Schedule  string     `json:"schedule"`
	Message   string     `json:"message"`
	Channel   string     `json:"channel"`
	ChatID    string     `json:"chat_id"`
	Enabled   bool       `json:"enabled"`
	CreatedAt time.Time  `json:"created_at"`
	LastRun   *time.Time `json:"last_run,omitempty"`
}

type Config struct {
	// StorePath is the JSON file jobs are persisted to. Empty disables
	// persistence (jobs live only for the process lifetime).
	StorePath string
	Bus       domain.MessageBus
	Logger    *slog.Logger
}

// Service owns the cron runner and the job table.
type Service struct {
	mu        sync.Mutex
	jobs      map[string]*Job
	entries   map[string]cron.EntryID
	runner    *cron.Cron
	bus       domain.MessageBus
	storePath string
	logger    *slog.Logger
}

func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		jobs:      make(map[string]*Job),
		entries:   make(map[string]cron.EntryID),
		runner:    cron.New(cron.WithParser(cronParser)),
		bus:       cfg.Bus,
		storePath: cfg.StorePath,
		logger:    logger,
	}
	if err := s.load(); err != nil {
		logger.Warn("cannot load cron jobs", "path", cfg.StorePath, "err", err)
	}
	return s
}

// Start begins firing schedules. Idempotent.
func (s *Service) Start() {
	s.runner.Start()
	s.mu.Lock()
	n := len(s.jobs)
	s.mu.Unlock()
	s.logger.Info("cron service started", "jobs", n)
}

// Stop halts the runner and waits for in-flight fires to finish.
func (s *Service) Stop() {
	<-s.runner.Stop().Done()
	s.logger.Info("cron service stopped")
}

// Add validates and registers a job. An empty ID gets a generated one; adding
// an existing ID replaces that job, which makes config-defined jobs
// idempotent across restarts.
func (s *Service) Add(job Job) (Job, error) {
	if job.Message == "" {
		return Job{}, fmt.Errorf("job message is required")
	}
	if job.Channel == "" || job.ChatID == "" {
		return Job{}, fmt.Errorf("job channel and chat_id are required")
	}
	if _, err := cronParser.Parse(job.Schedule); err != nil {
		return Job{}, fmt.Errorf("invalid schedule %q: %w", job.Schedule, err)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()[:8]
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.unscheduleLocked(job.ID)
	s.jobs[job.ID] = &job
	if job.Enabled {
		if err := s.scheduleLocked(&job); err != nil {
			delete(s.jobs, job.ID)
			return Job{}, err
		}
	}
	if err := s.saveLocked(); err != nil {
		s.logger.Warn("cannot persist cron jobs", "err", err)
	}
	s.logger.Info("cron job added", "id", job.ID, "schedule", job.Schedule, "target", job.Channel+":"+job.ChatID)
	return job, nil
}

// Remove deletes a job by id.
func (s *Service) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return fmt.Errorf("no job with id %q", id)
	}
	s.unscheduleLocked(id)
	delete(s.jobs, id)
	if err := s.saveLocked(); err != nil {
		s.logger.Warn("cannot persist cron jobs", "err", err)
	}
	s.logger.Info("cron job removed", "id", id)
	return nil
}

// List returns all jobs ordered by creation time.
func (s *Service) List() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, *j)
	}
	sort.Slice(jobs, func(i, k int) bool {
		if jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].ID < jobs[k].ID
		}
		return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
	})
	return jobs
}

func (s *Service) scheduleLocked(job *Job) error {
	id := job.ID
	entry, err := s.runner.AddFunc(job.Schedule, func() { s.fire(id) })
	if err != nil {
		return fmt.Errorf("schedule job %s: %w", id, err)
	}
	s.entries[id] = entry
	return nil
}

func (s *Service) unscheduleLocked(id string) {
	if entry, ok := s.entries[id]; ok {
		s.runner.Remove(entry)
		delete(s.entries, id)
	}
}

func (s *Service) fire(id string) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	now := time.Now()
	job.LastRun = &now
	msg := domain.InboundMessage{
		Channel:   job.Channel,
		SenderID:  "cron:" + job.ID,
		ChatID:    job.ChatID,
		Content:   job.Message,
		Timestamp: now,
	}
	s.mu.Unlock()

	metrics.CronFires.Inc()
	if err := s.bus.PublishInbound(msg); err != nil {
		s.logger.Error("cannot publish cron job", "id", id, "err", err)
		return
	}
	s.logger.Debug("cron job fired", "id", id)
}

func (s *Service) load() error {
	if s.storePath == "" {
		return nil
	}
	data, err := os.ReadFile(s.storePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var jobs []Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return fmt.Errorf("parse %s: %w", s.storePath, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range jobs {
		job := jobs[i]
		if _, err := cronParser.Parse(job.Schedule); err != nil {
			s.logger.Warn("skipping persisted job with bad schedule", "id", job.ID, "schedule", job.Schedule)
			continue
		}
		s.jobs[job.ID] = &job
		if job.Enabled {
			if err := s.scheduleLocked(&job); err != nil {
				s.logger.Warn("cannot schedule persisted job", "id", job.ID, "err", err)
			}
		}
	}
	return nil
}

func (s *Service) saveLocked() error {
	if s.storePath == "" {
		return nil
	}
	jobs := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, *j)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].ID < jobs[k].ID })

	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.storePath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.storePath, data, 0o644)
}

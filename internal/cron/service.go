package cron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/clawcore/internal/fsutil"
	"github.com/haasonsaas/clawcore/pkg/models"
)

// JobsFile is the name of the job store inside the cron directory.
const JobsFile = "jobs.json"

// Service owns the persisted job list and fires due jobs.
type Service struct {
	path     string
	inbound  InboundPublisher
	outbound OutboundPublisher
	logger   *slog.Logger
	now      func() time.Time
	tick     time.Duration

	mu   sync.Mutex
	jobs []*Job
}

// Option configures the service.
type Option func(*Service)

// WithLogger configures the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval overrides the one second tick.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.tick = interval
		}
	}
}

// NewService loads dir/jobs.json (if present) and returns a service that
// publishes agent turns to inbound and direct deliveries to outbound.
func NewService(dir string, inbound InboundPublisher, outbound OutboundPublisher, opts ...Option) (*Service, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("cron store directory required")
	}
	s := &Service{
		path:     filepath.Join(dir, JobsFile),
		inbound:  inbound,
		outbound: outbound,
		logger:   slog.Default().With("component", "cron"),
		now:      time.Now,
		tick:     time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the location of jobs.json.
func (s *Service) Path() string { return s.path }

// LoadJobs reads a jobs.json file without starting a service.
func LoadJobs(dir string) ([]Job, error) {
	jobs, err := readJobs(filepath.Join(dir, JobsFile))
	if err != nil {
		return nil, err
	}
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, job.clone())
	}
	return out, nil
}

func readJobs(path string) ([]*Job, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cron jobs: %w", err)
	}
	var jobs []*Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return jobs, nil
}

func (s *Service) load() error {
	jobs, err := readJobs(s.path)
	if err != nil {
		return err
	}
	s.jobs = jobs[:0:0]
	for _, job := range jobs {
		if job == nil || job.ID == "" {
			continue
		}
		s.jobs = append(s.jobs, job)
	}
	return nil
}

// saveLocked persists the job list. Callers hold s.mu.
func (s *Service) saveLocked() error {
	jobs := s.jobs
	if jobs == nil {
		jobs = []*Job{}
	}
	if err := fsutil.WriteJSONAtomic(s.path, jobs, 0o600); err != nil {
		return fmt.Errorf("save cron jobs: %w", err)
	}
	return nil
}

// Add validates and stores a new job. At jobs are removed after they run.
func (s *Service) Add(req AddRequest) (*Job, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, errors.New("message is required")
	}
	channel := strings.ToLower(strings.TrimSpace(req.Channel))
	to := strings.TrimSpace(req.To)
	if channel == "" || to == "" {
		return nil, errors.New("channel and chat id are required")
	}
	if err := req.Schedule.Validate(); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Unnamed job"
	}

	now := s.now()
	next, ok, err := req.Schedule.Next(now)
	if err != nil {
		return nil, err
	}
	job := &Job{
		ID:       strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		Name:     name,
		Enabled:  true,
		Schedule: req.Schedule,
		Payload: Payload{
			Message: message,
			Channel: channel,
			To:      to,
			Deliver: req.Deliver,
		},
		DeleteAfterRun: req.Schedule.Kind == ScheduleAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if ok {
		job.State.NextRun = &next
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	if err := s.saveLocked(); err != nil {
		s.jobs = s.jobs[:len(s.jobs)-1]
		return nil, err
	}
	s.logger.Info("cron job added", "id", job.ID, "name", job.Name, "schedule", job.Schedule.String())
	out := job.clone()
	return &out, nil
}

// List returns jobs ordered by next run, disabled ones last.
func (s *Service) List(includeDisabled bool) []Job {
	s.mu.Lock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if !job.Enabled && !includeDisabled {
			continue
		}
		out = append(out, job.clone())
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].State.NextRun, out[j].State.NextRun
		if out[i].Enabled != out[j].Enabled {
			return out[i].Enabled
		}
		if a == nil || b == nil {
			return a != nil
		}
		return a.Before(*b)
	})
	return out
}

// Get returns the job matching id or a unique id prefix.
func (s *Service) Get(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.findLocked(id)
	if err != nil {
		return nil, err
	}
	out := s.jobs[idx].clone()
	return &out, nil
}

// Remove deletes the job matching id or a unique id prefix.
func (s *Service) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.findLocked(id)
	if err != nil {
		return err
	}
	removed := s.jobs[idx]
	s.jobs = append(s.jobs[:idx], s.jobs[idx+1:]...)
	if err := s.saveLocked(); err != nil {
		return err
	}
	s.logger.Info("cron job removed", "id", removed.ID)
	return nil
}

// Enable re-enables a job and recomputes its next run.
func (s *Service) Enable(id string) (*Job, error) {
	return s.setEnabled(id, true)
}

// Disable stops a job from firing without deleting it.
func (s *Service) Disable(id string) (*Job, error) {
	return s.setEnabled(id, false)
}

func (s *Service) setEnabled(id string, enabled bool) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.findLocked(id)
	if err != nil {
		return nil, err
	}
	job := s.jobs[idx]
	now := s.now()
	job.Enabled = enabled
	job.UpdatedAt = now
	if enabled {
		next, ok, err := job.Schedule.Next(now)
		if err != nil {
			return nil, err
		}
		job.State.NextRun = nil
		if ok {
			job.State.NextRun = &next
		}
	}
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	out := job.clone()
	return &out, nil
}

func (s *Service) findLocked(id string) (int, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return -1, errors.New("job id required")
	}
	match := -1
	for i, job := range s.jobs {
		if job.ID == id {
			return i, nil
		}
		if strings.HasPrefix(job.ID, id) {
			if match >= 0 {
				return -1, fmt.Errorf("job id prefix %q is ambiguous", id)
			}
			match = i
		}
	}
	if match < 0 {
		return -1, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return match, nil
}

// Run fires due jobs every tick until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	count := len(s.jobs)
	s.mu.Unlock()
	s.logger.Info("cron service started", "jobs", count, "store", s.path)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.RunDue(ctx)
		}
	}
}

// RunDue fires every enabled job whose next run has passed and returns how
// many ran.
func (s *Service) RunDue(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	var due []*Job
	for _, job := range s.jobs {
		if !job.Enabled || job.State.NextRun == nil || job.State.NextRun.After(now) {
			continue
		}
		// Cleared while running so a slow publish cannot double fire.
		job.State.NextRun = nil
		due = append(due, job)
	}
	s.mu.Unlock()
	if len(due) == 0 {
		return 0
	}

	results := make([]error, len(due))
	for i, job := range due {
		if err := ctx.Err(); err != nil {
			results[i] = err
			continue
		}
		results[i] = s.fire(job, now)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	done := make(map[string]bool)
	for i, job := range due {
		ranAt := now
		job.State.LastRun = &ranAt
		job.UpdatedAt = now
		if err := results[i]; err != nil {
			job.State.LastStatus = StatusError
			job.State.LastError = err.Error()
			s.logger.Warn("cron job failed", "id", job.ID, "name", job.Name, "error", err)
		} else {
			job.State.LastStatus = StatusOK
			job.State.LastError = ""
			s.logger.Debug("cron job fired", "id", job.ID, "name", job.Name)
		}

		if job.DeleteAfterRun {
			done[job.ID] = true
			continue
		}
		if job.Schedule.Kind == ScheduleAt {
			job.Enabled = false
			continue
		}
		next, ok, err := job.Schedule.Next(now)
		switch {
		case err != nil:
			job.State.LastStatus = StatusError
			job.State.LastError = err.Error()
			job.Enabled = false
		case ok:
			job.State.NextRun = &next
		default:
			job.Enabled = false
		}
	}
	if len(done) > 0 {
		kept := s.jobs[:0]
		for _, job := range s.jobs {
			if !done[job.ID] {
				kept = append(kept, job)
			}
		}
		s.jobs = kept
	}
	if err := s.saveLocked(); err != nil {
		s.logger.Error("persist cron jobs", "error", err)
	}
	return len(due)
}

func (s *Service) fire(job *Job, now time.Time) error {
	payload := job.Payload
	meta := map[string]any{
		"cron_job_id":   job.ID,
		"cron_job_name": job.Name,
	}
	if payload.Deliver {
		if s.outbound == nil {
			return errors.New("outbound publisher not configured")
		}
		return s.outbound.Publish(&models.OutboundMessage{
			ID:        uuid.NewString(),
			Channel:   models.ChannelType(payload.Channel),
			ChatID:    payload.To,
			Text:      payload.Message,
			Metadata:  meta,
			CreatedAt: now,
		})
	}
	if s.inbound == nil {
		return errors.New("inbound publisher not configured")
	}
	return s.inbound.Publish(&models.InboundMessage{
		ID:         uuid.NewString(),
		Channel:    models.ChannelType(payload.Channel),
		ChatID:     payload.To,
		SenderID:   "cron",
		SenderName: job.Name,
		Text:       payload.Message,
		Origin:     models.OriginCron,
		Metadata:   meta,
		ReceivedAt: now,
	})
}

// Package cron runs persisted scheduled jobs that feed messages into the bus.
package cron

import (
	"errors"
	"time"

	"github.com/haasonsaas/clawcore/pkg/models"
)

// ErrJobNotFound is returned when no job matches an id or id prefix.
var ErrJobNotFound = errors.New("cron job not found")

// RunStatus is the outcome of a job's last run.
type RunStatus string

const (
	StatusOK    RunStatus = "ok"
	StatusError RunStatus = "error"
)

// Payload is what a job sends when it fires.
type Payload struct {
	Message string `json:"message"`
	Channel string `json:"channel"`
	To      string `json:"to"`
	// Deliver sends Message straight to the chat instead of running an
	// agent turn with it.
	Deliver bool `json:"deliver"`
}

// JobState is the runtime bookkeeping persisted with each job.
type JobState struct {
	NextRun    *time.Time `json:"next_run,omitempty"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	LastStatus RunStatus  `json:"last_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// Job is a scheduled job as stored in jobs.json.
type Job struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Enabled        bool      `json:"enabled"`
	Schedule       Schedule  `json:"schedule"`
	Payload        Payload   `json:"payload"`
	State          JobState  `json:"state"`
	DeleteAfterRun bool      `json:"delete_after_run,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (j *Job) clone() Job {
	out := *j
	out.State.NextRun = copyTime(j.State.NextRun)
	out.State.LastRun = copyTime(j.State.LastRun)
	out.Schedule.At = copyTime(j.Schedule.At)
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// AddRequest describes a new job.
type AddRequest struct {
	Name     string
	Schedule Schedule
	Message  string
	Channel  string
	To       string
	Deliver  bool
}

// InboundPublisher accepts synthetic inbound messages.
type InboundPublisher interface {
	Publish(msg *models.InboundMessage) error
}

// OutboundPublisher accepts messages bound for a chat.
type OutboundPublisher interface {
	Publish(msg *models.OutboundMessage) error
}

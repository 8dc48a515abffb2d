package cron

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/haasonsaas/clawcore/pkg/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sink struct {
	mu       sync.Mutex
	inbound  []*models.InboundMessage
	outbound []*models.OutboundMessage
	err      error
}

type inboundSink struct{ *sink }

func (s inboundSink) Publish(msg *models.InboundMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.inbound = append(s.inbound, msg)
	return nil
}

type outboundSink struct{ *sink }

func (s outboundSink) Publish(msg *models.OutboundMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbound = append(s.outbound, msg)
	return nil
}

func newTestService(t *testing.T, dir string) (*Service, *sink, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)}
	out := &sink{}
	svc, err := NewService(dir, inboundSink{out}, outboundSink{out},
		WithNow(clock.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc, out, clock
}

func TestAddValidates(t *testing.T) {
	svc, _, _ := newTestService(t, t.TempDir())
	tests := []struct {
		name string
		req  AddRequest
		want string
	}{
		{"no message", AddRequest{Schedule: EverySchedule(time.Minute), Channel: "telegram", To: "1"}, "message is required"},
		{"no target", AddRequest{Schedule: EverySchedule(time.Minute), Message: "x"}, "chat id"},
		{"bad cron", AddRequest{Schedule: CronSchedule("nope", ""), Message: "x", Channel: "telegram", To: "1"}, "invalid cron expression"},
		{"tiny interval", AddRequest{Schedule: EverySchedule(time.Millisecond), Message: "x", Channel: "telegram", To: "1"}, "at least 1s"},
		{"bad tz", AddRequest{Schedule: CronSchedule("0 9 * * *", "Mars/Olympus"), Message: "x", Channel: "telegram", To: "1"}, "time zone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Add(tt.req)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Add() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestEveryJobPublishesInbound(t *testing.T) {
	dir := t.TempDir()
	svc, out, clock := newTestService(t, dir)

	job, err := svc.Add(AddRequest{
		Name:     "standup",
		Schedule: EverySchedule(10 * time.Minute),
		Message:  "summarize open tasks",
		Channel:  "Telegram",
		To:       "42",
	})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if job.DeleteAfterRun {
		t.Fatal("every jobs must not be deleted after running")
	}
	if want := clock.Now().Add(10 * time.Minute); !job.State.NextRun.Equal(want) {
		t.Fatalf("next run = %v, want %v", job.State.NextRun, want)
	}

	if n := svc.RunDue(context.Background()); n != 0 {
		t.Fatalf("nothing should be due yet, ran %d", n)
	}
	clock.Advance(10 * time.Minute)
	if n := svc.RunDue(context.Background()); n != 1 {
		t.Fatalf("RunDue() = %d, want 1", n)
	}

	if len(out.inbound) != 1 || len(out.outbound) != 0 {
		t.Fatalf("expected one inbound message, got %d inbound %d outbound", len(out.inbound), len(out.outbound))
	}
	msg := out.inbound[0]
	if msg.Origin != models.OriginCron || msg.Channel != models.ChannelTelegram || msg.ChatID != "42" || msg.Text != "summarize open tasks" {
		t.Fatalf("unexpected inbound message %+v", msg)
	}
	if msg.Metadata["cron_job_id"] != job.ID {
		t.Fatalf("metadata missing job id: %v", msg.Metadata)
	}

	got, err := svc.Get(job.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.State.LastStatus != StatusOK || got.State.LastRun == nil {
		t.Fatalf("state not updated: %+v", got.State)
	}
	if want := clock.Now().Add(10 * time.Minute); !got.State.NextRun.Equal(want) {
		t.Fatalf("next run = %v, want %v", got.State.NextRun, want)
	}
}

func TestAtJobDeliversAndIsDeleted(t *testing.T) {
	svc, out, clock := newTestService(t, t.TempDir())
	_, err := svc.Add(AddRequest{
		Schedule: AtSchedule(clock.Now().Add(time.Hour)),
		Message:  "drink water",
		Channel:  "discord",
		To:       "chan-1",
		Deliver:  true,
	})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	clock.Advance(2 * time.Hour)
	if n := svc.RunDue(context.Background()); n != 1 {
		t.Fatalf("RunDue() = %d, want 1", n)
	}
	if len(out.outbound) != 1 || out.outbound[0].Text != "drink water" || out.outbound[0].ChatID != "chan-1" {
		t.Fatalf("unexpected outbound %+v", out.outbound)
	}
	if jobs := svc.List(true); len(jobs) != 0 {
		t.Fatalf("at job should be deleted after running, still have %d", len(jobs))
	}
}

func TestFailedRunRecordsError(t *testing.T) {
	svc, out, clock := newTestService(t, t.TempDir())
	out.err = errors.New("bus full")
	job, err := svc.Add(AddRequest{Schedule: EverySchedule(time.Minute), Message: "ping", Channel: "slack", To: "C1"})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	clock.Advance(time.Minute)
	svc.RunDue(context.Background())

	got, _ := svc.Get(job.ID)
	if got.State.LastStatus != StatusError || got.State.LastError != "bus full" {
		t.Fatalf("unexpected state %+v", got.State)
	}
	if !got.Enabled || got.State.NextRun == nil {
		t.Fatal("a failed run should keep the job scheduled")
	}
}

func TestEnableDisableRemoveByPrefix(t *testing.T) {
	svc, _, clock := newTestService(t, t.TempDir())
	job, err := svc.Add(AddRequest{Schedule: CronSchedule("0 9 * * *", "UTC"), Message: "m", Channel: "telegram", To: "1"})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if want := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC); !job.State.NextRun.Equal(want) {
		t.Fatalf("next run = %v, want %v", job.State.NextRun, want)
	}

	prefix := job.ID[:6]
	if _, err := svc.Disable(prefix); err != nil {
		t.Fatalf("Disable() error = %v", err)
	}
	if jobs := svc.List(false); len(jobs) != 0 {
		t.Fatalf("disabled job listed: %+v", jobs)
	}
	clock.Advance(24 * time.Hour)
	if n := svc.RunDue(context.Background()); n != 0 {
		t.Fatalf("disabled job ran")
	}

	enabled, err := svc.Enable(prefix)
	if err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	if want := time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC); !enabled.State.NextRun.Equal(want) {
		t.Fatalf("next run after enable = %v, want %v", enabled.State.NextRun, want)
	}

	if err := svc.Remove(prefix); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := svc.Remove(prefix); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("second Remove() error = %v, want ErrJobNotFound", err)
	}
}

func TestJobsPersistAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	svc, _, _ := newTestService(t, dir)
	first, err := svc.Add(AddRequest{Name: "a", Schedule: EverySchedule(time.Hour), Message: "one", Channel: "telegram", To: "1"})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, err := svc.Add(AddRequest{Name: "b", Schedule: EverySchedule(2 * time.Hour), Message: "two", Channel: "telegram", To: "1"}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, JobsFile)); err != nil {
		t.Fatalf("jobs.json not written: %v", err)
	}

	reloaded, _, _ := newTestService(t, dir)
	names := func(jobs []Job) []string {
		var out []string
		for _, j := range jobs {
			out = append(out, j.Name)
		}
		return out
	}
	if diff := cmp.Diff([]string{"a", "b"}, names(reloaded.List(true))); diff != "" {
		t.Fatalf("reloaded jobs mismatch (-want +got):\n%s", diff)
	}
	got, err := reloaded.Get(first.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Payload != first.Payload {
		t.Fatalf("payload = %+v, want %+v", got.Payload, first.Payload)
	}

	fromDisk, err := LoadJobs(dir)
	if err != nil || len(fromDisk) != 2 {
		t.Fatalf("LoadJobs() = %d jobs, %v", len(fromDisk), err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	svc, _, _ := newTestService(t, t.TempDir())
	svc.tick = 5 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestScheduleString(t *testing.T) {
	at := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	tests := map[string]Schedule{
		"at 2026-02-01T10:00:00Z": AtSchedule(at),
		"every 1h30m0s":           EverySchedule(90 * time.Minute),
		`cron "0 9 * * 1" (UTC)`:  CronSchedule("0 9 * * 1", "UTC"),
	}
	for want, s := range tests {
		if got := s.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}

func TestParseAt(t *testing.T) {
	got, err := ParseAt("2026-03-01 07:30", "UTC")
	if err != nil {
		t.Fatalf("ParseAt() error = %v", err)
	}
	if want := time.Date(2026, 3, 1, 7, 30, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("ParseAt() = %v, want %v", got, want)
	}
	if _, err := ParseAt("tomorrow", ""); err == nil {
		t.Fatal("expected error for unparseable time")
	}
}

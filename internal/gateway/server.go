// Package gateway wires chat channels, the message bus and the agent
// runtimes into one long-running server.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/clawcore/internal/agent"
	agentctx "github.com/haasonsaas/clawcore/internal/agent/context"
	"github.com/haasonsaas/clawcore/internal/bus"
	"github.com/haasonsaas/clawcore/internal/channels"
	"github.com/haasonsaas/clawcore/internal/channels/webchat"
	"github.com/haasonsaas/clawcore/internal/cron"
	"github.com/haasonsaas/clawcore/internal/heartbeat"
	"github.com/haasonsaas/clawcore/internal/routing"
	"github.com/haasonsaas/clawcore/internal/sessions"
	"github.com/haasonsaas/clawcore/pkg/models"
)

// DefaultMaxConcurrent bounds how many sessions run turns at once.
const DefaultMaxConcurrent = 16

// Deps are the components a Server drives. Bus, Resolver, Store and at
// least one Runtime are required; the rest are optional.
type Deps struct {
	Bus      *bus.MessageBus
	Resolver *routing.Resolver
	Store    sessions.Store
	Runtimes []*agent.Runtime

	Health    *agent.HealthTracker
	Channels  *channels.Manager
	WebChat   *webchat.Adapter
	Cron      *cron.Service
	Heartbeat *heartbeat.Service
	Bootstrap *agentctx.BootstrapCache
	Registry  *prometheus.Registry
}

// Config holds server settings.
type Config struct {
	// Addr is the admin HTTP listen address. Empty disables HTTP.
	Addr string

	// MaxConcurrent bounds sessions with a turn in flight.
	MaxConcurrent int

	Version string
	Logger  *slog.Logger
}

// Server consumes the inbound topic, routes each message to an agent and
// runs the turn. Messages for one session are handled strictly in arrival
// order; different sessions run concurrently up to MaxConcurrent.
type Server struct {
	deps     Deps
	config   Config
	runtimes map[string]*agent.Runtime
	logger   *slog.Logger
	started  time.Time

	messageSem chan struct{}
	wg         sync.WaitGroup

	queueMu sync.Mutex
	queues  map[string][]*models.InboundMessage

	addrMu   sync.RWMutex
	httpAddr string
}

// New validates deps and returns a Server.
func New(deps Deps, config Config) (*Server, error) {
	if deps.Bus == nil || deps.Resolver == nil || deps.Store == nil {
		return nil, agent.NewConfigurationError("gateway", "bus, resolver and session store are required", nil)
	}
	if len(deps.Runtimes) == 0 {
		return nil, agent.NewConfigurationError("gateway", "at least one agent runtime is required", nil)
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = DefaultMaxConcurrent
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	runtimes := make(map[string]*agent.Runtime, len(deps.Runtimes))
	for _, rt := range deps.Runtimes {
		if _, dup := runtimes[rt.AgentID()]; dup {
			return nil, agent.NewConfigurationError("gateway", fmt.Sprintf("agent %q registered twice", rt.AgentID()), nil)
		}
		runtimes[rt.AgentID()] = rt
	}
	if _, ok := runtimes[deps.Resolver.DefaultAgent()]; !ok {
		return nil, agent.NewConfigurationError("gateway", fmt.Sprintf("default agent %q has no runtime", deps.Resolver.DefaultAgent()), nil)
	}

	return &Server{
		deps:       deps,
		config:     config,
		runtimes:   runtimes,
		logger:     logger.With("component", "gateway"),
		started:    time.Now(),
		messageSem: make(chan struct{}, config.MaxConcurrent),
		queues:     map[string][]*models.InboundMessage{},
	}, nil
}

// Runtime returns the runtime of an agent.
func (s *Server) Runtime(agentID string) (*agent.Runtime, bool) {
	rt, ok := s.runtimes[strings.ToLower(agentID)]
	return rt, ok
}

// Bus returns the message bus.
func (s *Server) Bus() *bus.MessageBus { return s.deps.Bus }

// HandleInbound routes msg, ensures its session exists and runs the turn
// synchronously. It is the entry point for callers that bypass the bus.
func (s *Server) HandleInbound(ctx context.Context, msg *models.InboundMessage) error {
	if msg == nil {
		return agent.NewValidationError("gateway.inbound", "message is required", nil)
	}
	_, err := s.handle(ctx, s.deps.Resolver.Resolve(msg), msg)
	return err
}

func (s *Server) handle(ctx context.Context, route routing.Resolution, msg *models.InboundMessage) (*agent.Outcome, error) {
	rt, ok := s.runtimes[route.AgentID]
	if !ok {
		return nil, agent.NewConfigurationError("gateway.route", fmt.Sprintf("no runtime for agent %q", route.AgentID), nil)
	}
	if _, err := s.deps.Store.GetOrCreate(ctx, route.SessionKey, route.AgentID, msg.Channel, msg.ChatID); err != nil {
		return nil, fmt.Errorf("open session %s: %w", route.SessionKey, err)
	}
	return rt.Handle(ctx, route.SessionKey, msg)
}

// dispatch is the inbound bus handler. It blocks while MaxConcurrent
// sessions are busy, which backs pressure up into the inbound topic.
func (s *Server) dispatch(ctx context.Context, msg *models.InboundMessage) error {
	if msg == nil {
		return nil
	}
	route := s.deps.Resolver.Resolve(msg)
	if isClearCommand(msg.Text) {
		// /clear must reach the runtime ahead of the turn it interrupts.
		if rt, ok := s.runtimes[route.AgentID]; ok {
			rt.Cancel(route.SessionKey)
		}
	}

	s.queueMu.Lock()
	if queue, busy := s.queues[route.SessionKey]; busy {
		s.queues[route.SessionKey] = append(queue, msg)
		s.queueMu.Unlock()
		return nil
	}
	s.queues[route.SessionKey] = nil
	s.queueMu.Unlock()

	select {
	case s.messageSem <- struct{}{}:
	case <-ctx.Done():
		s.queueMu.Lock()
		delete(s.queues, route.SessionKey)
		s.queueMu.Unlock()
		return ctx.Err()
	}

	s.wg.Add(1)
	go func() {
		defer func() {
			<-s.messageSem
			s.wg.Done()
		}()
		s.drain(ctx, route, msg)
	}()
	return nil
}

// drain runs msg and then every message queued behind it for the session.
func (s *Server) drain(ctx context.Context, route routing.Resolution, msg *models.InboundMessage) {
	for msg != nil {
		s.runOne(ctx, route, msg)

		s.queueMu.Lock()
		queue := s.queues[route.SessionKey]
		if len(queue) == 0 {
			delete(s.queues, route.SessionKey)
			msg = nil
		} else {
			msg = queue[0]
			s.queues[route.SessionKey] = queue[1:]
		}
		s.queueMu.Unlock()
	}
}

func (s *Server) runOne(ctx context.Context, route routing.Resolution, msg *models.InboundMessage) {
	start := time.Now()
	outcome, err := s.handle(ctx, route, msg)
	logger := s.logger.With(
		"agent_id", route.AgentID,
		"session_id", route.SessionKey,
		"channel", msg.Channel,
		"origin", msg.Origin,
		"matched_by", route.MatchedBy,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	switch {
	case err == nil:
		logger.Debug("turn complete", "iterations", outcome.Iterations)
	case errors.Is(err, agent.ErrTurnCancelled), errors.Is(err, context.Canceled):
		logger.Info("turn cancelled")
	default:
		logger.Error("turn failed", "error", err)
	}
}

func isClearCommand(text string) bool {
	fields := strings.Fields(text)
	return len(fields) > 0 && strings.EqualFold(fields[0], "/clear")
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails. In-flight turns are cancelled and waited for before it returns.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if s.deps.Bootstrap != nil {
		if err := s.deps.Bootstrap.StartWatching(gctx); err != nil {
			s.logger.Warn("bootstrap watcher unavailable; prompt files reload on restart only", "error", err)
		}
	}

	if _, err := s.deps.Bus.Inbound.Handle(gctx, "gateway", s.dispatch); err != nil {
		return fmt.Errorf("subscribe inbound: %w", err)
	}

	if s.deps.Channels != nil {
		g.Go(func() error { return s.deps.Channels.Run(gctx) })
	}
	if s.deps.Cron != nil {
		g.Go(func() error { return s.deps.Cron.Run(gctx) })
	}
	if s.deps.Heartbeat != nil {
		g.Go(func() error { return s.deps.Heartbeat.Run(gctx) })
	}
	if s.config.Addr != "" {
		g.Go(func() error { return s.serveHTTP(gctx) })
	}

	s.logger.Info("gateway started",
		"agents", s.agentIDs(),
		"addr", s.config.Addr,
		"max_concurrent", s.config.MaxConcurrent,
	)
	<-gctx.Done()
	err := g.Wait()
	s.wg.Wait()
	s.logger.Info("gateway stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the bus, watchers and the session store.
func (s *Server) Close() error {
	var errs []error
	if s.deps.Bootstrap != nil {
		errs = append(errs, s.deps.Bootstrap.Close())
	}
	s.deps.Bus.Close()
	errs = append(errs, s.deps.Store.Close())
	return errors.Join(errs...)
}

func (s *Server) serveHTTP(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}
	s.addrMu.Lock()
	s.httpAddr = listener.Addr().String()
	s.addrMu.Unlock()

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(listener) }()
	s.logger.Info("admin http listening", "addr", listener.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http shutdown", "error", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}

// HTTPAddr returns the bound admin address once the listener is up.
func (s *Server) HTTPAddr() string {
	s.addrMu.RLock()
	defer s.addrMu.RUnlock()
	return s.httpAddr
}

func (s *Server) agentIDs() []string {
	ids := make([]string, 0, len(s.runtimes))
	for id := range s.runtimes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

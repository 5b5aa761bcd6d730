// Package service is the query and send surface used by the HTTP API. It
// checks client readiness, throttles sends and delegates to the lifecycle
// controller and the dispatcher.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/config"
	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/dispatch"
	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/health"
	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/lifecycle"
	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/message"
	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/store"
)

// ErrNotReady is returned by operations that need a connected client.
var ErrNotReady = errors.New("WhatsApp client is not ready")

// DefaultHistoryLimit bounds History when no limit is given.
const DefaultHistoryLimit = 50

// Lifecycle is the part of the lifecycle controller the service uses.
type Lifecycle interface {
	Status() lifecycle.Status
	ReadyClient() (lifecycle.Client, bool)
	Restart()
}

// Monitor reports health and counts sent messages.
type Monitor interface {
	GetStatus() health.Status
	RecordMessageSent()
}

// Group is a joined group chat.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Options configures a Service.
type Options struct {
	// History backs the transition history; nil disables it.
	History store.StateRepository
	Monitor Monitor

	// RatePerSecond limits sends; zero or less disables the limit.
	RatePerSecond float64
	Burst         int

	Logger *slog.Logger
}

// OptionsFromConfig fills the send limit from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		RatePerSecond: cfg.SendRatePerSecond,
		Burst:         cfg.SendBurst,
	}
}

// Service is the facade over the client lifecycle and message dispatch.
type Service struct {
	lifecycle  Lifecycle
	dispatcher *dispatch.Dispatcher
	history    store.StateRepository
	monitor    Monitor
	limiter    *rate.Limiter
	log        *slog.Logger
}

// New creates a Service.
func New(lc Lifecycle, dispatcher *dispatch.Dispatcher, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}

	return &Service{
		lifecycle:  lc,
		dispatcher: dispatcher,
		history:    opts.History,
		monitor:    opts.Monitor,
		limiter:    rate.NewLimiter(limit, burst),
		log:        opts.Logger.With("component", "service"),
	}
}

// Status returns the current client state. It has no side effects.
func (s *Service) Status() lifecycle.Status {
	return s.lifecycle.Status()
}

// MessageByID looks up a message known to the client.
func (s *Service) MessageByID(ctx context.Context, id string) (*message.Message, error) {
	client, ok := s.lifecycle.ReadyClient()
	if !ok {
		return nil, ErrNotReady
	}

	msg, err := client.GetMessageByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// Groups lists the group chats the account is part of.
func (s *Service) Groups(ctx context.Context) ([]Group, error) {
	client, ok := s.lifecycle.ReadyClient()
	if !ok {
		return nil, ErrNotReady
	}

	chats, err := client.GetChats(ctx)
	if err != nil {
		return nil, err
	}

	groups := make([]Group, 0, len(chats))
	for _, chat := range chats {
		if chat.IsGroup {
			groups = append(groups, Group{ID: chat.ID, Name: chat.Name})
		}
	}
	return groups, nil
}

// Send validates and sends req. A malformed request is reported as a
// *dispatch.ValidationError; every other failure is carried in the result.
func (s *Service) Send(ctx context.Context, req *dispatch.SendRequest) (dispatch.Result, error) {
	if err := req.Validate(); err != nil {
		return dispatch.Result{}, err
	}

	client, ok := s.lifecycle.ReadyClient()
	if !ok {
		return dispatch.Failed(ErrNotReady), nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return dispatch.Failed(fmt.Errorf("rate limit: %w", err)), nil
	}

	res := s.dispatcher.Send(ctx, client, req)
	if res.Success {
		if s.monitor != nil {
			s.monitor.RecordMessageSent()
		}
		s.log.Info("message sent", "to", req.To, "id", res.Data.ID)
	}
	return res, nil
}

// History returns the most recent status transitions, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]store.Transition, error) {
	if s.history == nil {
		return []store.Transition{}, nil
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.history.GetTransitionHistory(ctx, limit)
}

// Restart reinitializes the client with a fresh retry budget.
func (s *Service) Restart() {
	s.lifecycle.Restart()
}

// Health returns the monitor's counters.
func (s *Service) Health() health.Status {
	if s.monitor == nil {
		return health.Status{}
	}
	return s.monitor.GetStatus()
}

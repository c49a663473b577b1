package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"boorubot/pkg/bus"
	"boorubot/pkg/channel"
	"boorubot/pkg/config"

	"golang.org/x/sync/errgroup"
)

const (
	defaultStatusHost = "127.0.0.1"
	defaultStatusPort = 18790
	shutdownTimeout   = 5 * time.Second
)

// Service runs the channel adapter next to the status server and tallies
// relay events for the status payload.
type Service struct {
	cfg     config.GatewayConfig
	log     *slog.Logger
	adapter channel.Adapter
	handler channel.Handler
	events  *bus.EventBus

	mu            sync.RWMutex
	startedAt     time.Time
	channelStates map[string]channelState
	eventCounts   map[bus.EventType]int64
}

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status        string                  `json:"status"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Channels      map[string]channelState `json:"channels"`
	Events        map[string]int64        `json:"events"`
}

// NewService wires the gateway. events may be nil, in which case counters stay at zero.
func NewService(cfg config.GatewayConfig, adapter channel.Adapter, handler channel.Handler, events *bus.EventBus, log *slog.Logger) (*Service, error) {
	if adapter == nil {
		return nil, errors.New("channel adapter is required")
	}
	if handler == nil {
		return nil, errors.New("message handler is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		cfg:           cfg,
		log:           log.With("component", "gateway.service"),
		adapter:       adapter,
		handler:       handler,
		events:        events,
		channelStates: map[string]channelState{adapter.Name(): {}},
		eventCounts:   make(map[bus.EventType]int64),
	}, nil
}

// Run blocks until ctx is cancelled or the adapter or status server fails.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	group, groupCtx := errgroup.WithContext(ctx)

	if s.events != nil {
		eventCh, unsubscribe := s.events.Subscribe(groupCtx, 0)
		group.Go(func() error {
			defer unsubscribe()
			for event := range eventCh {
				s.countEvent(event.Type)
			}
			return nil
		})
	}

	if s.cfg.Enabled {
		listener, err := net.Listen("tcp", s.address())
		if err != nil {
			return fmt.Errorf("start status server: %w", err)
		}
		group.Go(func() error {
			return s.serveStatus(groupCtx, listener)
		})
	}

	name := s.adapter.Name()
	group.Go(func() error {
		s.setChannelState(name, channelState{Running: true})
		err := s.adapter.Run(groupCtx, s.handler)
		s.setChannelState(name, channelState{Running: false, Error: errorString(err)})
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("run %s channel: %w", name, err)
		}
		if ctx.Err() == nil {
			return fmt.Errorf("%s channel stopped", name)
		}
		return nil
	})

	return group.Wait()
}

func (s *Service) address() string {
	host := strings.TrimSpace(s.cfg.Host)
	if host == "" {
		host = defaultStatusHost
	}

	port := s.cfg.Port
	if port <= 0 {
		port = defaultStatusPort
	}

	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (s *Service) serveStatus(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway status server started", "address", listener.Addr().String())
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve status: %w", err)
	}

	return nil
}

func (s *Service) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	return mux
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}

	events := make(map[string]int64, len(s.eventCounts))
	for kind, count := range s.eventCounts {
		events[string(kind)] = count
	}

	return statusResponse{
		Status:        status,
		UptimeSeconds: uptime,
		Channels:      channels,
		Events:        events,
	}
}

func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, state := range s.channelStates {
		if state.Running {
			return true
		}
	}

	return false
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

func (s *Service) countEvent(kind bus.EventType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventCounts[kind]++
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}

// Package dashboard serves a small JSON status API next to the adapter:
// health, refresh gates, recent logs, recent metric events and host usage.
package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"

	"restbridge/config"
	"restbridge/internal/metrics"
	"restbridge/internal/registry"
	"restbridge/logger"
)

// StatusSource is what /api/status reports on. *adapter.Adapter implements it.
type StatusSource interface {
	SchedulerState() string
	ServerTime() time.Time
	Gates() []registry.GateState
}

type Server struct {
	cfg           config.DashboardConfig
	log           *logger.Log
	status        StatusSource
	started       time.Time
	metricStore   *metricStore
	logStore      *logStore
	metricHandler metrics.MetricHandlerID
	sampler       *resourceSampler
	httpServer    *http.Server
}

// NewServer returns nil when the dashboard is disabled.
func NewServer(cfg config.DashboardConfig, log *logger.Log, status StatusSource) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	cfg.Address = normalizeAddress(cfg.Address)

	ms := newMetricStore(cfg.MetricsHistory)
	ls := newLogStore(cfg.LogHistory)
	log.AddHook(ls)

	return &Server{
		cfg:           cfg,
		log:           log,
		status:        status,
		started:       time.Now(),
		metricStore:   ms,
		logStore:      ls,
		metricHandler: metrics.RegisterMetricHandler(ms.handle),
		sampler:       newResourceSampler(cfg.MetricsHistory, cfg.SampleInterval, log),
	}, nil
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}
	defer s.cleanup()

	router, err := s.buildRouter()
	if err != nil {
		return err
	}
	s.sampler.start(ctx)

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.WithComponent("dashboard").WithFields(logger.Fields{"address": s.cfg.Address}).Info("dashboard listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	s.logStore.close()
	s.sampler.stop()
}

func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

type statusView struct {
	Scheduler  string               `json:"scheduler"`
	ServerTime *time.Time           `json:"server_time,omitempty"`
	Uptime     string               `json:"uptime"`
	Endpoints  []registry.GateState `json:"endpoints"`
}

func (s *Server) statusView() statusView {
	v := statusView{
		Scheduler: "unknown",
		Uptime:    time.Since(s.started).Truncate(time.Second).String(),
		Endpoints: []registry.GateState{},
	}
	if s.status == nil {
		return v
	}
	v.Scheduler = s.status.SchedulerState()
	if st := s.status.ServerTime(); !st.IsZero() {
		v.ServerTime = &st
	}
	if gates := s.status.Gates(); gates != nil {
		v.Endpoints = gates
	}
	return v
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/api/status", func(c *gin.Context) {
		b, err := json.Marshal(s.statusView())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", b)
	})

	router.GET("/api/metrics", func(c *gin.Context) {
		snap := s.metricStore.snapshot()
		payload := make([]gin.H, 0, len(snap))
		for _, m := range snap {
			payload = append(payload, gin.H{
				"timestamp": m.Timestamp.Format(time.RFC3339Nano),
				"component": m.Component,
				"name":      m.Name,
				"value":     m.Value,
				"type":      m.Type,
				"fields":    m.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"metrics": payload})
	})

	router.GET("/api/logs", func(c *gin.Context) {
		level := strings.ToLower(c.Query("level"))
		snap := s.logStore.snapshot()
		payload := make([]logRecord, 0, len(snap))
		for _, l := range snap {
			if level == "" || l.Level == level {
				payload = append(payload, l)
			}
		}
		c.JSON(http.StatusOK, gin.H{"logs": payload})
	})

	router.GET("/api/resources", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"resources": s.sampler.samples.snapshot()})
	})

	return router, nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "0.0.0.0:8080"
	}
	if strings.Contains(addr, "://") {
		if u, err := url.Parse(addr); err == nil && u.Host != "" {
			addr = u.Host
		}
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		if ip := net.ParseIP(addr); ip != nil || !strings.Contains(addr, ":") {
			return net.JoinHostPort(addr, "8080")
		}
		return addr
	}
	if host == "" || host == "*" {
		host = "0.0.0.0"
	}
	if port == "" {
		port = "8080"
	}
	return net.JoinHostPort(host, port)
}

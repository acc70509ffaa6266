package httpserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/ruteri/node-bootstrap/api/provisioner"
	"github.com/ruteri/node-bootstrap/interfaces"
	"github.com/ruteri/node-bootstrap/lifecycle"
	"github.com/ruteri/node-bootstrap/metrics"
)

const defaultGracefulShutdownDuration = 10 * time.Second

type HTTPServerConfig struct {
	ListenAddr  string
	MetricsAddr string
	TLSCertFile string
	TLSKeyFile  string
	Log         *slog.Logger

	GracefulShutdownDuration time.Duration
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration
}

// Announcer is the heartbeat loop started together with the listener.
type Announcer interface {
	Start(controlPlaneURL string)
	Stop()
}

// Server is the bootstrap service of one node: an HTTPS listener for the
// provisioning API plus the announce loop. It serves at most one command and
// then shuts itself down.
type Server struct {
	cfg *HTTPServerConfig
	log *slog.Logger

	announcer Announcer
	lifecycle *lifecycle.Lifecycle
	handler   *provisioner.Handler

	mu         sync.Mutex
	srv        *http.Server
	listener   net.Listener
	metricsSrv *metrics.MetricsServer

	done     chan struct{}
	doneOnce sync.Once
}

func New(cfg *HTTPServerConfig, announcer Announcer, installer interfaces.Installer) (*Server, error) {
	if announcer == nil || installer == nil {
		return nil, errors.New("announcer and installer are required")
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	srv := &Server{
		cfg:       cfg,
		log:       log,
		announcer: announcer,
		done:      make(chan struct{}),
	}
	srv.lifecycle = lifecycle.New(announcer, srv.terminate, log)
	if cfg.MetricsAddr != "" {
		srv.lifecycle.SetStateGauge(metrics.LifecycleState)
	}
	srv.handler = provisioner.NewHandler(srv.lifecycle, installer, log)

	return srv, nil
}

func (s *Server) getRouter() http.Handler {
	mux := chi.NewRouter()
	mux.Use(s.httpLogger)
	s.handler.RegisterRoutes(mux)
	return mux
}

func (s *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(s.log, next)
}

// Start loads the TLS certificate, binds the listener and starts the announce
// loop. Certificate and bind errors are returned. An error while serving is
// logged and stops the service.
func (s *Server) Start(controlPlaneURL string) error {
	if controlPlaneURL == "" {
		return interfaces.ErrNoControlPlaneURL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.lifecycle.State() {
	case lifecycle.Idle:
	case lifecycle.Terminated:
		return lifecycle.ErrTerminated
	default:
		return lifecycle.ErrAlreadyStarted
	}

	cert, err := tls.LoadX509KeyPair(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	if err != nil {
		return fmt.Errorf("could not load TLS certificate: %w", err)
	}

	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("could not listen on %s: %w", s.cfg.ListenAddr, err)
	}

	if err := s.lifecycle.Begin(); err != nil {
		listener.Close()
		return err
	}

	srv := &http.Server{
		Handler:      s.getRouter(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		},
		ErrorLog: slog.NewLogLogger(s.log.Handler(), slog.LevelDebug),
	}
	s.srv = srv
	s.listener = listener

	go func() {
		s.log.Info("Starting HTTPS server", "listenAddress", listener.Addr().String())
		if err := srv.ServeTLS(listener, "", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTPS server failed", "err", err)
			if err := s.Stop(context.Background()); err != nil {
				s.log.Error("Shutdown after serve failure failed", "err", err)
			}
		}
	}()

	if s.cfg.MetricsAddr != "" {
		metricsSrv := metrics.New(s.cfg.MetricsAddr)
		s.metricsSrv = metricsSrv
		go func() {
			s.log.With("metricsAddress", s.cfg.MetricsAddr).Info("Starting metrics server")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("Metrics server failed", "err", err)
			}
		}()
	}

	s.announcer.Start(controlPlaneURL)
	return nil
}

// Stop stops the announce loop and closes the listener. It is safe to call
// before Start and more than once; only the first call after Start does
// anything.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv == nil {
		return nil
	}

	s.announcer.Stop()
	s.lifecycle.Terminate()

	gracefulShutdownDuration := s.cfg.GracefulShutdownDuration
	if gracefulShutdownDuration <= 0 {
		gracefulShutdownDuration = defaultGracefulShutdownDuration
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, gracefulShutdownDuration)
	defer cancel()

	err := s.srv.Shutdown(shutdownCtx)
	if err != nil {
		s.log.Error("Graceful HTTPS server shutdown failed", "err", err)
	} else {
		s.log.Info("HTTPS server gracefully stopped")
	}

	if s.metricsSrv != nil {
		if err := s.metricsSrv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("Graceful metrics server shutdown failed", "err", err)
		} else {
			s.log.Info("Metrics server gracefully stopped")
		}
		s.metricsSrv = nil
	}

	s.srv = nil
	s.listener = nil
	s.doneOnce.Do(func() { close(s.done) })
	return err
}

// terminate runs after a command was dispatched to the installer. Shutdown
// waits for in-flight requests, including the one that triggered it, so it
// cannot run on the handler goroutine.
func (s *Server) terminate() {
	go func() {
		if err := s.Stop(context.Background()); err != nil {
			s.log.Error("Shutdown after command failed", "err", err)
		}
	}()
}

// Done is closed once the listener has been shut down.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the installer run dispatched by an accepted command has
// returned.
func (s *Server) Wait() {
	s.lifecycle.Wait()
}

// Addr returns the bound listener address, or nil when not listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) State() lifecycle.State {
	return s.lifecycle.State()
}

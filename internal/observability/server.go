package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	rtsup "ctfwatch/internal/runtime/supervisor"
	logx "ctfwatch/pkg/logx"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerConfig controls the metrics HTTP server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - pprof is refused on non-loopback addresses.
type ServerConfig struct {
	Addr  string
	Pprof bool
}

const DefaultAddr = "127.0.0.1:9464"

type Server struct {
	mu  sync.Mutex
	log logx.Logger
	cfg ServerConfig
	reg *prometheus.Registry

	ln  net.Listener
	sup *rtsup.Supervisor
}

func NewServer(cfg ServerConfig, reg *prometheus.Registry, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{cfg: cfg, reg: reg, log: log.With(logx.String("comp", "observability"))}
}

// Handler returns the routes served by the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{Registry: s.reg}))

	if s.cfg.Pprof {
		if isLoopbackAddr(s.cfg.Addr) {
			mux.HandleFunc("/debug/pprof/", hpprof.Index)
			mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
			mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
			mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
			mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
		} else {
			s.log.Error("pprof refused: non-loopback addr", logx.String("addr", s.cfg.Addr))
		}
	}
	return mux
}

// Start binds the listener synchronously so bind errors surface to the
// caller, then serves under a restart loop.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// metrics are optional; never take the app down.
		rtsup.WithCancelOnError(false),
	)

	handler := s.Handler()
	first := true
	s.sup.GoRestart("http.serve", func(c context.Context) error {
		l := ln
		if !first {
			var err error
			if l, err = net.Listen("tcp", s.cfg.Addr); err != nil {
				return err
			}
		}
		first = false
		return serve(c, l, handler)
	},
		rtsup.WithPublishFirstError(true),
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
	s.log.Info("metrics server started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("pprof", s.cfg.Pprof),
	)
	return nil
}

// Addr is the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.ln = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	s.log.Info("metrics server stopped")
	return err
}

func serve(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	err := srv.Serve(ln)
	if ctx.Err() != nil {
		return nil
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("metrics server exited unexpectedly")
	}
	return err
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// empty host means all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

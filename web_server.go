package fabrichost

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// WebServer is the embedded server a listener drives. Start binds and
// begins serving, Stop shuts down gracefully, Close aborts immediately.
// Addresses reports the URLs the server is bound to after Start.
type WebServer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Close() error
	Addresses() []string
}

// WebServerFactory builds the WebServer for a new instance scope. Register
// one in the host scope under ServiceWebServerFactory to replace the
// default HTTPServer.
type WebServerFactory func(scope *Scope) (WebServer, error)

// HTTPServerConfig configures the default HTTPServer.
type HTTPServerConfig struct {
	// Host is the address to bind to. "", "::", "0.0.0.0", "+" and "*" bind
	// all interfaces and are reported back as wildcard URLs.
	Host string `yaml:"host" json:"host" toml:"host" env:"HOST"`

	// Port to listen on. 0 picks a free port.
	Port int `yaml:"port" json:"port" toml:"port" env:"PORT"`

	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" toml:"read_timeout" env:"READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" toml:"write_timeout" env:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout" toml:"idle_timeout" env:"IDLE_TIMEOUT" default:"60s"`

	// TLS enables HTTPS when non-nil and Enabled.
	TLS *TLSConfig `yaml:"tls" json:"tls" toml:"tls"`
}

// TLSConfig holds certificate paths for HTTPS.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled" toml:"enabled"`
	CertFile string `yaml:"cert_file" json:"cert_file" toml:"cert_file"`
	KeyFile  string `yaml:"key_file" json:"key_file" toml:"key_file"`
}

// Validate checks the configuration and fills zero timeouts.
func (c *HTTPServerConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", c.Port)
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 15 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.TLS != nil && c.TLS.Enabled {
		if c.TLS.CertFile == "" {
			return fmt.Errorf("TLS is enabled but no certificate file specified")
		}
		if c.TLS.KeyFile == "" {
			return fmt.Errorf("TLS is enabled but no key file specified")
		}
	}
	return nil
}

func (c *HTTPServerConfig) scheme() string {
	if c.TLS != nil && c.TLS.Enabled {
		return "https"
	}
	return "http"
}

// HTTPServer is the default WebServer: a net/http server in front of a
// chi router.
type HTTPServer struct {
	config *HTTPServerConfig
	router chi.Router
	logger Logger
	outer  []func(http.Handler) http.Handler

	mu        sync.Mutex
	server    *http.Server
	addresses []string
	started   bool
}

var _ WebServer = (*HTTPServer)(nil)

// NewHTTPServer creates a server for cfg. Routes are added through Router
// before Start.
func NewHTTPServer(cfg HTTPServerConfig, logger Logger) (*HTTPServer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &HTTPServer{
		config: &cfg,
		router: chi.NewRouter(),
		logger: logger,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *HTTPServer) Router() chi.Router {
	return s.router
}

// Wrap adds middleware that runs in front of the router, outermost last.
// It takes effect on the next Start.
func (s *HTTPServer) Wrap(mw func(http.Handler) http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outer = append(s.outer, mw)
}

func (s *HTTPServer) handler() http.Handler {
	var h http.Handler = s.router
	for _, mw := range s.outer {
		h = mw(h)
	}
	return h
}

// Start binds the listening socket and serves in the background. Bind
// failures are returned directly.
func (s *HTTPServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return ErrServerStartTimeout
	}

	bindAddr := net.JoinHostPort(bindHost(s.config.Host), strconv.Itoa(s.config.Port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", bindAddr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", bindAddr, err)
	}

	server := &http.Server{
		Handler:      s.handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
	if s.config.TLS != nil && s.config.TLS.Enabled {
		server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	port := ln.Addr().(*net.TCPAddr).Port
	s.addresses = []string{s.config.scheme() + "://" + reportHost(s.config.Host) + ":" + strconv.Itoa(port)}
	s.server = server
	s.started = true

	go func() {
		s.logger.Info("Starting HTTP server", "address", ln.Addr().String())
		var serveErr error
		if server.TLSConfig != nil {
			serveErr = server.ServeTLS(ln, s.config.TLS.CertFile, s.config.TLS.KeyFile)
		} else {
			serveErr = server.Serve(ln)
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", "error", serveErr)
		}
	}()

	s.logger.Info("HTTP server started successfully", "addresses", s.addresses)
	return nil
}

// Stop shuts the server down gracefully, waiting for in-flight requests
// until ctx is done.
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	started := s.started
	s.mu.Unlock()

	if server == nil || !started {
		return ErrServerNotStarted
	}

	s.logger.Info("Stopping HTTP server")
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down HTTP server: %w", err)
	}

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	s.logger.Info("HTTP server stopped successfully")
	return nil
}

// Close drops every connection immediately. Safe to call in any state.
func (s *HTTPServer) Close() error {
	s.mu.Lock()
	server := s.server
	s.started = false
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	if err := server.Close(); err != nil {
		return fmt.Errorf("closing HTTP server: %w", err)
	}
	return nil
}

// Addresses returns the bound URLs, or nil before Start.
func (s *HTTPServer) Addresses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.addresses))
	copy(out, s.addresses)
	return out
}

func bindHost(host string) string {
	switch host {
	case "+", "*", "::":
		return ""
	default:
		return host
	}
}

func reportHost(host string) string {
	switch host {
	case "", "::":
		return "[::]"
	case "+", "*", "0.0.0.0":
		return host
	}
	if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
		return "[" + host + "]"
	}
	return host
}

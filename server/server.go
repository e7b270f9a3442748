package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/jmcleod/ironca/config"
	"github.com/jmcleod/ironca/internal/util"
)

const shutdownTimeout = 10 * time.Second

// TLSConfig builds the listener TLS configuration. Without a configured
// key pair a self-signed certificate is generated and selfSigned is true.
// Client certificates are requested but not required; when ClientCAs is set
// a presented certificate must chain to it.
func TLSConfig(cfg *config.Config) (tlsCfg *tls.Config, selfSigned bool, err error) {
	var cert tls.Certificate
	if cfg.Server.TLSCert != "" {
		cert, err = tls.LoadX509KeyPair(cfg.Resolve(cfg.Server.TLSCert), cfg.Resolve(cfg.Server.TLSKey))
		if err != nil {
			return nil, false, fmt.Errorf("failed to load TLS key pair: %w", err)
		}
	} else {
		cert, err = util.GenerateSelfSignedCert()
		if err != nil {
			return nil, false, fmt.Errorf("failed to generate self-signed certificate: %w", err)
		}
		selfSigned = true
	}

	tlsCfg = &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		ClientAuth:   tls.RequestClientCert,
	}
	if cfg.Server.ClientCAs != "" {
		pemData, err := os.ReadFile(cfg.Resolve(cfg.Server.ClientCAs))
		if err != nil {
			return nil, false, fmt.Errorf("reading client CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, false, errors.New("client CA bundle contains no certificates")
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.VerifyClientCertIfGiven
	}
	return tlsCfg, selfSigned, nil
}

// Server is the HTTPS listener of an ironca instance.
type Server struct {
	http   *http.Server
	logger *slog.Logger
}

// New returns a Server serving handler with the timeouts of cfg.
func New(cfg *config.Config, handler http.Handler, tlsCfg *tls.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		http: &http.Server{
			Addr:              cfg.Server.Address,
			Handler:           handler,
			TLSConfig:         tlsCfg,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       cfg.Server.ReadTimeout,
			WriteTimeout:      cfg.Server.ReadTimeout + 30*time.Second,
			IdleTimeout:       60 * time.Second,
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		},
		logger: logger.With("component", "server"),
	}
}

// Run serves on ln until ctx is cancelled, then shuts down gracefully.
// A nil ln listens on the configured address.
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", s.http.Addr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", s.http.Addr, err)
		}
	}

	done := make(chan error, 1)
	go func() {
		err := s.http.ServeTLS(ln, "", "")
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		done <- err
	}()
	s.logger.InfoContext(ctx, "listening", "address", ln.Addr().String())

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return <-done
}

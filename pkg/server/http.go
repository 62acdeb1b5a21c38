package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"ambassador-controlplane/pkg/config"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ProvideHTTPServer = fx.Module("http.server",
	fx.Provide(NewHTTPServer),
	fx.Invoke(Run),
)

// Server serves the settlement API. With TLS enabled the key pair is read
// from disk and swapped in place when the files change.
type Server struct {
	server *http.Server
	done   chan struct{}

	mu       sync.RWMutex
	cert     *tls.Certificate
	certPath string
	keyPath  string
}

type Params struct {
	fx.In
	Config  *config.Config
	Handler *gin.Engine
}

func NewHTTPServer(p Params) *Server {
	cfg := p.Config
	srv := &Server{
		server: &http.Server{
			Addr:         ":" + cfg.Server.Addr,
			Handler:      p.Handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
		done: make(chan struct{}),
	}

	if cfg.TLS.Enable {
		srv.certPath = cfg.TLS.CertPath
		srv.keyPath = cfg.TLS.KeyPath
		srv.server.TLSConfig = &tls.Config{
			MinVersion:     tls.VersionTLS12,
			GetCertificate: srv.certificate,
		}
	}

	return srv
}

func (s *Server) certificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cert == nil {
		return nil, fmt.Errorf("no certificate loaded from %s", s.certPath)
	}
	return s.cert, nil
}

func (s *Server) loadCert() error {
	cert, err := tls.LoadX509KeyPair(s.certPath, s.keyPath)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cert = &cert
	s.mu.Unlock()
	return nil
}

func (s *Server) watchCert(watcher *fsnotify.Watcher) {
	defer watcher.Close()

	for {
		select {
		case <-s.done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := s.loadCert(); err != nil {
				zap.L().Error("[HTTP] certificate reload failed, keeping the previous one", zap.String("file", event.Name), zap.Error(err))
				continue
			}
			zap.L().Info("[HTTP] certificate reloaded", zap.String("file", event.Name))
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			zap.L().Warn("[HTTP] certificate watcher error", zap.Error(err))
		}
	}
}

func (s *Server) startTLS() error {
	if err := s.loadCert(); err != nil {
		return fmt.Errorf("load tls key pair: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		zap.L().Warn("[HTTP] certificate rotation disabled", zap.Error(err))
		return nil
	}
	for _, path := range []string{s.certPath, s.keyPath} {
		if err := watcher.Add(path); err != nil {
			zap.L().Warn("[HTTP] cannot watch certificate file", zap.String("file", path), zap.Error(err))
		}
	}
	go s.watchCert(watcher)
	return nil
}

func Run(lc fx.Lifecycle, srv *Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			tlsEnabled := srv.server.TLSConfig != nil
			if tlsEnabled {
				if err := srv.startTLS(); err != nil {
					return err
				}
			}

			go func() {
				zap.L().Info("[HTTP] listening", zap.String("addr", srv.server.Addr), zap.Bool("tls", tlsEnabled))

				var err error
				if tlsEnabled {
					err = srv.server.ListenAndServeTLS("", "")
				} else {
					err = srv.server.ListenAndServe()
				}
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					zap.L().Fatal("[HTTP] server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(srv.done)
			zap.L().Info("[HTTP] draining connections")
			return srv.server.Shutdown(ctx)
		},
	})
}

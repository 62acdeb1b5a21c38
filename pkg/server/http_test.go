package server

import (
	"path/filepath"
	"testing"

	"ambassador-controlplane/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

func TestNewHTTPServerPlain(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.Addr = "8080"

	srv := NewHTTPServer(Params{Config: cfg, Handler: gin.New()})
	require.Equal(t, ":8080", srv.server.Addr)
	require.Nil(t, srv.server.TLSConfig)
}

func TestNewHTTPServerTLSWithoutKeyPair(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Server.Addr = "8443"
	cfg.TLS.Enable = true
	cfg.TLS.CertPath = filepath.Join(dir, "tls.crt")
	cfg.TLS.KeyPath = filepath.Join(dir, "tls.key")

	srv := NewHTTPServer(Params{Config: cfg, Handler: gin.New()})
	require.NotNil(t, srv.server.TLSConfig)

	_, err := srv.certificate(nil)
	require.Error(t, err)

	require.ErrorContains(t, srv.startTLS(), "load tls key pair")
}

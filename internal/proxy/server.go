package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/elazarl/goproxy"
	"github.com/sirupsen/logrus"

	"github.com/monastery360/offline-proxy/internal/config"
	"github.com/monastery360/offline-proxy/internal/lifecycle"
	"github.com/monastery360/offline-proxy/internal/strategy"
)

const (
	HeaderCache         = "X-Cache"
	HeaderCacheStrategy = "X-Cache-Strategy"
)

// Server represents the intercepting proxy server
type Server struct {
	config     *config.Config
	bridge     *lifecycle.Bridge
	proxy      *goproxy.ProxyHttpServer
	httpServer *http.Server
}

// New creates a new proxy server answering every request through bridge
func New(cfg *config.Config, bridge *lifecycle.Bridge) (*Server, error) {
	s := &Server{
		config: cfg,
		bridge: bridge,
		proxy:  goproxy.NewProxyHttpServer(),
	}
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: s.proxy,
	}
	s.proxy.Verbose = logrus.IsLevelEnabled(logrus.TraceLevel)
	s.proxy.CertStore = newCertStore()

	if cfg.Server.HTTPS.Enabled {
		if err := s.setupHTTPSProxyHandler(); err != nil {
			return nil, err
		}
	}
	s.proxy.OnRequest().DoFunc(s.handleRequest)

	// Requests addressed to the proxy itself are treated as transparent HTTP.
	s.proxy.NonproxyHandler = http.HandlerFunc(func(w http.ResponseWriter, requ *http.Request) {
		if requ.Host == "" {
			http.Error(w, "Cannot handle requests without Host header", http.StatusBadRequest)
			return
		}
		requ.URL.Scheme = "http"
		requ.URL.Host = requ.Host
		s.proxy.ServeHTTP(w, requ)
	})

	return s, nil
}

// GetProxy returns the handler serving proxied requests
func (s *Server) GetProxy() http.Handler {
	return s.proxy
}

// Start starts the proxy server and blocks until it stops
func (s *Server) Start() error {
	if addr := s.config.Server.HTTPS.TransparentAddr; addr != "" && s.config.Server.HTTPS.Enabled {
		go func() {
			if err := s.StartTransparentHTTPS(addr); err != nil {
				logrus.Errorf("Transparent HTTPS listener stopped: %v", err)
			}
		}()
	}

	logrus.Infof("Starting offline proxy on port %d", s.config.Server.Port)
	logrus.Infof("Cache backend: %s", s.config.Cache.Backend)
	logrus.Infof("API path: %s", s.config.Strategy.APIPath)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleRequest(requ *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	req, err := strategy.FromHTTP(requ)
	if err != nil {
		logrus.Errorf("Failed to read request %s: %v", requ.URL, err)
		return requ, goproxy.NewResponse(requ, goproxy.ContentTypeText, http.StatusBadRequest, err.Error())
	}

	out := s.bridge.Fetch(requ.Context(), req)
	logrus.Infof("%s %s -> %d (%s, %s)", req.Method, req.URL, out.Response.Status, out.Classification, out.CacheStatus())
	return requ, toResponse(requ, out)
}

// toResponse builds the client response of an outcome
func toResponse(requ *http.Request, out strategy.Outcome) *http.Response {
	entry := out.Response
	header := entry.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Del("Content-Length")
	header.Set(HeaderCache, out.CacheStatus())
	header.Set(HeaderCacheStrategy, string(out.Classification))

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", entry.Status, http.StatusText(entry.Status)),
		StatusCode:    entry.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(entry.Body)),
		ContentLength: int64(len(entry.Body)),
		Request:       requ,
	}
}

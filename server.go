package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// maxWriteSize bounds a single attribute write, like a sysfs page.
const maxWriteSize = 4096

// Server exposes the attribute registry over HTTP.  Attribute paths map
// directly onto URLs: /sys/ebb/gpio76/mode reads or writes the "mode"
// attribute of group "gpio76" in collection "ebb".
type Server struct {
	cfgMgr  *ConfigManager
	reg     *AttributeRegistry
	attr    *ModeAttribute
	driver  PinDriver
	events  *EventLogger
	logger  *slog.Logger
	limiter *clientLimiter

	plainAuthWarning sync.Once
}

// NewServer wires the HTTP surface to an initialised ModeAttribute.
func NewServer(cfgMgr *ConfigManager, reg *AttributeRegistry, attr *ModeAttribute, driver PinDriver, events *EventLogger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfgMgr:  cfgMgr,
		reg:     reg,
		attr:    attr,
		driver:  driver,
		events:  events,
		logger:  logger,
		limiter: newClientLimiter(cfgMgr.Get().RateLimit),
	}
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sys/", s.handleSys)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/logs", s.withAuth(s.handleLogs))
	return mux
}

// Start serves until ctx is cancelled, then shuts the listener down
// gracefully.  TLS is used when a certificate and key are configured.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.cfgMgr.Get()
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},
	}

	if cfg.CertFile == "" && len(cfg.Users) > 0 {
		s.logger.Warn("serving plain HTTP: basic auth passwords travel in clear text, set cert_file and key_file")
	}

	go s.limiter.run(ctx)

	errc := make(chan error, 1)
	go func() {
		if cfg.CertFile != "" {
			s.logger.Info("listening", "url", "https://0.0.0.0"+addr)
			errc <- srv.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
			return
		}
		s.logger.Info("listening", "url", "http://0.0.0.0"+addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleSys serves the attribute tree.  GET /sys/ lists groups, GET
// /sys/class/gpio lists exported pins, GET on an attribute reads it and
// PUT or POST writes the request body to it.
func (s *Server) handleSys(w http.ResponseWriter, r *http.Request) {
	p := strings.Trim(strings.TrimPrefix(r.URL.Path, "/sys/"), "/")
	switch {
	case p == "" && r.Method == http.MethodGet:
		writeJSON(w, s.reg.Groups())
		return
	case p == "class/gpio" && r.Method == http.MethodGet:
		s.handleExported(w)
		return
	}

	caller, _, err := s.callerFor(r)
	if err != nil {
		challenge(w)
		return
	}
	ctx := ContextWithCaller(r.Context(), caller)

	switch r.Method {
	case http.MethodGet:
		text, err := s.reg.Read(ctx, p)
		if err != nil {
			s.writeError(w, caller, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, text)
	case http.MethodPut, http.MethodPost:
		if !s.limiter.allow(clientAddr(r)) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWriteSize+1))
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		if len(body) > maxWriteSize {
			http.Error(w, "write too large", http.StatusRequestEntityTooLarge)
			return
		}
		n, err := s.reg.Write(ctx, p, body)
		if err != nil {
			s.writeError(w, caller, err)
			return
		}
		w.Header().Set("X-Bytes-Written", strconv.Itoa(n))
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, PUT, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// writeError maps attribute errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, caller Caller, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrPermission):
		if !caller.Owner {
			challenge(w)
			return
		}
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrHardwareWrite):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		s.logger.Error("attribute access failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) handleExported(w http.ResponseWriter) {
	type exported struct {
		Pin  int    `json:"pin"`
		Name string `json:"name"`
	}
	out := []exported{}
	if lister, ok := s.driver.(ExportLister); ok {
		for _, pin := range lister.Exported() {
			out = append(out, exported{Pin: pin, Name: NewPinConfig(pin).Name})
		}
	}
	writeJSON(w, out)
}

// handleStatus reports the controlled pin and its mode.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	pc := s.attr.Config()
	mode := "inactive"
	if s.attr.Active() {
		mode = s.attr.Mode().String()
	}
	writeJSON(w, Status{
		Pin:    pc.Pin,
		Name:   pc.Name,
		Mode:   mode,
		Path:   "/sys/" + s.attr.Path(),
		Driver: s.cfgMgr.Get().GPIO.Driver,
	})
}

// handleLogs returns the event log.  Admins only.  Accepts optional query
// parameter `lines=n` to limit number of lines returned.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request, user User) {
	if !user.Admin {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	limit := 200
	if v := r.URL.Query().Get("lines"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	lines, err := s.events.Tail(limit)
	if err != nil {
		http.Error(w, "log not readable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, lines)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Package httpapi exposes message scanning over HTTP, so the detector can
// run as a sidecar for a content-filtering pipeline.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mailva/attachsieve/attachment"
	"github.com/mailva/attachsieve/engine"
	"github.com/mailva/attachsieve/logger"
	"github.com/mailva/attachsieve/ruleengine"
)

// Server represents the HTTP scan API server
type Server struct {
	addr         string
	apiKey       string
	allowedHosts []string
	engine       *engine.Engine
	server       *http.Server
	tls          bool
	tlsCertFile  string
	tlsKeyFile   string
	maxBodySize  int64
}

// ServerOptions holds configuration options for the HTTP API server
type ServerOptions struct {
	Addr         string
	APIKey       string
	AllowedHosts []string
	TLS          bool
	TLSCertFile  string
	TLSKeyFile   string
	MaxBodySize  int64
}

// New creates a new HTTP API server
func New(eng *engine.Engine, options ServerOptions) (*Server, error) {
	if options.APIKey == "" {
		return nil, fmt.Errorf("API key is required for HTTP API server")
	}
	if options.TLS {
		if options.TLSCertFile == "" || options.TLSKeyFile == "" {
			return nil, fmt.Errorf("TLS certificate and key files are required when TLS is enabled")
		}
	}

	maxBody := options.MaxBodySize
	if maxBody <= 0 {
		maxBody = 50 << 20
	}

	s := &Server{
		addr:         options.Addr,
		apiKey:       options.APIKey,
		allowedHosts: options.AllowedHosts,
		engine:       eng,
		tls:          options.TLS,
		tlsCertFile:  options.TLSCertFile,
		tlsKeyFile:   options.TLSKeyFile,
		maxBodySize:  maxBody,
	}
	return s, nil
}

// Start starts the HTTP API server and reports a failure on errChan.
func Start(ctx context.Context, eng *engine.Engine, options ServerOptions, errChan chan error) {
	server, err := New(eng, options)
	if err != nil {
		errChan <- fmt.Errorf("failed to create HTTP API server: %w", err)
		return
	}

	protocol := "HTTP"
	if options.TLS {
		protocol = "HTTPS"
	}
	logger.Info("Starting scan API server", "protocol", protocol, "addr", options.Addr)
	if err := server.start(ctx); err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
		errChan <- fmt.Errorf("HTTP API server failed: %w", err)
	}
}

// start initializes and starts the HTTP server
func (s *Server) start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		logger.Info("Shutting down scan API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down scan API server", "error", err)
		}
	}()

	if s.tls {
		return s.server.ListenAndServeTLS(s.tlsCertFile, s.tlsKeyFile)
	}
	return s.server.ListenAndServe()
}

// setupRoutes configures all HTTP routes and middleware
func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.Use(s.loggingMiddleware)
	router.Use(s.allowedHostsMiddleware)

	// Monitoring endpoints are exempt from bearer auth
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.authMiddleware)

	v1.HandleFunc("/scan", s.handleScan).Methods("POST")
	v1.HandleFunc("/rules", s.handleListRules).Methods("GET")
	v1.HandleFunc("/rules/{name}", s.handleGetRule).Methods("GET")

	return router
}

// Middleware functions

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("Scan API request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) allowedHostsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.allowedHosts) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := getClientIP(r)

		allowed := false
		for _, allowedHost := range s.allowedHosts {
			if allowedHost == clientIP {
				allowed = true
				break
			}
			if strings.Contains(allowedHost, "/") {
				if _, cidr, err := net.ParseCIDR(allowedHost); err == nil {
					if ip := net.ParseIP(clientIP); ip != nil {
						if cidr.Contains(ip) {
							allowed = true
							break
						}
					}
				}
			}
		}

		if !allowed {
			s.writeError(w, http.StatusForbidden, "Host not allowed")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header must be 'Bearer <token>'")
			return
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.apiKey)) != 1 {
			s.writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Utility functions

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Error encoding JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// Response types

// AttachmentInfo is the wire form of one extracted attachment record.
type AttachmentInfo struct {
	Name          string `json:"name"`
	Ext           string `json:"ext"`
	Type          string `json:"type"`
	EffectiveType string `json:"effective_type"`
	Charset       string `json:"charset,omitempty"`
	Disposition   string `json:"disposition,omitempty"`
	Encoding      string `json:"encoding,omitempty"`
	MIMEErrors    int    `json:"mime_errors,omitempty"`
}

// ScanResponse reports the outcome of scanning one message.
type ScanResponse struct {
	Matches     []string          `json:"matches"`
	Attachments []AttachmentInfo  `json:"attachments"`
	Tags        map[string]string `json:"tags"`
	MIMEError   bool              `json:"mime_error"`
}

// RuleInfo describes one loaded rule.
type RuleInfo struct {
	Name    string   `json:"name"`
	Clauses []string `json:"clauses"`
}

// Handler functions

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"rules":  len(s.engine.Rules()),
	})
}

// handleScan accepts a raw RFC 822 message as the request body and returns
// the matched rules, the extracted attachment records and the message tags.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body := http.MaxBytesReader(w, r.Body, s.maxBodySize)
	result, err := s.engine.ScanMessage(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Unreadable message: %v", err))
		return
	}

	resp := ScanResponse{
		Matches:     result.Matches,
		Attachments: make([]AttachmentInfo, 0, len(result.Records)),
		Tags:        result.Tags(),
		MIMEError:   result.HasMIMEError(),
	}
	if resp.Matches == nil {
		resp.Matches = []string{}
	}
	for _, rec := range result.Records {
		resp.Attachments = append(resp.Attachments, attachmentInfo(rec))
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules := s.engine.Rules()
	infos := make([]RuleInfo, 0, len(rules))
	for _, rule := range rules {
		infos = append(infos, ruleInfo(rule))
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": infos,
		"count": len(infos),
	})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["name"]

	for _, rule := range s.engine.Rules() {
		if rule.Name == name {
			s.writeJSON(w, http.StatusOK, ruleInfo(rule))
			return
		}
	}
	s.writeError(w, http.StatusNotFound, "Rule not found")
}

func attachmentInfo(rec attachment.Record) AttachmentInfo {
	return AttachmentInfo{
		Name:          rec.Name,
		Ext:           rec.Ext,
		Type:          rec.Type,
		EffectiveType: rec.EffectiveType,
		Charset:       rec.Charset,
		Disposition:   rec.Disposition,
		Encoding:      rec.Encoding,
		MIMEErrors:    rec.MIMEErrors,
	}
}

func ruleInfo(rule *ruleengine.Rule) RuleInfo {
	clauses := make([]string, 0, len(rule.Clauses))
	for _, c := range rule.Clauses {
		value := c.Literal
		if c.Pattern != nil {
			value = "/" + c.Pattern.String() + "/"
		}
		clauses = append(clauses, fmt.Sprintf("%s %s %s", c.Target, c.Op, value))
	}
	return RuleInfo{Name: rule.Name, Clauses: clauses}
}

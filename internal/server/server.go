package server

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/AhmedIkram05/StockLens-sub000/internal/marketdata"
	"github.com/AhmedIkram05/StockLens-sub000/internal/receipt"
)

// CaptureService is the part of the capture workflow the HTTP surface uses
type CaptureService interface {
	ProcessReceipt(ctx context.Context, userID, filename string, photo []byte, contentType string) (*receipt.Suggestion, error)
	Confirm() error
	ConfirmManual(input string) error
	Rescan() error
	Pending() *receipt.PendingCapture
	Get(id string) (*receipt.Record, error)
	ListByUser(userID string) ([]*receipt.Record, error)
	GetPhoto(id string) ([]byte, error)
	Delete(id string) error
}

// Projector answers investment projection queries
type Projector interface {
	ProjectFutureValue(ctx context.Context, principal decimal.Decimal, ticker string, years float64) marketdata.Projection
}

// Server handles HTTP requests for captures, receipts and projections
type Server struct {
	captures  CaptureService
	projector Projector
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(captures CaptureService, projector Projector, basicAuth BasicAuth) *Server {
	s := &Server{
		captures:  captures,
		projector: projector,
		basicAuth: basicAuth,
		mux:       http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="StockLens"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux.
// Routes are registered from most specific to least specific.
func (s *Server) registerRoutes() {
	// Capture workflow
	s.mux.HandleFunc("POST /api/captures", s.requireAuth(s.handleStartCapture))
	s.mux.HandleFunc("POST /api/captures/confirm", s.requireAuth(s.handleConfirm))
	s.mux.HandleFunc("POST /api/captures/rescan", s.requireAuth(s.handleRescan))

	// Receipts
	s.mux.HandleFunc("GET /api/receipts/{id}/photo", s.requireAuth(s.handleGetReceiptPhoto))
	s.mux.HandleFunc("GET /api/receipts/{id}", s.requireAuth(s.handleGetReceipt))
	s.mux.HandleFunc("DELETE /api/receipts/{id}", s.requireAuth(s.handleDeleteReceipt))
	s.mux.HandleFunc("GET /api/receipts", s.requireAuth(s.handleListReceipts))

	// Projections
	s.mux.HandleFunc("GET /api/projections", s.requireAuth(s.handleProjection))
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, s.mux)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

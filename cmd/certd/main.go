// Certd issues tamper-evident certificates and answers public verification
// requests against the certificate registry.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bturcanu/certproof/pkg/auth"
	"github.com/bturcanu/certproof/pkg/config"
	"github.com/bturcanu/certproof/pkg/docsvc"
	"github.com/bturcanu/certproof/pkg/integrity"
	"github.com/bturcanu/certproof/pkg/issuance"
	cpOtel "github.com/bturcanu/certproof/pkg/otel"
	"github.com/bturcanu/certproof/pkg/registry"
	"github.com/bturcanu/certproof/pkg/types"
	"github.com/bturcanu/certproof/pkg/verify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

const (
	maxBodyBytes    = 1 << 20  // 1 MB
	maxUploadBytes  = 10 << 20 // 10 MB
	maxRateLimiters = 10_000
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ── OpenTelemetry ────────────────────────────────────────────────────
	otelShutdown, err := cpOtel.Setup(ctx, cpOtel.ConfigFromEnv("certd"))
	if err != nil {
		log.Error("otel setup failed", "error", err)
	} else {
		defer otelShutdown(context.Background()) //nolint:errcheck // best-effort shutdown
	}

	// ── Registry ─────────────────────────────────────────────────────────
	var (
		store registry.Store
		ready func(context.Context) error
	)
	switch backend := config.EnvOr("CERTD_STORE", "postgres"); backend {
	case "memory":
		log.Warn("using in-memory certificate store; records are lost on restart")
		store = registry.NewMemoryStore()
	case "postgres":
		pool, err := pgxpool.New(ctx, buildPostgresDSN())
		if err != nil {
			log.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		pg := registry.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Error("registry schema setup failed", "error", err)
			os.Exit(1)
		}
		store, ready = pg, pool.Ping
	default:
		log.Error("unknown CERTD_STORE", "store", backend)
		os.Exit(1)
	}
	records := registry.NewLogger(store, log)

	// ── Dependencies ─────────────────────────────────────────────────────
	var (
		renderer  issuance.Renderer
		extractor verify.Extractor
	)
	if docsvcURL := os.Getenv("DOCSVC_URL"); docsvcURL != "" {
		docs := docsvc.NewClient(docsvcURL)
		docs.SetTimeout(time.Duration(config.EnvOrInt("DOCSVC_TIMEOUT_SEC", 30)) * time.Second)
		docs.SetInternalToken(os.Getenv("INTERNAL_AUTH_TOKEN"))
		renderer, extractor = docs, docs
	} else {
		log.Warn("DOCSVC_URL not set; certificates are issued without documents and uploads cannot be verified")
	}

	keyStore := auth.NewKeyStore(os.Getenv("API_KEYS"))
	if keyStore.Len() == 0 {
		log.Warn("API_KEYS is empty; issuer endpoints will reject every request")
	}

	srv := &Server{
		log:          log,
		issuer:       issuance.New(records, renderer, log, issuance.WithIssuerTag(os.Getenv("CERT_ISSUER_TAG"))),
		verifier:     verify.New(records, extractor, log),
		records:      records,
		keys:         keyStore,
		ready:        ready,
		rateLimiters: make(map[string]*rate.Limiter),
		perIPLimit:   config.EnvOrInt("VERIFY_RATE_LIMIT", 10),
	}

	// ── Metrics (internal) ───────────────────────────────────────────────
	metricsAddr := config.EnvOr("METRICS_ADDR", "127.0.0.1:9090")
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:              metricsAddr,
		Handler:           metricsMux,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	go func() {
		log.Info("metrics server starting", "addr", metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", "error", err)
		}
	}()

	// ── Server ───────────────────────────────────────────────────────────
	addr := config.EnvOr("CERTD_ADDR", ":8080")
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Routes(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("certd starting", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down certd")
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
	if err := metricsSrv.Shutdown(shutCtx); err != nil {
		log.Error("metrics server shutdown error", "error", err)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Server
// ──────────────────────────────────────────────────────────────────────────────

type Server struct {
	log      *slog.Logger
	issuer   certIssuer
	verifier certVerifier
	records  recordReader
	keys     *auth.KeyStore
	ready    func(context.Context) error

	rateLimiters map[string]*rate.Limiter
	rlOrder      []string
	rlMu         sync.Mutex
	perIPLimit   int
}

type certIssuer interface {
	Issue(context.Context, types.IssueInput) (*types.IssuedCertificate, error)
	Revoke(context.Context, string, string) (*types.CertificateRecord, error)
}

type certVerifier interface {
	Verify(context.Context, types.VerificationRequest) types.Verdict
	ExtractAndVerify(context.Context, []byte) types.Verdict
}

type recordReader interface {
	GetByID(context.Context, string) (*types.CertificateRecord, error)
}

// Routes wires issuer endpoints behind API-key auth and leaves verification public.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if s.ready != nil {
			if err := s.ready(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("NOT READY"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.APIKeyAuth(s.keys))
		r.Post("/v1/certificates", s.HandleIssue)
		r.Get("/v1/certificates/{certificate_id}", s.HandleGet)
		r.Post("/v1/certificates/{certificate_id}/revoke", s.HandleRevoke)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Get("/v1/verify/{certificate_id}", s.HandleVerifyID)
		r.Post("/v1/verify/document", s.HandleVerifyDocument)
		r.Post("/v1/verify/document/upload", s.HandleVerifyUpload)
	})
	return r
}

// HandleIssue is POST /v1/certificates
func (s *Server) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var in types.IssueInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		types.ErrBadRequest("invalid JSON body").WriteJSON(w)
		return
	}

	out, err := s.issuer.Issue(ctx, in)
	if err != nil {
		var ve *types.ValidationError
		if errors.As(err, &ve) {
			types.ErrValidation(err).WriteJSON(w)
			return
		}
		s.log.ErrorContext(ctx, "issuance failed", "issuer", auth.IssuerFromContext(ctx), "error", err)
		types.ErrInternal("certificate issuance failed").WriteJSON(w)
		return
	}

	s.log.InfoContext(ctx, "certificate issued",
		"issuer", auth.IssuerFromContext(ctx),
		"certificate_id", out.Record.CertificateID,
		"rendered", out.RenderError == "",
	)
	writeJSON(w, http.StatusCreated, out)
}

// HandleGet is GET /v1/certificates/{certificate_id}
func (s *Server) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "certificate_id")
	if !integrity.ValidID(id) {
		types.ErrMalformed("certificate_id is not a valid certificate ID").WriteJSON(w)
		return
	}
	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		s.log.ErrorContext(ctx, "certificate lookup failed", "certificate_id", id, "error", err)
		types.ErrInternal("failed to retrieve certificate").WriteJSON(w)
		return
	}
	if rec == nil {
		types.ErrNotFound("certificate not found").WriteJSON(w)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleRevoke is POST /v1/certificates/{certificate_id}/revoke
func (s *Server) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "certificate_id")

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var in types.RevokeInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil && !errors.Is(err, io.EOF) {
		types.ErrBadRequest("invalid JSON body").WriteJSON(w)
		return
	}

	rec, err := s.issuer.Revoke(ctx, id, in.Reason)
	switch {
	case err == nil:
	case errors.Is(err, types.ErrMalformedID):
		types.ErrMalformed("certificate_id is not a valid certificate ID").WriteJSON(w)
		return
	case errors.Is(err, registry.ErrNotFound):
		types.ErrNotFound("certificate not found").WriteJSON(w)
		return
	case errors.Is(err, registry.ErrAlreadyRevoked):
		types.ErrConflict("certificate already revoked").WriteJSON(w)
		return
	default:
		s.log.ErrorContext(ctx, "revocation failed", "certificate_id", id, "error", err)
		types.ErrInternal("certificate revocation failed").WriteJSON(w)
		return
	}

	s.log.InfoContext(ctx, "certificate revoked",
		"issuer", auth.IssuerFromContext(ctx),
		"certificate_id", rec.CertificateID,
	)
	writeJSON(w, http.StatusOK, rec)
}

// HandleVerifyID is GET /v1/verify/{certificate_id}. Every outcome is a 200
// with a verdict body; the verdict is the answer.
func (s *Server) HandleVerifyID(w http.ResponseWriter, r *http.Request) {
	v := s.verifier.Verify(r.Context(), types.BareID{ID: chi.URLParam(r, "certificate_id")})
	writeJSON(w, http.StatusOK, v)
}

// HandleVerifyDocument is POST /v1/verify/document with extracted metadata.
func (s *Server) HandleVerifyDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var meta types.ExtractedMetadata
	if err := dec.Decode(&meta); err != nil {
		types.ErrBadRequest("invalid JSON body").WriteJSON(w)
		return
	}
	writeJSON(w, http.StatusOK, s.verifier.Verify(r.Context(), meta.Evidence()))
}

// HandleVerifyUpload is POST /v1/verify/document/upload with a raw PDF body.
func (s *Server) HandleVerifyUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	doc, err := io.ReadAll(r.Body)
	if err != nil {
		types.ErrBadRequest("document too large or unreadable").WriteJSON(w)
		return
	}
	if len(doc) == 0 {
		types.ErrBadRequest("empty document").WriteJSON(w)
		return
	}
	writeJSON(w, http.StatusOK, s.verifier.ExtractAndVerify(r.Context(), doc))
}

// ──────────────────────────────────────────────────────────────────────────────
// Rate limiting (public verification endpoints, keyed by client IP)
// ──────────────────────────────────────────────────────────────────────────────

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.allowRate(clientIP(r)) {
			types.ErrRateLimited().WriteJSON(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowRate(key string) bool {
	s.rlMu.Lock()
	defer s.rlMu.Unlock()

	lim, ok := s.rateLimiters[key]
	if ok {
		// Move to end of LRU order.
		for i, k := range s.rlOrder {
			if k == key {
				s.rlOrder = append(s.rlOrder[:i], s.rlOrder[i+1:]...)
				break
			}
		}
		s.rlOrder = append(s.rlOrder, key)
		return lim.Allow()
	}

	if len(s.rateLimiters) >= maxRateLimiters {
		oldest := s.rlOrder[0]
		s.rlOrder = s.rlOrder[1:]
		delete(s.rateLimiters, oldest)
	}

	lim = rate.NewLimiter(rate.Limit(s.perIPLimit), s.perIPLimit*2)
	s.rateLimiters[key] = lim
	s.rlOrder = append(s.rlOrder, key)
	return lim.Allow()
}

// clientIP relies on middleware.RealIP having rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func buildPostgresDSN() string {
	sslmode := config.EnvOr("POSTGRES_SSLMODE", "disable")
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(config.EnvOr("POSTGRES_USER", "certproof"), config.EnvOr("POSTGRES_PASSWORD", "changeme")),
		Host:     net.JoinHostPort(config.EnvOr("POSTGRES_HOST", "localhost"), config.EnvOr("POSTGRES_PORT", "5432")),
		Path:     config.EnvOr("POSTGRES_DB", "certproof"),
		RawQuery: "sslmode=" + url.QueryEscape(sslmode),
	}
	return u.String()
}

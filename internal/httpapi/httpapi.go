package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"channelhub/backend/internal/apperr"
	"channelhub/backend/internal/domain"
	"channelhub/backend/internal/logging"
	"channelhub/backend/internal/service"
	"channelhub/backend/internal/store"
)

const (
	maxJSONBody   = 1 << 20
	maxImportBody = 10 << 20
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
	validate      *validator.Validate
	logger        *zap.Logger
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger *zap.Logger) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		csrfSecret:    csrfSecret,
		validate:      newValidator(),
		logger:        logging.Or(logger).Named("http"),
	}
}

// newValidator reports field errors by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (expressed as Unix time truncated to the hour). The token is hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	bucket := time.Now().UTC().Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken accepts the current or previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := time.Now().UTC().Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(currentBucket))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(prevBucket)))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

var (
	allRoles     = []domain.Role{domain.RoleAdmin, domain.RoleSupervisor, domain.RoleFOS, domain.RoleRetailer, domain.RoleTechnician}
	adminOnly    = []domain.Role{domain.RoleAdmin}
	collectors   = []domain.Role{domain.RoleAdmin, domain.RoleSupervisor, domain.RoleFOS}
	unitSenders  = []domain.Role{domain.RoleAdmin, domain.RoleSupervisor, domain.RoleFOS}
	unitReturner = []domain.Role{domain.RoleSupervisor, domain.RoleFOS, domain.RoleRetailer, domain.RoleTechnician}
	stockTakers  = []domain.Role{domain.RoleAdmin, domain.RoleSupervisor}
)

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(a.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{a.allowedOrigin},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-CSRF-Token"},
		MaxAge:         300,
	}))
	r.Use(a.limitBody)
	r.Use(a.checkCSRF)

	r.Get("/healthz", a.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)
		r.Get("/auth/csrf-token", a.handleCSRFToken)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth)

			r.With(a.allow(allRoles...)).Get("/me", a.handleMe)

			r.Group(func(r chi.Router) {
				r.Use(a.allow(adminOnly...))
				r.Post("/users", a.handleCreateUser)
				r.Get("/users", a.handleListUsers)
				r.Post("/operators", a.handleCreateOperator)
				r.Put("/operators/{id}/price", a.handleSetOperatorPrice)
				r.Post("/products", a.handleCreateProduct)
				r.Post("/pincodes", a.handleAssignPincode)
				r.Post("/mappings/retailer-fos", a.handleMapRetailerFos)
				r.Post("/mappings/fos-operator", a.handleMapFosOperator)
				r.Post("/purchases/units", a.handleCreateBatch)
				r.Post("/purchases/stock", a.handleReceiveStock)
				r.Post("/wallets/sales", a.handleRecordSale)
				r.Get("/otps", a.handleListOtps)
				r.Post("/work-orders/sweep", a.handleSweepExpired)
			})

			r.Group(func(r chi.Router) {
				r.Use(a.allow(allRoles...))
				r.Get("/operators", a.handleListOperators)
				r.Get("/products", a.handleListProducts)
				r.Get("/mappings/fos/{fosID}/operators", a.handleOperatorsForFos)

				r.Get("/hierarchy/root", a.handleRootAdmin)
				r.Get("/hierarchy/parent", a.handleParent)
				r.Get("/hierarchy/children", a.handleChildren)
				r.Get("/hierarchy/counterparties", a.handleCounterparties)

				r.Get("/stock", a.handleListStock)
				r.Get("/stock/balance", a.handleStockBalance)
				r.Post("/stock/transfers", a.handleCreateStockTransfer)
				r.Get("/stock/transfers", a.handleListStockTransfers)
				r.Post("/stock/transfers/{id}/{action}", a.handleStockTransferAction)

				r.Get("/units", a.handleListUnits)
				r.Get("/units/history", a.handleTransferHistory)
				r.Get("/units/batches/pending", a.handlePendingBatches)
				r.Post("/units/batches/{batchID}/{action}", a.handleBatchAction)

				r.Post("/cash/transfers", a.handleCreateCashTransfer)
				r.Get("/cash/transfers", a.handleListCashTransfers)
				r.Post("/cash/transfers/{id}/{action}", a.handleCashTransferAction)

				r.Post("/payments", a.handleMarkPayment)
				r.Get("/payments", a.handleListPayments)
				r.Post("/payments/{id}/{action}", a.handlePaymentAction)

				r.Get("/wallets", a.handleListWallets)
				r.Get("/collections", a.handleListCollections)

				r.Post("/work-orders", a.handleCreateWorkOrder)
				r.Get("/work-orders", a.handleListWorkOrders)
				r.Get("/work-orders/{id}", a.handleGetWorkOrder)
				r.Get("/work-orders/{id}/report", a.handleGetWorkReport)
				r.Post("/work-orders/{id}/assign", a.handleAssign)
				r.Post("/work-orders/{id}/reassign", a.handleReassign)
				r.Post("/work-orders/{id}/otp", a.handleSendOtp)
				r.Post("/work-orders/{id}/close", a.handleCloseWorkOrder)
				r.Post("/work-orders/{id}/cancel", a.handleCancelWorkOrder)
				r.Post("/work-orders/{id}/deadline", a.handleExtendDeadline)
			})

			r.With(a.allow(unitSenders...)).Post("/units/transfers", a.handleTransferBatch)
			r.With(a.allow(unitReturner...)).Post("/units/returns", a.handleReturnBatch)
			r.With(a.allow(domain.RoleRetailer)).Post("/units/{serial}/sold", a.handleMarkSold)
			r.With(a.allow(stockTakers...)).Post("/stock/take-back", a.handleTakeBack)

			r.Group(func(r chi.Router) {
				r.Use(a.allow(collectors...))
				r.Post("/collections", a.handleCollect)
				r.Get("/collections/pending", a.handlePendingSummary)
				r.Post("/imports/ec-sales", a.handleImportEcSales)
			})
		})
	})
	return r
}

func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeStatus(w, http.StatusUnauthorized, apperr.Unauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			a.writeStatus(w, http.StatusUnauthorized, apperr.Unauthorized, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
	})
}

// allow rejects actors whose role is not listed.
func (a *API) allow(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := service.ActorFromContext(r.Context())
			if !ok || !isRoleAllowed(actor.Role, roles) {
				a.writeStatus(w, http.StatusForbidden, apperr.Unauthorized, errors.New("forbidden role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isRoleAllowed(role domain.Role, allowed []domain.Role) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}

func (a *API) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			limit := int64(maxJSONBody)
			if strings.HasPrefix(r.URL.Path, "/api/v1/imports/") {
				limit = maxImportBody
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next.ServeHTTP(w, r)
	})
}

var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

// checkCSRF enforces the X-CSRF-Token header on state-changing requests.
func (a *API) checkCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.Method
		if method != http.MethodPost && method != http.MethodPut && method != http.MethodPatch {
			next.ServeHTTP(w, r)
			return
		}
		for _, exempt := range csrfExemptPaths {
			if r.URL.Path == exempt {
				next.ServeHTTP(w, r)
				return
			}
		}
		if !a.validateCSRFToken(strings.TrimSpace(r.Header.Get("X-CSRF-Token"))) {
			a.writeStatus(w, http.StatusForbidden, apperr.Unauthorized, errors.New("missing or invalid CSRF token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(startedAt)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.writeStatus(w, http.StatusTooManyRequests, apperr.Unauthorized, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if !a.bind(w, r, &req) {
		return
	}
	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.writeStatus(w, http.StatusUnauthorized, apperr.Unauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless token valid for the current hour bucket.
func (a *API) handleCSRFToken(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

// bind decodes a JSON body into dest and validates it, writing a 400 on failure.
func (a *API) bind(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := decodeJSON(r, dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.writeStatus(w, http.StatusRequestEntityTooLarge, apperr.InvalidInput, errors.New("request body too large"))
			return false
		}
		a.writeStatus(w, http.StatusBadRequest, apperr.InvalidInput, err)
		return false
	}
	if err := a.validate.Struct(dest); err != nil {
		a.writeStatus(w, http.StatusBadRequest, apperr.InvalidInput, validationError(err))
		return false
	}
	return true
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msg := fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag())
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return errors.New(strings.Join(msgs, "; "))
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// statusFor maps a service failure to its HTTP status.
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Unauthorized:
		return http.StatusForbidden
	case apperr.AlreadyProcessed, apperr.DuplicateSerial:
		return http.StatusConflict
	case apperr.InvalidInput, apperr.InvalidAmount, apperr.CountMismatch,
		apperr.OtpMissing, apperr.OtpMismatch, apperr.InvalidState:
		return http.StatusBadRequest
	case apperr.InsufficientStock, apperr.InsufficientBalance, apperr.ExceedsPending,
		apperr.NotOwned, apperr.SerialNotAvailable:
		return http.StatusUnprocessableEntity
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrInsufficientStock):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	a.writeStatus(w, statusFor(err), apperr.KindOf(err), err)
}

// writeStatus hides the cause of 5xx responses from the client and logs it instead.
func (a *API) writeStatus(w http.ResponseWriter, status int, kind apperr.Kind, err error) {
	msg := err.Error()
	if status >= 500 {
		a.logger.Error("internal error", zap.Int("status", status), zap.Error(err))
		msg = "internal server error"
	}
	body := map[string]any{"error": msg}
	if kind != "" {
		body["kind"] = kind
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

package httpapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"warungpos/backend/internal/auth"
	"warungpos/backend/internal/domain"
	"warungpos/backend/internal/migrate"
	"warungpos/backend/internal/service"
	"warungpos/backend/internal/store"
)

const (
	maxJSONBytes = 1 << 20
	maxFileBytes = 8 << 20
)

type Options struct {
	AllowedOrigin string
	Logger        *zap.SugaredLogger
	// Gatherer backs /metrics. Nil serves the default registry.
	Gatherer prometheus.Gatherer
}

type API struct {
	service       *service.Service
	tokens        *auth.TokenManager
	logger        *zap.SugaredLogger
	gatherer      prometheus.Gatherer
	allowedOrigin string
	loginLimiter  *attemptLimiter
}

func New(svc *service.Service, tokens *auth.TokenManager, opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "*"
	}
	return &API{
		service:       svc,
		tokens:        tokens,
		logger:        opts.Logger,
		gatherer:      opts.Gatherer,
		allowedOrigin: opts.AllowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
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

// Allow records an attempt for key and reports whether it is within the
// limit for the sliding window.
func (l *attemptLimiter) Allow(key string) bool {
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.entries[key][:0:0]
	for _, ts := range l.entries[key] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	if len(recent) >= l.max {
		l.entries[key] = recent
		return false
	}
	l.entries[key] = append(recent, now)
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

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	anyone := []domain.Role{domain.RoleAdmin, domain.RoleCashier}

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("GET /api/v1/settings", a.handleGetSettings)

	mux.HandleFunc("GET /api/v1/products", a.requireAuth(a.handleListProducts, anyone...))
	mux.HandleFunc("POST /api/v1/products", a.requireAuth(a.handleCreateProduct, domain.RoleAdmin))
	mux.HandleFunc("GET /api/v1/products/{id}", a.requireAuth(a.handleGetProduct, anyone...))
	mux.HandleFunc("PATCH /api/v1/products/{id}", a.requireAuth(a.handleUpdateProduct, domain.RoleAdmin))
	mux.HandleFunc("GET /api/v1/products/code/{code}", a.requireAuth(a.handleProductByCode, anyone...))

	mux.HandleFunc("GET /api/v1/customers", a.requireAuth(a.handleListCustomers, anyone...))
	mux.HandleFunc("POST /api/v1/customers", a.requireAuth(a.handleCreateCustomer, domain.RoleAdmin))
	mux.HandleFunc("GET /api/v1/customers/{id}", a.requireAuth(a.handleGetCustomer, anyone...))
	mux.HandleFunc("PATCH /api/v1/customers/{id}", a.requireAuth(a.handleUpdateCustomer, domain.RoleAdmin))

	mux.HandleFunc("GET /api/v1/suppliers", a.requireAuth(a.handleListSuppliers, domain.RoleAdmin))
	mux.HandleFunc("POST /api/v1/suppliers", a.requireAuth(a.handleCreateSupplier, domain.RoleAdmin))
	mux.HandleFunc("GET /api/v1/suppliers/{id}", a.requireAuth(a.handleGetSupplier, domain.RoleAdmin))
	mux.HandleFunc("PATCH /api/v1/suppliers/{id}", a.requireAuth(a.handleUpdateSupplier, domain.RoleAdmin))

	mux.HandleFunc("POST /api/v1/archive/{collection}/{id}", a.requireAuth(a.handleArchive, domain.RoleAdmin))

	mux.HandleFunc("POST /api/v1/sales", a.requireAuth(a.handleCreateSale, anyone...))
	mux.HandleFunc("GET /api/v1/transactions", a.requireAuth(a.handleListTransactions, anyone...))
	mux.HandleFunc("GET /api/v1/transactions/{id}", a.requireAuth(a.handleGetTransaction, anyone...))

	mux.HandleFunc("GET /api/v1/incoming-goods", a.requireAuth(a.handleListIncomingGoods, domain.RoleAdmin))
	mux.HandleFunc("POST /api/v1/incoming-goods", a.requireAuth(a.handleRecordIncomingGoods, domain.RoleAdmin))

	mux.HandleFunc("PATCH /api/v1/settings", a.requireAuth(a.handleUpdateSettings, domain.RoleAdmin))

	mux.HandleFunc("POST /api/v1/files", a.requireAuth(a.handlePutFile, anyone...))
	mux.HandleFunc("GET /api/v1/files/{id}", a.handleGetFile)

	mux.HandleFunc("GET /api/v1/reports/daily", a.requireAuth(a.handleDailyReport, domain.RoleAdmin))
	mux.HandleFunc("GET /api/v1/reports/top-products", a.requireAuth(a.handleTopProducts, domain.RoleAdmin))

	mux.HandleFunc("GET /api/v1/users", a.requireAuth(a.handleListUsers, domain.RoleAdmin))
	mux.HandleFunc("POST /api/v1/users", a.requireAuth(a.handleCreateUser, domain.RoleAdmin))
	mux.HandleFunc("PATCH /api/v1/users/me", a.requireAuth(a.handleUpdateProfile, anyone...))

	return a.withMiddleware(mux)
}

type sessionKey struct{}

func sessionFrom(r *http.Request) domain.Session {
	sess, _ := r.Context().Value(sessionKey{}).(domain.Session)
	return sess
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...domain.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		sess, err := a.tokens.Parse(token)
		if err != nil {
			a.writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(sess.Role, roles) {
			a.writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sess)))
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

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.service.Ping(r.Context()); err != nil {
		a.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	sess, err := a.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	token, expiresAt, err := a.tokens.Issue(sess)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, domain.LoginResponse{
		AccessToken: token,
		Username:    sess.Username,
		Role:        sess.Role,
		ExpiresAt:   expiresAt.UTC().Format(time.RFC3339),
	})
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.ProductFilter{
		InStockOnly: parseBool(query.Get("in_stock")),
		SearchTerm:  query.Get("q"),
	}
	if raw := strings.TrimSpace(query.Get("archived")); raw != "" {
		archived := parseBool(raw)
		filter.Archived = &archived
	}
	if parseBool(query.Get("saleable")) {
		archived := false
		filter.Archived = &archived
		filter.InStockOnly = true
	}

	products, err := a.service.ListProducts(r.Context(), filter)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.service.CreateProduct(r.Context(), sessionFrom(r), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	product, err := a.service.GetProduct(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleProductByCode(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.FindProductByCode(r.Context(), r.PathValue("code"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	var req domain.ProductUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.service.UpdateProduct(r.Context(), sessionFrom(r), id, req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	customers, err := a.service.ListCustomers(r.Context(), domain.CustomerFilter{
		IncludeArchived: parseBool(query.Get("include_archived")),
		SearchTerm:      query.Get("q"),
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
}

func (a *API) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req domain.CustomerRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	customer, err := a.service.CreateCustomer(r.Context(), sessionFrom(r), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"customer": customer})
}

func (a *API) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	customer, err := a.service.GetCustomer(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
}

func (a *API) handleUpdateCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	var req domain.CustomerRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	customer, err := a.service.UpdateCustomer(r.Context(), sessionFrom(r), id, req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
}

func (a *API) handleListSuppliers(w http.ResponseWriter, r *http.Request) {
	suppliers, err := a.service.ListSuppliers(r.Context(), parseBool(r.URL.Query().Get("include_archived")))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suppliers": suppliers})
}

func (a *API) handleCreateSupplier(w http.ResponseWriter, r *http.Request) {
	var req domain.SupplierRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	supplier, err := a.service.CreateSupplier(r.Context(), sessionFrom(r), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"supplier": supplier})
}

func (a *API) handleGetSupplier(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	supplier, err := a.service.GetSupplier(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"supplier": supplier})
}

func (a *API) handleUpdateSupplier(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	var req domain.SupplierRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	supplier, err := a.service.UpdateSupplier(r.Context(), sessionFrom(r), id, req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"supplier": supplier})
}

func (a *API) handleArchive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	collection := r.PathValue("collection")
	if err := a.service.ArchiveEntity(r.Context(), sessionFrom(r), collection, id); err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"archived": true, "collection": collection, "id": id})
}

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	tx, err := a.service.CreateSale(r.Context(), sessionFrom(r), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"transaction": tx})
}

func (a *API) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	from, to, err := a.dateRange(r)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	txs, err := a.service.ListTransactions(r.Context(), from, to)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (a *API) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	tx, err := a.service.GetTransaction(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction": tx})
}

func (a *API) handleListIncomingGoods(w http.ResponseWriter, r *http.Request) {
	from, to, err := a.dateRange(r)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	docs, err := a.service.ListIncomingGoods(r.Context(), from, to)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"incoming_goods": docs})
}

func (a *API) handleRecordIncomingGoods(w http.ResponseWriter, r *http.Request) {
	var req domain.IncomingGoodsRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	doc, err := a.service.RecordIncomingGoods(r.Context(), sessionFrom(r), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"incoming_goods": doc})
}

func (a *API) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := a.service.GetSettings(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

func (a *API) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req domain.SettingsUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	settings, err := a.service.UpdateSettings(r.Context(), sessionFrom(r), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

// handlePutFile stores the raw request body. The kind comes from the query
// string; Content-Type is optional and must match the image content.
func (a *API) handlePutFile(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		a.writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	mimeType := strings.TrimSpace(r.Header.Get("Content-Type"))
	kind := domain.FileKind(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("kind"))))

	id, err := a.service.PutFile(r.Context(), data, mimeType, kind)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (a *API) handleGetFile(w http.ResponseWriter, r *http.Request) {
	file, err := a.service.GetFile(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	if file == nil {
		a.writeError(w, http.StatusNotFound, store.ErrNotFound)
		return
	}
	w.Header().Set("Content-Security-Policy", "default-src 'none'; sandbox")
	if service.IsImageType(file.MimeType) {
		w.Header().Set("Content-Type", file.MimeType)
		w.Header().Set("Content-Disposition", "inline")
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", "attachment")
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(file.Data)))
	w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(file.Data)
}

func (a *API) handleDailyReport(w http.ResponseWriter, r *http.Request) {
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		date = a.service.Today()
	}
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))

	if format == "csv" {
		var buf bytes.Buffer
		if err := a.service.WriteDailyReportCSV(r.Context(), &buf, date); err != nil {
			a.writeServiceError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"daily-report-%s.csv\"", date))
		_, _ = w.Write(buf.Bytes())
		return
	}

	report, err := a.service.DailyReport(r.Context(), date)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleTopProducts(w http.ResponseWriter, r *http.Request) {
	from, to, err := a.dateRange(r)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 10, 100)
	top, err := a.service.TopProducts(r.Context(), from, to, limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": top})
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	role := domain.Role(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("role"))))
	users, err := a.service.ListUsers(r.Context(), sessionFrom(r), role)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := a.service.CreateUser(r.Context(), sessionFrom(r), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (a *API) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req domain.ProfileUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := a.service.UpdateProfile(r.Context(), sessionFrom(r), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

// dateRange reads the from/to query dates (YYYY-MM-DD, both inclusive) in
// the report time zone. A missing bound is open.
func (a *API) dateRange(r *http.Request) (time.Time, time.Time, error) {
	var from, to time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		start, _, err := a.service.DayRange(raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = start
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		_, end, err := a.service.DayRange(raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = end
	}
	return from, to, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			limit := int64(maxJSONBytes)
			if r.URL.Path == "/api/v1/files" {
				limit = maxFileBytes
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.Debugw("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(startedAt),
		)
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.PathValue("id"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", store.ErrInvalidTransaction, raw)
	}
	return id, nil
}

func parseBool(raw string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && v
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

// statusFor maps service and store errors to HTTP status codes.
func statusFor(err error) int {
	var migrationErr *migrate.MigrationError
	switch {
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, store.ErrConstraintViolation):
		return http.StatusConflict
	case errors.Is(err, store.ErrInsufficientStock), errors.Is(err, store.ErrInsufficientPayment):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrStoreBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, store.ErrInvalidTransaction), errors.Is(err, store.ErrUnknownCollection):
		return http.StatusBadRequest
	case errors.As(err, &migrationErr):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	a.writeError(w, status, err)
}

// writeError hides the message of 5xx errors from the client and logs it.
func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 && status != http.StatusServiceUnavailable {
		a.logger.Errorw("request failed", "status", status, "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

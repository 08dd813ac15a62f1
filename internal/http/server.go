package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tally/internal/cache"
	"tally/internal/core"
	"tally/internal/log"
	"tally/internal/middleware/ratelimit"
	"tally/internal/middleware/security"
	"tally/internal/middleware/trace"
	"tally/internal/services"
)

// Store is the repository surface the server touches directly: the catalog
// aggregates that have no engine of their own, plus readiness probing and
// the rate-run queue.
type Store interface {
	Ping(ctx context.Context) error

	CreateAccount(ctx context.Context, a core.Account) (int64, error)
	GetAccount(ctx context.Context, id int64) (*core.Account, error)
	ListAccounts(ctx context.Context, includeArchived bool) ([]core.Account, error)
	UpdateAccount(ctx context.Context, a core.Account) error
	DeleteAccount(ctx context.Context, id int64) error

	ListCurrencies(ctx context.Context) ([]core.Currency, error)

	CreateCategory(ctx context.Context, c core.Category) (int64, error)
	GetCategory(ctx context.Context, id int64) (*core.Category, error)
	ListCategories(ctx context.Context, categoryType *core.CategoryType) ([]core.Category, error)
	UpdateCategory(ctx context.Context, c core.Category) error
	DeleteCategory(ctx context.Context, id int64) error

	ListRates(ctx context.Context, on core.Date) ([]core.ExchangeRate, error)
	ListRuns(ctx context.Context, limit int) ([]core.RateRun, error)
	EnsureRun(ctx context.Context, day core.Date, backfill bool) (core.RateRun, error)
}

// Deps carries everything NewServer wires into routes.
type Deps struct {
	Storage           Store
	Ledger            *services.LedgerService
	Recurring         *services.RecurringService
	Shopping          *services.ShoppingService
	ShoppingTemplates *services.ShoppingTemplateService
	Transfers         *services.TransferService
	Rates             *services.RateService
	Stats             *services.StatsService

	// DefaultCurrency is the reporting currency for stats queries that
	// omit one. Empty means EUR.
	DefaultCurrency string

	// Logger defaults to log.New(log.DefaultConfig()) when nil.
	Logger *log.Logger
}

// appMetrics are process-lifetime counters surfaced on /metrics.
type appMetrics struct {
	uptime             time.Time
	transactionsPosted int64
	cacheHits          int64
	cacheMisses        int64
}

// Server wraps http.Server with the service graph, response caches and
// middleware state.
type Server struct {
	http.Server

	storage           Store
	ledger            *services.LedgerService
	recurring         *services.RecurringService
	shopping          *services.ShoppingService
	shoppingTemplates *services.ShoppingTemplateService
	transfers         *services.TransferService
	rates             *services.RateService
	stats             *services.StatsService

	logger *log.Logger

	balancesCache *cache.LRUCache[[]core.AccountBalance]
	summaryCache  *cache.LRUCache[core.PeriodSummary]
	cacheManager  *cache.Manager

	rateLimiter *ratelimit.Limiter
	detector    *security.Detector
	tracer      *trace.Middleware

	defaultCurrency string

	appMetrics   appMetrics
	shutdownOnce sync.Once
}

// NewServer builds the full route table and middleware chain. The returned
// server is ready for ListenAndServe.
func NewServer(addr string, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if currency == "" {
		currency = "EUR"
	}

	s := &Server{
		storage:           deps.Storage,
		ledger:            deps.Ledger,
		recurring:         deps.Recurring,
		shopping:          deps.Shopping,
		shoppingTemplates: deps.ShoppingTemplates,
		transfers:         deps.Transfers,
		rates:             deps.Rates,
		stats:             deps.Stats,
		logger:            logger.WithComponent(log.ComponentHTTP),
		balancesCache:     cache.NewLRUCache[[]core.AccountBalance](16, 2*time.Minute),
		summaryCache:      cache.NewLRUCache[core.PeriodSummary](64, 5*time.Minute),
		cacheManager:      cache.NewManager(),
		rateLimiter:       ratelimit.NewLimiter(ratelimit.DefaultConfig()),
		detector:          security.NewDetector(),
		tracer:            nil,
		defaultCurrency:   currency,
		appMetrics:        appMetrics{uptime: time.Now()},
	}
	s.tracer = trace.NewMiddleware(s.detector.ExtractClientIP)

	s.cacheManager.Register(s.balancesCache)
	s.cacheManager.Register(s.summaryCache)
	s.cacheManager.StartCleanup(10 * time.Minute)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("POST /api/accounts", s.handleCreateAccount)
	mux.HandleFunc("GET /api/accounts", s.handleListAccounts)
	mux.HandleFunc("GET /api/accounts/{id}", s.handleGetAccount)
	mux.HandleFunc("PUT /api/accounts/{id}", s.handleUpdateAccount)
	mux.HandleFunc("DELETE /api/accounts/{id}", s.handleDeleteAccount)

	mux.HandleFunc("GET /api/currencies", s.handleListCurrencies)

	mux.HandleFunc("POST /api/categories", s.handleCreateCategory)
	mux.HandleFunc("GET /api/categories", s.handleListCategories)
	mux.HandleFunc("GET /api/categories/{id}", s.handleGetCategory)
	mux.HandleFunc("PUT /api/categories/{id}", s.handleUpdateCategory)
	mux.HandleFunc("DELETE /api/categories/{id}", s.handleDeleteCategory)

	mux.HandleFunc("POST /api/transactions", s.handlePostTransaction)
	mux.HandleFunc("GET /api/transactions", s.handleListTransactions)
	mux.HandleFunc("GET /api/transactions/{id}", s.handleGetTransaction)
	mux.HandleFunc("PUT /api/transactions/{id}", s.handleUpdateTransaction)
	mux.HandleFunc("DELETE /api/transactions/{id}", s.handleDeleteTransaction)

	mux.HandleFunc("POST /api/transfers/preview", s.handleTransferPreview)
	mux.HandleFunc("POST /api/transfers", s.handleTransferSubmit)

	mux.HandleFunc("POST /api/recurring", s.handleCreateRecurring)
	mux.HandleFunc("GET /api/recurring", s.handleListRecurring)
	mux.HandleFunc("GET /api/recurring/pending", s.handleListPendingRecurring)
	mux.HandleFunc("GET /api/recurring/{id}", s.handleGetRecurring)
	mux.HandleFunc("PUT /api/recurring/{id}", s.handleUpdateRecurring)
	mux.HandleFunc("DELETE /api/recurring/{id}", s.handleDeleteRecurring)
	mux.HandleFunc("POST /api/recurring/{id}/execute", s.handleExecuteRecurring)
	mux.HandleFunc("POST /api/recurring/{id}/activate", s.handleActivateRecurring)
	mux.HandleFunc("POST /api/recurring/{id}/deactivate", s.handleDeactivateRecurring)

	mux.HandleFunc("POST /api/shopping-lists", s.handleCreateShoppingList)
	mux.HandleFunc("GET /api/shopping-lists", s.handleListShoppingLists)
	mux.HandleFunc("GET /api/shopping-lists/{id}", s.handleGetShoppingList)
	mux.HandleFunc("PUT /api/shopping-lists/{id}", s.handleUpdateShoppingList)
	mux.HandleFunc("DELETE /api/shopping-lists/{id}", s.handleDeleteShoppingList)
	mux.HandleFunc("POST /api/shopping-lists/{id}/confirm", s.handleConfirmShoppingList)
	mux.HandleFunc("POST /api/shopping-lists/{id}/revert", s.handleRevertShoppingList)
	mux.HandleFunc("POST /api/shopping-lists/{id}/complete", s.handleCompleteShoppingList)
	mux.HandleFunc("POST /api/shopping-lists/{id}/items", s.handleAddShoppingItem)
	mux.HandleFunc("PUT /api/shopping-lists/{id}/items/{itemID}", s.handleUpdateShoppingItem)
	mux.HandleFunc("DELETE /api/shopping-lists/{id}/items/{itemID}", s.handleRemoveShoppingItem)
	mux.HandleFunc("POST /api/shopping-lists/{id}/items/{itemID}/toggle", s.handleToggleShoppingItem)

	mux.HandleFunc("POST /api/shopping-templates", s.handleCreateShoppingTemplate)
	mux.HandleFunc("GET /api/shopping-templates", s.handleListShoppingTemplates)
	mux.HandleFunc("GET /api/shopping-templates/{id}", s.handleGetShoppingTemplate)
	mux.HandleFunc("PUT /api/shopping-templates/{id}", s.handleUpdateShoppingTemplate)
	mux.HandleFunc("DELETE /api/shopping-templates/{id}", s.handleDeleteShoppingTemplate)
	mux.HandleFunc("POST /api/shopping-templates/{id}/instantiate", s.handleInstantiateShoppingTemplate)

	mux.HandleFunc("GET /api/rates", s.handleGetRates)
	mux.HandleFunc("POST /api/rates", s.handleSaveManualRate)
	mux.HandleFunc("GET /api/rates/runs", s.handleListRateRuns)
	mux.HandleFunc("POST /api/rates/collect", s.handleTriggerRateCollection)

	mux.HandleFunc("GET /api/stats/balances", s.handleAccountBalances)
	mux.HandleFunc("GET /api/stats/balance", s.handleTotalBalance)
	mux.HandleFunc("GET /api/stats/summary", s.handlePeriodSummary)

	mux.HandleFunc("/api/", notFound)

	s.Server = http.Server{
		Addr:    addr,
		Handler: s.buildChain(mux),
	}

	return s
}

// buildChain stacks the middleware: trace (request id, timing) on the
// outside, then suspicious-request detection, security headers, rate
// limiting, and the context logger closest to the handlers.
func (s *Server) buildChain(mux http.Handler) http.Handler {
	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())

	handler := log.Middleware(s.logger)(mux)
	handler = s.rateLimiter.Middleware(s.detector.ExtractClientIP, s.handleRateLimited)(handler)
	handler = headers.Middleware(handler)
	handler = s.detectSuspicious(handler)
	handler = s.tracer.Middleware(handler)
	return handler
}

// detectSuspicious logs scanner-looking requests. Detection only; nothing
// is blocked on a heuristic.
func (s *Server) detectSuspicious(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.detector.DetectSuspiciousRequest(r) {
			s.logger.WarnContext(r.Context(), "Suspicious request detected",
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path,
				log.FieldClientIP, s.detector.ExtractClientIP(r),
				log.FieldComponent, log.ComponentSecurity)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	s.logger.WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.detector.ExtractClientIP(r),
		log.FieldPath, r.URL.Path,
		log.FieldComponent, log.ComponentRateLimit)
	w.Header().Set("Retry-After", "60")
	writeJSON(w, r, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded, retry later"})
}

// Shutdown stops background goroutines and drains in-flight requests.
// Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		s.cacheManager.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

// handleHealth performs a basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.appMetrics.uptime).String(),
	})
}

// handleReady performs a readiness check with dependency verification
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]any)

	if err := s.storage.Ping(ctx); err != nil {
		checks["database"] = fmt.Sprintf("failed: %v", err)
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	checks["cache"] = map[string]any{
		"balances_entries": s.balancesCache.Size(),
		"summary_entries":  s.summaryCache.Size(),
		"status":           "ok",
	}

	checks["rate_limiter"] = map[string]any{
		"active_clients": s.rateLimiter.ActiveClients(),
		"status":         "ok",
	}

	writeJSON(w, r, httpStatus, map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleMetrics provides application and security metrics in plain text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	securityMetrics := s.detector.GetMetrics()
	rateLimitMetrics := s.rateLimiter.GetMetrics()
	traceMetrics := s.tracer.GetMetrics()

	transactionsPosted := atomic.LoadInt64(&s.appMetrics.transactionsPosted)
	cacheHits := atomic.LoadInt64(&s.appMetrics.cacheHits)
	cacheMisses := atomic.LoadInt64(&s.appMetrics.cacheMisses)
	uptime := time.Since(s.appMetrics.uptime)

	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "# HELP http_requests_total Total number of HTTP requests\n")
	fmt.Fprintf(w, "# TYPE http_requests_total counter\n")
	fmt.Fprintf(w, "http_requests_total %d\n\n", traceMetrics.TotalRequests)

	fmt.Fprintf(w, "# HELP transactions_posted_total Ledger transactions posted through this instance\n")
	fmt.Fprintf(w, "# TYPE transactions_posted_total counter\n")
	fmt.Fprintf(w, "transactions_posted_total %d\n\n", transactionsPosted)

	fmt.Fprintf(w, "# HELP cache_hits_total Total cache hits\n")
	fmt.Fprintf(w, "# TYPE cache_hits_total counter\n")
	fmt.Fprintf(w, "cache_hits_total %d\n\n", cacheHits)

	fmt.Fprintf(w, "# HELP cache_misses_total Total cache misses\n")
	fmt.Fprintf(w, "# TYPE cache_misses_total counter\n")
	fmt.Fprintf(w, "cache_misses_total %d\n\n", cacheMisses)

	fmt.Fprintf(w, "# HELP cache_entries Current cache entries\n")
	fmt.Fprintf(w, "# TYPE cache_entries gauge\n")
	fmt.Fprintf(w, "cache_entries{type=\"balances\"} %d\n", s.balancesCache.Size())
	fmt.Fprintf(w, "cache_entries{type=\"summary\"} %d\n\n", s.summaryCache.Size())

	fmt.Fprintf(w, "# HELP rate_limit_hits_total Total rate limit hits\n")
	fmt.Fprintf(w, "# TYPE rate_limit_hits_total counter\n")
	fmt.Fprintf(w, "rate_limit_hits_total %d\n\n", rateLimitMetrics.TotalHits)

	fmt.Fprintf(w, "# HELP suspicious_requests_total Total suspicious requests detected\n")
	fmt.Fprintf(w, "# TYPE suspicious_requests_total counter\n")
	fmt.Fprintf(w, "suspicious_requests_total %d\n\n", securityMetrics.SuspiciousRequests)

	fmt.Fprintf(w, "# HELP active_rate_limit_clients Currently tracked rate limit clients\n")
	fmt.Fprintf(w, "# TYPE active_rate_limit_clients gauge\n")
	fmt.Fprintf(w, "active_rate_limit_clients %d\n\n", rateLimitMetrics.ClientCount)

	fmt.Fprintf(w, "# HELP uptime_seconds Application uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE uptime_seconds gauge\n")
	fmt.Fprintf(w, "uptime_seconds %.0f\n\n", uptime.Seconds())
}

// invalidateDerived clears the cached balance and summary views. Every
// handler that posts, edits or deletes ledger data calls this.
func (s *Server) invalidateDerived() {
	s.balancesCache.Clear()
	s.summaryCache.Clear()
}

// recordPost counts a successful ledger post for /metrics.
func (s *Server) recordPost() {
	atomic.AddInt64(&s.appMetrics.transactionsPosted, 1)
}

// getBalances serves account balances through the response cache.
func (s *Server) getBalances(ctx context.Context) ([]core.AccountBalance, error) {
	const key = "balances"
	if cached, ok := s.balancesCache.Get(key); ok {
		atomic.AddInt64(&s.appMetrics.cacheHits, 1)
		return cached, nil
	}
	atomic.AddInt64(&s.appMetrics.cacheMisses, 1)

	balances, err := s.stats.AccountBalances(ctx)
	if err != nil {
		return nil, err
	}
	s.balancesCache.Set(key, balances)
	return balances, nil
}

// getSummary serves period summaries through the response cache.
func (s *Server) getSummary(ctx context.Context, from, to core.Date, currency string) (core.PeriodSummary, error) {
	key := fmt.Sprintf("%s..%s@%s", from, to, currency)
	if cached, ok := s.summaryCache.Get(key); ok {
		atomic.AddInt64(&s.appMetrics.cacheHits, 1)
		return cached, nil
	}
	atomic.AddInt64(&s.appMetrics.cacheMisses, 1)

	summary, err := s.stats.PeriodSummary(ctx, from, to, currency)
	if err != nil {
		return core.PeriodSummary{}, err
	}
	s.summaryCache.Set(key, *summary)
	return *summary, nil
}

// logAction emits one structured line for a successful mutating request.
func (s *Server) logAction(r *http.Request, msg string, args ...any) {
	base := []any{log.FieldMethod, r.Method, log.FieldPath, r.URL.Path}
	s.logger.InfoContext(r.Context(), msg, append(base, args...)...)
}

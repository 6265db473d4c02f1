package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/AcademiQERP/altumx-sistema-estable-2025-sub000/config"
	"github.com/AcademiQERP/altumx-sistema-estable-2025-sub000/models"
	"github.com/AcademiQERP/altumx-sistema-estable-2025-sub000/models/reports"
	"github.com/AcademiQERP/altumx-sistema-estable-2025-sub000/utils"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func getRedisClient(redisAddress string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     redisAddress,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	})
}

// respondModelError maps model-layer sentinel errors onto HTTP statuses.
// Anything unrecognized is treated as a bad request from a write path and an
// internal error from a read path; callers pass fallback accordingly.
func respondModelError(c *gin.Context, logger *logrus.Logger, funcName string, err error, fallback int) {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorInvalidFilter):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorConcurrencyConflict):
		// Another reconciliation holds the student's lock; safe to retry.
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "retryable": true})
	case errors.Is(err, utils.ErrorStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		config.LogError(logger, "server", funcName, "request failed", map[string]interface{}{
			"correlation_id": cid,
			"path":           c.Request.URL.Path,
		}, err)
		c.JSON(fallback, gin.H{"error": err.Error()})
	}
}

func respondBindingError(c *gin.Context, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(validationErrors)})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func pathIntParam(c *gin.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil || v <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a positive integer"})
		return 0, false
	}
	return v, true
}

func queryIntParam(c *gin.Context, name string) (*int, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be an integer"})
		return nil, false
	}
	return &v, true
}

func reconcileHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		studentId, ok := pathIntParam(c, "studentId")
		if !ok {
			return
		}
		ctx := c.Request.Context()
		result, err := models.ReconcileStudentDebts(ctx, studentId)
		if err != nil {
			respondModelError(c, logger, "reconcileHandler", err, http.StatusInternalServerError)
			return
		}
		statement, err := models.GetAccountStatement(ctx, studentId)
		if err != nil {
			respondModelError(c, logger, "reconcileHandler", err, http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"debts_settled":  result.DebtsSettled,
			"amount_applied": result.AmountApplied,
			"statement":      statement,
		})
	}
}

func statementHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		studentId, ok := pathIntParam(c, "studentId")
		if !ok {
			return
		}
		statement, err := models.GetAccountStatement(c.Request.Context(), studentId)
		if err != nil {
			respondModelError(c, logger, "statementHandler", err, http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, statement)
	}
}

func metricsParams(c *gin.Context) (year int, month int, groupId *int, conceptId *int, ok bool) {
	yearPtr, ok := queryIntParam(c, "year")
	if !ok {
		return
	}
	monthPtr, ok := queryIntParam(c, "month")
	if !ok {
		return
	}
	if yearPtr == nil || monthPtr == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "year and month are required"})
		return 0, 0, nil, nil, false
	}
	groupId, ok = queryIntParam(c, "groupId")
	if !ok {
		return
	}
	conceptId, ok = queryIntParam(c, "conceptId")
	if !ok {
		return
	}
	return *yearPtr, *monthPtr, groupId, conceptId, true
}

func metricsHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		year, month, groupId, conceptId, ok := metricsParams(c)
		if !ok {
			return
		}
		report, err := reports.GetPeriodMetricsReport(c.Request.Context(), year, month, groupId, conceptId)
		if err != nil {
			respondModelError(c, logger, "metricsHandler", err, http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func metricsExportHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		year, month, groupId, conceptId, ok := metricsParams(c)
		if !ok {
			return
		}
		report, err := reports.GetPeriodMetricsReport(c.Request.Context(), year, month, groupId, conceptId)
		if err != nil {
			respondModelError(c, logger, "metricsExportHandler", err, http.StatusInternalServerError)
			return
		}
		f, err := reports.BuildPeriodMetricsWorkbook(report)
		if err != nil {
			respondModelError(c, logger, "metricsExportHandler", err, http.StatusInternalServerError)
			return
		}
		defer f.Close()

		filename := fmt.Sprintf("period-metrics-%04d-%02d.xlsx", year, month)
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename="+filename)
		if err := f.Write(c.Writer); err != nil {
			config.LogError(logger, "server", "metricsExportHandler", "failed to stream workbook", nil, err)
		}
	}
}

// invalidateMetricsCache drops cached period metrics made stale by a ledger
// write. Best-effort: a failed delete only means a stale report until the TTL.
func invalidateMetricsCache(ctx context.Context, logger *logrus.Logger, funcName string, studentId int, conceptId int, at time.Time) {
	var groupId *int
	if student, err := models.GetStudent(ctx, studentId); err == nil {
		groupId = student.GroupId
	}
	if err := reports.InvalidatePeriodMetrics(at, groupId, &conceptId); err != nil {
		config.LogError(logger, "server", funcName, "invalidate report cache", map[string]interface{}{
			"student_id": studentId,
		}, err)
	}
}

func createDebtHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewDebt
		if err := c.ShouldBindJSON(&input); err != nil {
			respondBindingError(c, err)
			return
		}
		ctx := c.Request.Context()
		debt, err := models.CreateDebt(ctx, &input)
		if err != nil {
			respondModelError(c, logger, "createDebtHandler", err, http.StatusBadRequest)
			return
		}
		invalidateMetricsCache(ctx, logger, "createDebtHandler", debt.StudentId, debt.ConceptId, debt.DueDate)
		c.JSON(http.StatusCreated, debt)
	}
}

func createPaymentHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewPayment
		if err := c.ShouldBindJSON(&input); err != nil {
			respondBindingError(c, err)
			return
		}
		ctx := c.Request.Context()
		payment, err := models.CreatePayment(ctx, &input)
		if err != nil {
			respondModelError(c, logger, "createPaymentHandler", err, http.StatusBadRequest)
			return
		}

		invalidateMetricsCache(ctx, logger, "createPaymentHandler", payment.StudentId, payment.ConceptId, payment.PaymentDate)

		response := gin.H{"payment": payment}
		if config.AutoReconcileOnPayment() {
			result, err := models.ReconcileStudentDebts(ctx, payment.StudentId)
			if err != nil {
				// The payment is already recorded; reconciliation can be
				// retried explicitly, so report rather than fail.
				cid, _ := utils.GetCorrelationIdFromContext(ctx)
				config.LogError(logger, "server", "createPaymentHandler", "auto reconcile failed", map[string]interface{}{
					"correlation_id": cid,
					"student_id":     payment.StudentId,
				}, err)
				response["reconcile_error"] = err.Error()
			} else {
				response["reconcile"] = result
			}
		}
		c.JSON(http.StatusCreated, response)
	}
}

func settleDebtHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		debtId, ok := pathIntParam(c, "debtId")
		if !ok {
			return
		}
		ctx := c.Request.Context()
		debt, err := models.ManualSettleDebt(ctx, debtId)
		if err != nil {
			respondModelError(c, logger, "settleDebtHandler", err, http.StatusInternalServerError)
			return
		}
		invalidateMetricsCache(ctx, logger, "settleDebtHandler", debt.StudentId, debt.ConceptId, debt.DueDate)
		c.JSON(http.StatusOK, debt)
	}
}

func listConceptsHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		concepts, err := models.GetAllPaymentConcepts(c.Request.Context())
		if err != nil {
			respondModelError(c, logger, "listConceptsHandler", err, http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, concepts)
	}
}

func deleteConceptHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conceptId, ok := pathIntParam(c, "conceptId")
		if !ok {
			return
		}
		ctx := c.Request.Context()
		if _, err := models.GetPaymentConcept(ctx, conceptId); err != nil {
			respondModelError(c, logger, "deleteConceptHandler", err, http.StatusInternalServerError)
			return
		}
		if err := models.DeletePaymentConcept(ctx, conceptId); err != nil {
			// still referenced by debts or payments
			respondModelError(c, logger, "deleteConceptHandler", err, http.StatusConflict)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Header("x-correlation-id", cid)
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	api := r.Group("/api/finance")
	api.POST("/students/:studentId/reconcile", reconcileHandler(logger))
	api.GET("/students/:studentId/statement", statementHandler(logger))
	api.GET("/metrics", metricsHandler(logger))
	api.GET("/metrics/export", metricsExportHandler(logger))
	api.POST("/debts", createDebtHandler(logger))
	api.POST("/debts/:debtId/settle", settleDebtHandler(logger))
	api.POST("/payments", createPaymentHandler(logger))
	api.GET("/concepts", listConceptsHandler(logger))
	api.DELETE("/concepts/:conceptId", deleteConceptHandler(logger))

	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/api/finance")
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	// Get the IP address or user identifier from the request.
	key := c.ClientIP() // Assuming IP-based rate limiting

	// Check if the key exists in Redis.
	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the key doesn't exist, create it and set expiry.
	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	// If the key exists, get the current count.
	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the count exceeds the limit, return an error response.
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

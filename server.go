package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/fatoora-app/intake_backend/config"
	"github.com/fatoora-app/intake_backend/middlewares"
	"github.com/fatoora-app/intake_backend/models"
	"github.com/fatoora-app/intake_backend/utils"
	"github.com/fatoora-app/intake_backend/workflow"
)

const defaultPort = "8080"

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// respondError maps the error taxonomy onto HTTP statuses. Inconsistent-state
// errors are the only 500 the handlers produce on purpose: they mean manual
// reconciliation, not retry.
func respondError(c *gin.Context, err error) {
	var validationErrs utils.ValidationErrors
	var fieldErr utils.FieldError
	var inconsistent utils.InconsistentStateError
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case utils.IsConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &validationErrs):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"errors": validationErrs})
	case errors.As(err, &fieldErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"errors": utils.ValidationErrors{fieldErr}})
	case errors.As(err, &inconsistent):
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
	c.Error(err)
}

func pathId(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be an integer"})
		return 0, false
	}
	return id, true
}

func registerCatalogRoutes(r *gin.Engine) {
	r.POST("/counterparts", func(c *gin.Context) {
		var input models.NewCounterpart
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := models.CreateCounterpart(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, result)
	})
	r.GET("/counterparts/:id", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		result, err := models.GetCounterpart(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})
	r.GET("/counterparts", func(c *gin.Context) {
		role := models.CounterpartRole(c.Query("role"))
		if name := c.Query("name"); name != "" {
			results, err := models.SearchCounterpartsByName(c.Request.Context(), role, name)
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, results)
			return
		}
		results, err := models.ListCounterparts(c.Request.Context(), role)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, results)
	})

	r.POST("/products", func(c *gin.Context) {
		var input models.NewProduct
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := models.CreateProduct(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, result)
	})
	r.GET("/products/:id", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		result, err := models.GetProduct(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})
	r.GET("/products", func(c *gin.Context) {
		if name := c.Query("name"); name != "" {
			results, err := models.SearchProductsByName(c.Request.Context(), name)
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, results)
			return
		}
		results, err := models.ListProducts(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, results)
	})
	r.GET("/products/:id/stock-replay", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		orgId, found := utils.GetOrgIdFromContext(c.Request.Context())
		if !found {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing org id"})
			return
		}
		replayed, err := models.ReplayProductStock(c.Request.Context(), config.GetDB(), orgId, id)
		if err != nil {
			respondError(c, err)
			return
		}
		product, err := models.GetProduct(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"product_id":     id,
			"replayed_stock": replayed,
			"current_stock":  product.CurrentStock,
			"in_sync":        replayed.Equal(product.CurrentStock),
		})
	})
	r.POST("/stock-movements/:id/reverse", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		result, err := models.CreateStockReversal(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, result)
	})

	r.PUT("/exchange-rates", func(c *gin.Context) {
		var input models.NewCurrencyExchange
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := models.SaveExchangeRate(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})
	r.GET("/exchange-rates/:from", func(c *gin.Context) {
		rate, persisted, err := models.GetExchangeRate(c.Request.Context(), strings.ToUpper(c.Param("from")))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"exchange_rate": rate, "persisted": persisted})
	})
}

func registerRequestRoutes(r *gin.Engine) {
	r.POST("/requests", func(c *gin.Context) {
		var input models.NewIntakeRequest
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := models.CreateIntakeRequest(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, result)
	})
	r.GET("/requests/:id", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		result, err := models.GetIntakeRequest(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})
	r.POST("/requests/:id/reject", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		result, err := models.RejectIntakeRequest(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})
}

func registerWorkflowRoutes(r *gin.Engine, manager *workflow.Manager, logger *logrus.Logger) {
	r.POST("/workflows", func(c *gin.Context) {
		var input workflow.StartWorkflowInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		wc, err := manager.Start(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, workflowView(wc))
	})
	r.GET("/workflows/:id", func(c *gin.Context) {
		wc, err := manager.Get(c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, workflowView(wc))
	})
	r.DELETE("/workflows/:id", func(c *gin.Context) {
		if err := manager.Cancel(c.Param("id")); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	r.POST("/workflows/:id/intake", func(c *gin.Context) {
		var body struct {
			DocumentNumber string     `json:"document_number"`
			DocumentDate   *time.Time `json:"document_date"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		wc, err := manager.ConfirmIntake(c.Param("id"), body.DocumentNumber, body.DocumentDate)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, workflowView(wc))
	})
	r.POST("/workflows/:id/counterpart", func(c *gin.Context) {
		var body workflow.CounterpartConfirmation
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		wc, err := manager.ConfirmCounterpart(c.Request.Context(), c.Param("id"), body)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, workflowView(wc))
	})
	r.GET("/workflows/:id/counterpart-matches", func(c *gin.Context) {
		wc, err := manager.Get(c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		if wc.Extracted == nil || wc.Extracted.Counterpart == nil {
			respondError(c, utils.FieldError{Field: "extracted.counterpart", Message: "no extracted counterpart to match"})
			return
		}
		matches, recommendation, err := workflow.MatchCounterpart(c.Request.Context(), wc.Kind.CounterpartRole(), *wc.Extracted.Counterpart)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"matches": matches, "recommendation": recommendation})
	})
	r.GET("/workflows/:id/lines/:index/matches", func(c *gin.Context) {
		index, ok := pathId(c, "index")
		if !ok {
			return
		}
		wc, err := manager.Get(c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		line, err := wc.ExtractedLineAt(index)
		if err != nil {
			respondError(c, err)
			return
		}
		matches, recommendation, err := workflow.MatchProductLine(c.Request.Context(), line)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"matches": matches, "recommendation": recommendation})
	})
	r.POST("/workflows/:id/currency", func(c *gin.Context) {
		var body workflow.CurrencyConfirmation
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		wc, err := manager.ConfirmCurrency(c.Request.Context(), c.Param("id"), body)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, workflowView(wc))
	})

	r.POST("/workflows/:id/lines", func(c *gin.Context) {
		var body workflow.LineItem
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		wc, err := manager.AddLine(c.Param("id"), body)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, workflowView(wc))
	})
	r.PUT("/workflows/:id/lines/:index", func(c *gin.Context) {
		index, ok := pathId(c, "index")
		if !ok {
			return
		}
		var body workflow.LineEdit
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		wc, err := manager.UpdateLine(c.Param("id"), index, body)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, workflowView(wc))
	})
	r.DELETE("/workflows/:id/lines/:index", func(c *gin.Context) {
		index, ok := pathId(c, "index")
		if !ok {
			return
		}
		wc, err := manager.RemoveLine(c.Param("id"), index)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, workflowView(wc))
	})

	r.POST("/workflows/:id/line-analysis", func(c *gin.Context) {
		wc, err := manager.ConfirmLineAnalysis(c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, workflowView(wc))
	})
	r.POST("/workflows/:id/line-details", func(c *gin.Context) {
		wc, err := manager.ConfirmLineDetails(c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, workflowView(wc))
	})
	r.POST("/workflows/:id/line-verification", func(c *gin.Context) {
		var body []workflow.LineVerification
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		wc, err := manager.ConfirmLineVerification(c.Request.Context(), c.Param("id"), body)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, workflowView(wc))
	})
	r.POST("/workflows/:id/totals", func(c *gin.Context) {
		wc, err := manager.ConfirmTotals(c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, workflowView(wc))
	})
	r.POST("/workflows/:id/back", func(c *gin.Context) {
		var body struct {
			Target workflow.Step `json:"target" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		wc, err := manager.Back(c.Param("id"), body.Target)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, workflowView(wc))
	})
	r.POST("/workflows/:id/commit", func(c *gin.Context) {
		document, err := manager.Commit(c.Request.Context(), logger, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, document)
	})

	r.GET("/documents", func(c *gin.Context) {
		var kind *models.DocumentKind
		if v := c.Query("kind"); v != "" {
			k := models.DocumentKind(v)
			kind = &k
		}
		results, err := models.ListAccountingDocuments(c.Request.Context(), kind)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, results)
	})
	r.GET("/documents/:id", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		result, err := models.GetAccountingDocument(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})
}

func registerPaymentRoutes(r *gin.Engine, logger *logrus.Logger) {
	r.POST("/payment-requests", func(c *gin.Context) {
		var input models.NewPaymentRequest
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := models.CreatePaymentRequest(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, result)
	})
	r.GET("/payment-requests/:id", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		result, err := models.GetPaymentRequest(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})
	r.POST("/payment-requests/:id/response", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		result, err := models.AttachPaymentResponse(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})
	r.POST("/payment-requests/:id/approve", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		input := workflow.ApprovePaymentRequestInput{RequestId: id}
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&input); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			input.RequestId = id
		}
		result, err := workflow.ApprovePaymentRequest(c.Request.Context(), logger, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, result)
	})
	r.POST("/payment-requests/:id/reject", func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		var body struct {
			Notes string `json:"notes"`
		}
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		result, err := workflow.RejectPaymentRequest(c.Request.Context(), logger, id, body.Notes)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})
}

// workflowView is the response shape for a workflow instance: the context plus
// the derived step fields the client navigates by.
func workflowView(wc *workflow.WorkflowContext) gin.H {
	return gin.H{
		"workflow":     wc,
		"current_step": wc.CurrentStep(),
		"plan":         wc.Plan(),
		"committed":    wc.Committed(),
	}
}

var currencyCodePattern = regexp.MustCompile(`^[A-Z]{3}$`)

// registerBindingValidators adds the custom binding rules used in request
// payload tags (e.g. binding:"required,currencycode").
func registerBindingValidators() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	_ = v.RegisterValidation("currencycode", func(fl validator.FieldLevel) bool {
		return currencyCodePattern.MatchString(fl.Field().String())
	})
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// customErrorLogger logs only requests that recorded errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
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

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	registerBindingValidators()

	// Start the HTTP server ASAP so the platform considers the revision
	// healthy. Until DB/Redis are ready, app endpoints return 503.
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// In production, require an explicit allowlist; deny all when unset.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", "x-org-id", "x-user-id", "x-user-name", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length", "x-correlation-id")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(middlewares.SessionMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	manager := workflow.NewManager()
	registerCatalogRoutes(r)
	registerRequestRoutes(r)
	registerWorkflowRoutes(r, manager, logger)
	registerPaymentRoutes(r, logger)
	r.NoRoute(customNotFoundHandler)

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

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow running migrations as
	// a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/")
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

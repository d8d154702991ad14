package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"edusched/internal/apperr"
	"edusched/internal/attendance"
	"edusched/internal/auth"
	"edusched/internal/batch"
	"edusched/internal/config"
	"edusched/internal/educator"
	"edusched/internal/enrollment"
	"edusched/internal/httpmiddleware"
	"edusched/internal/queue"
	"edusched/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Printf("warning: db not reachable: %v", err)
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	var locker batch.Locker
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
		locker = batch.NopLocker{}
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "edusched:jobs")
		locker = store.NewLock(redisClient.Client, "edusched:assign:", cfg.AssignLockTTL)
	}

	batchRepo := batch.NewRepository(db.Client)
	eduRepo := educator.NewRepository(db.Client)
	sessionRepo := attendance.NewSessionRepository(db.Client)
	recordRepo := attendance.NewRecordRepository(db.Client)
	enrRepo := enrollment.NewRepository(db.Client)

	detector := batch.NewDetector(batchRepo)
	resolver := batch.NewResolver(eduRepo, batchRepo, detector, locker, batch.Strategy(cfg.EducatorStrategy))
	batchSvc := batch.NewService(batchRepo, resolver, queue.Publisher{Q: q})
	attSvc := attendance.NewService(sessionRepo, recordRepo, enrRepo)
	availSvc := educator.NewService(eduRepo)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewRateLimiter(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	// Dev/bootstrap token issue; a real deployment fronts this with the
	// org's identity provider.
	r.POST("/v1/auth/token", func(c *gin.Context) {
		var req struct {
			UserID   string `json:"user_id" binding:"required"`
			Role     string `json:"role" binding:"required"`
			SubOrgID string `json:"sub_org_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tokens, err := auth.Issue(req.UserID, req.Role, req.SubOrgID, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	v1 := r.Group("/v1", auth.Require(cfg.JWTSigningKey, cfg.JWTIssuer))

	manage := v1.Group("", auth.RequireRole(batch.RoleAdmin, batch.RoleSubOrgAdmin, batch.RoleEducator))

	manage.POST("/batches", func(c *gin.Context) {
		var req struct {
			Name       string         `json:"name" binding:"required"`
			Code       string         `json:"code"`
			CourseID   string         `json:"course_id" binding:"required"`
			EducatorID string         `json:"educator_id"`
			SubOrgID   *string        `json:"sub_org_id"`
			Mode       string         `json:"mode"`
			StartDate  string         `json:"start_date" binding:"required"`
			EndDate    string         `json:"end_date" binding:"required"`
			Capacity   int            `json:"capacity"`
			Schedule   batch.Schedule `json:"schedule"`
			Status     string         `json:"status"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		start, err := parseDate(req.StartDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start_date must be YYYY-MM-DD"})
			return
		}
		end, err := parseDate(req.EndDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end_date must be YYYY-MM-DD"})
			return
		}
		if req.Schedule.TimeZone == "" {
			req.Schedule.TimeZone = cfg.DefaultTimeZone
		}
		b, err := batchSvc.Create(c.Request.Context(), actorFrom(c), batch.CreateInput{
			Name:       req.Name,
			Code:       req.Code,
			CourseID:   req.CourseID,
			EducatorID: req.EducatorID,
			SubOrgID:   req.SubOrgID,
			Mode:       req.Mode,
			StartDate:  start,
			EndDate:    end,
			Capacity:   req.Capacity,
			Schedule:   req.Schedule,
			Status:     req.Status,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, b)
	})

	manage.GET("/batches", func(c *gin.Context) {
		f := batch.Filter{
			Status:     c.Query("status"),
			Mode:       c.Query("mode"),
			CourseID:   c.Query("course_id"),
			EducatorID: c.Query("educator_id"),
			SubOrgID:   c.Query("sub_org_id"),
		}
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				f.Limit = parsed
			}
		}
		if v := c.Query("offset"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				f.Offset = parsed
			}
		}
		items, err := batchSvc.List(c.Request.Context(), actorFrom(c), f)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"batches": items})
	})

	manage.GET("/batches/:id", func(c *gin.Context) {
		b, err := batchSvc.Get(c.Request.Context(), actorFrom(c), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, b)
	})

	manage.PATCH("/batches/:id", func(c *gin.Context) {
		var req struct {
			Name       *string         `json:"name"`
			Code       *string         `json:"code"`
			EducatorID string          `json:"educator_id"`
			SubOrgID   *string         `json:"sub_org_id"`
			Mode       string          `json:"mode"`
			StartDate  string          `json:"start_date"`
			EndDate    string          `json:"end_date"`
			Capacity   *int            `json:"capacity"`
			Schedule   *batch.Schedule `json:"schedule"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		in := batch.UpdateInput{
			Name:       req.Name,
			Code:       req.Code,
			EducatorID: req.EducatorID,
			SubOrgID:   req.SubOrgID,
			Mode:       req.Mode,
			Capacity:   req.Capacity,
			Schedule:   req.Schedule,
		}
		if req.StartDate != "" {
			start, err := parseDate(req.StartDate)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "start_date must be YYYY-MM-DD"})
				return
			}
			in.StartDate = start
		}
		if req.EndDate != "" {
			end, err := parseDate(req.EndDate)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "end_date must be YYYY-MM-DD"})
				return
			}
			in.EndDate = end
		}
		b, err := batchSvc.Update(c.Request.Context(), actorFrom(c), c.Param("id"), in)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, b)
	})

	manage.POST("/batches/:id/status", func(c *gin.Context) {
		var req struct {
			Status string `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		b, err := batchSvc.ChangeStatus(c.Request.Context(), actorFrom(c), c.Param("id"), req.Status)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": b.ID, "status": b.Status})
	})

	// Dry-run educator resolution for a proposed schedule.
	manage.POST("/educators/assign", func(c *gin.Context) {
		var req struct {
			CourseID   string         `json:"course_id"`
			SubOrgID   *string        `json:"sub_org_id"`
			EducatorID string         `json:"educator_id"`
			StartDate  string         `json:"start_date" binding:"required"`
			EndDate    string         `json:"end_date" binding:"required"`
			Schedule   batch.Schedule `json:"schedule"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		start, err := parseDate(req.StartDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start_date must be YYYY-MM-DD"})
			return
		}
		end, err := parseDate(req.EndDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end_date must be YYYY-MM-DD"})
			return
		}
		id, err := batchSvc.AssignEducator(c.Request.Context(), batch.AssignRequest{
			CourseID:           req.CourseID,
			SubOrgID:           req.SubOrgID,
			Schedule:           req.Schedule,
			StartDate:          start,
			EndDate:            end,
			ExplicitEducatorID: req.EducatorID,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"educator_id": id})
	})

	manage.POST("/batches/:id/sessions/generate", func(c *gin.Context) {
		actor := actorFrom(c)
		b, err := batchSvc.Get(c.Request.Context(), actor, c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		regenerate := c.Query("regenerate") == "true"
		created, err := attSvc.Generate(c.Request.Context(), b, regenerate, actor.UserID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"created": created})
	})

	manage.GET("/batches/:id/sessions", func(c *gin.Context) {
		if _, err := batchSvc.Get(c.Request.Context(), actorFrom(c), c.Param("id")); err != nil {
			respondErr(c, err)
			return
		}
		sessions, err := attSvc.ListSessions(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions})
	})

	manage.GET("/sessions/:id", func(c *gin.Context) {
		detail, err := attSvc.GetSessionWithRecords(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, detail)
	})

	// The token is the scan credential; it is only exposed here, for
	// rendering into a QR code by the front end.
	manage.GET("/sessions/:id/qr", func(c *gin.Context) {
		sess, err := attSvc.GetSession(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		if !sess.QrEnabled {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session has no QR check-in"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"session_id": sess.ID, "token": sess.QrToken})
	})

	manage.POST("/sessions/:id/rollcall", func(c *gin.Context) {
		var req struct {
			PresentLearnerIDs []string `json:"present_learner_ids"`
		}
		// Empty body means "mark everyone enrolled present".
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		marked, err := attSvc.RecordRollCall(c.Request.Context(), c.Param("id"), req.PresentLearnerIDs)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"marked": marked})
	})

	v1.POST("/attendance/scan", auth.RequireRole(batch.RoleLearner), func(c *gin.Context) {
		var req struct {
			Token string `json:"token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claims := auth.FromContext(c)
		rec, err := attSvc.RecordQrScan(c.Request.Context(), req.Token, claims.Subject)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	avail := v1.Group("/availability", auth.RequireRole(batch.RoleEducator))

	avail.POST("", func(c *gin.Context) {
		var req struct {
			DaysOfWeek []string `json:"days_of_week" binding:"required"`
			StartTime  string   `json:"start_time" binding:"required"`
			EndTime    string   `json:"end_time" binding:"required"`
			TimeZone   string   `json:"time_zone"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.TimeZone == "" {
			req.TimeZone = cfg.DefaultTimeZone
		}
		claims := auth.FromContext(c)
		av, err := availSvc.Declare(c.Request.Context(), claims.Subject, req.DaysOfWeek, req.StartTime, req.EndTime, req.TimeZone)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, av)
	})

	avail.GET("", func(c *gin.Context) {
		claims := auth.FromContext(c)
		windows, err := availSvc.List(c.Request.Context(), claims.Subject)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"availability": windows})
	})

	avail.PATCH("/:id", func(c *gin.Context) {
		var req struct {
			DaysOfWeek []string `json:"days_of_week"`
			StartTime  string   `json:"start_time"`
			EndTime    string   `json:"end_time"`
			TimeZone   string   `json:"time_zone"`
			Active     *bool    `json:"active"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		active := true
		if req.Active != nil {
			active = *req.Active
		}
		claims := auth.FromContext(c)
		av, err := availSvc.Update(c.Request.Context(), claims.Subject, c.Param("id"), req.DaysOfWeek, req.StartTime, req.EndTime, req.TimeZone, active)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, av)
	})

	avail.DELETE("/:id", func(c *gin.Context) {
		claims := auth.FromContext(c)
		if err := availSvc.Delete(c.Request.Context(), claims.Subject, c.Param("id")); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

func actorFrom(c *gin.Context) batch.Actor {
	claims := auth.FromContext(c)
	actor := batch.Actor{UserID: claims.Subject, Role: claims.Role}
	if claims.SubOrgID != "" {
		subOrg := claims.SubOrgID
		actor.SubOrgID = &subOrg
	}
	return actor
}

func respondErr(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindForbidden:
		status = http.StatusForbidden
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindInvalidInput:
		status = http.StatusBadRequest
	case apperr.KindResourceExhausted:
		status = http.StatusUnprocessableEntity
	case apperr.KindUnauthenticated:
		status = http.StatusUnauthorized
	}
	if status == http.StatusInternalServerError {
		log.Printf("internal error: %v", err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}

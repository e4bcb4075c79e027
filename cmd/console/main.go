package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"faceconsole/internal/capture"
	"faceconsole/internal/config"
	"faceconsole/internal/faults"
	"faceconsole/internal/feed"
	"faceconsole/internal/httpmiddleware"
	"faceconsole/internal/hub"
	"faceconsole/internal/metrics"
	"faceconsole/internal/queue"
	"faceconsole/internal/reconcile"
	"faceconsole/internal/report"
	"faceconsole/internal/session"
	"faceconsole/internal/store"
	"faceconsole/internal/timeutil"
	"faceconsole/internal/upstream"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	metrics.Register()

	if err := run(cfg); err != nil {
		log.Fatalf("console failed: %v", err)
	}
}

// noCamera stands in when no camera stream is configured.
type noCamera struct{}

func (noCamera) Open(context.Context) (capture.Device, error) {
	return nil, faults.New(faults.DeviceNotReady, "no camera stream configured")
}

func run(cfg config.App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient := store.NewRedis(cfg.RedisAddr)
	sessions := session.NewStore()
	client := upstream.New(cfg.BackendURL, sessions, cfg.SubmitTimeout)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "console:feed")
	}

	h := hub.New()
	defer h.Close()

	rec := reconcile.New(client, store.NewSnapshotCache(redisClient))
	rec.OnUpdate = h.Publish

	msgs, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("consume queue: %w", err)
	}
	if err := rec.Open(ctx, msgs); err != nil {
		return fmt.Errorf("open reconciler: %w", err)
	}
	defer rec.Close()

	sub := feed.New(cfg.BackendWSURL, q)
	sub.OnResync = func() { rec.TriggerRefresh(ctx) }
	go sub.Run(ctx)

	// The push stream carries individual scans; the poll stays the
	// authority and also covers quiet periods.
	go func() {
		ticker := time.NewTicker(cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rec.TriggerRefresh(ctx)
			}
		}
	}()

	var opener capture.DeviceOpener = noCamera{}
	if cfg.CameraStreamURL != "" {
		opener = capture.NewMJPEGOpener(cfg.CameraStreamURL)
	}
	mgr := capture.NewManager(opener, client, cfg.AcquireTimeout, cfg.SubmitTimeout)
	mgr.OnEnrolled = func(int64) { rec.TriggerRefresh(ctx) }
	defer mgr.CloseAll()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewLimiter(cfg.RateLimitPerMin, cfg.RateLimitPerMin).PerIP())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"status":     "ok",
			"redis":      redisHealthy,
			"feed_ready": rec.Ready(),
			"signed_in":  sessions.Valid(),
		})
	})

	// Dashboards subscribe here; the upstream credential stays server side,
	// so the stream itself is open like the backend's /ws.
	r.GET("/ws", func(c *gin.Context) {
		h.Serve(c.Writer, c.Request)
	})

	loginLimiter := httpmiddleware.NewLimiter(5, 5)

	r.POST("/api/auth/login", func(c *gin.Context) {
		var req struct {
			Username string `json:"username" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
			return
		}
		if !loginLimiter.Allow("login:" + req.Username) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many login attempts"})
			return
		}
		if err := client.Login(c.Request.Context(), req.Username, req.Password); err != nil {
			respondFault(c, err)
			return
		}
		loginLimiter.Reset("login:" + req.Username)
		rec.TriggerRefresh(ctx)
		c.JSON(http.StatusOK, gin.H{"expires_at": sessions.ExpiresAt().Unix()})
	})

	r.POST("/api/auth/logout", func(c *gin.Context) {
		sessions.Clear()
		c.JSON(http.StatusOK, gin.H{"status": "signed out"})
	})

	api := r.Group("/api", session.Required(sessions))

	api.GET("/dashboard", func(c *gin.Context) {
		c.JSON(http.StatusOK, rec.Snapshot())
	})

	api.GET("/attendance", func(c *gin.Context) {
		events, err := client.ListEvents(c.Request.Context(), queryFromRequest(c))
		if err != nil {
			respondFault(c, err)
			return
		}
		type row struct {
			upstream.AttendanceEvent
			CheckIn timeutil.Classification `json:"check_in"`
		}
		rows := make([]row, 0, len(events))
		for _, ev := range events {
			rows = append(rows, row{
				AttendanceEvent: ev,
				CheckIn:         timeutil.Classify(ev.Timestamp.Time, cfg.CutoffHour, cfg.CutoffMinute, cfg.GraceMinutes),
			})
		}
		c.JSON(http.StatusOK, gin.H{"events": rows})
	})

	api.GET("/attendance/export", func(c *gin.Context) {
		events, err := client.ListEvents(c.Request.Context(), queryFromRequest(c))
		if err != nil {
			respondFault(c, err)
			return
		}
		name := "attendance-" + time.Now().Format("20060102-150405")
		switch c.DefaultQuery("format", "csv") {
		case "xlsx":
			c.Header("Content-Disposition", `attachment; filename="`+name+`.xlsx"`)
			c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
			if err := report.WriteXLSX(c.Writer, events); err != nil {
				log.Printf("xlsx export failed: %v", err)
			}
		case "csv":
			c.Header("Content-Disposition", `attachment; filename="`+name+`.csv"`)
			c.Header("Content-Type", "text/csv")
			if err := report.WriteCSV(c.Writer, events); err != nil {
				log.Printf("csv export failed: %v", err)
			}
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "format must be csv or xlsx"})
		}
	})

	api.GET("/reports/daily", func(c *gin.Context) {
		q := queryFromRequest(c)
		if q.StartDate == "" {
			now := time.Now()
			switch c.DefaultQuery("period", "month") {
			case "day":
				q.StartDate = timeutil.CivilDate(timeutil.StartOfDay(now))
			case "week":
				q.StartDate = timeutil.CivilDate(timeutil.StartOfWeek(now))
			default:
				q.StartDate = timeutil.CivilDate(timeutil.StartOfMonth(now))
			}
		}
		events, err := client.ListEvents(c.Request.Context(), q)
		if err != nil {
			respondFault(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"days": report.Aggregate(events)})
	})

	api.GET("/users", func(c *gin.Context) {
		users, err := client.ListUsers(c.Request.Context())
		if err != nil {
			respondFault(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"users": users})
	})

	api.POST("/users", func(c *gin.Context) {
		var req struct {
			Name string `json:"name" binding:"required"`
			Code string `json:"code" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		user, err := client.CreateUser(c.Request.Context(), req.Name, req.Code)
		if err != nil {
			respondFault(c, err)
			return
		}
		c.JSON(http.StatusCreated, user)
	})

	api.GET("/users/:id", func(c *gin.Context) {
		id, ok := userID(c)
		if !ok {
			return
		}
		user, err := client.GetUser(c.Request.Context(), id)
		if err != nil {
			respondFault(c, err)
			return
		}
		c.JSON(http.StatusOK, user)
	})

	api.PUT("/users/:id", func(c *gin.Context) {
		id, ok := userID(c)
		if !ok {
			return
		}
		var req struct {
			Name string `json:"name" binding:"required"`
			Code string `json:"code" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		user, err := client.UpdateUser(c.Request.Context(), id, req.Name, req.Code)
		if err != nil {
			respondFault(c, err)
			return
		}
		c.JSON(http.StatusOK, user)
	})

	api.DELETE("/users/:id", func(c *gin.Context) {
		id, ok := userID(c)
		if !ok {
			return
		}
		mgr.Close(id)
		if err := client.DeleteUser(c.Request.Context(), id); err != nil {
			respondFault(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted"})
	})

	api.GET("/settings", func(c *gin.Context) {
		settings, err := client.GetSettings(c.Request.Context())
		if err != nil {
			respondFault(c, err)
			return
		}
		c.JSON(http.StatusOK, settings)
	})

	api.PUT("/settings", func(c *gin.Context) {
		var req upstream.Settings
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		settings, err := client.UpdateSettings(c.Request.Context(), req)
		if err != nil {
			respondFault(c, err)
			return
		}
		c.JSON(http.StatusOK, settings)
	})

	// Enrollment sessions, one per user.
	api.POST("/users/:id/session", func(c *gin.Context) {
		id, ok := userID(c)
		if !ok {
			return
		}
		s, err := mgr.Open(id)
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, s.State())
	})

	api.GET("/users/:id/session", func(c *gin.Context) {
		s, ok := liveSession(c, mgr)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, s.State())
	})

	api.DELETE("/users/:id/session", func(c *gin.Context) {
		id, ok := userID(c)
		if !ok {
			return
		}
		mgr.Close(id)
		c.JSON(http.StatusOK, gin.H{"status": "closed"})
	})

	api.POST("/users/:id/session/start", func(c *gin.Context) {
		s, ok := liveSession(c, mgr)
		if !ok {
			return
		}
		var req struct {
			Mode capture.Mode `json:"mode" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "mode required (camera or upload)"})
			return
		}
		if req.Mode != capture.ModeCamera && req.Mode != capture.ModeUpload {
			c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be camera or upload"})
			return
		}
		if err := s.Start(c.Request.Context(), req.Mode); err != nil {
			respondSessionFault(c, s, err)
			return
		}
		c.JSON(http.StatusOK, s.State())
	})

	api.POST("/users/:id/session/capture", func(c *gin.Context) {
		s, ok := liveSession(c, mgr)
		if !ok {
			return
		}
		if err := s.Capture(c.Request.Context()); err != nil {
			respondSessionFault(c, s, err)
			return
		}
		c.JSON(http.StatusOK, s.State())
	})

	api.POST("/users/:id/session/file", func(c *gin.Context) {
		s, ok := liveSession(c, mgr)
		if !ok {
			return
		}
		// Bound the whole multipart parse, with headroom for form framing
		// so files just over the image limit still reach SelectFile and
		// get the proper rejection.
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, capture.MaxUploadBytes+1<<20)
		file, header, err := c.Request.FormFile("file")
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				respondSessionFault(c, s, faults.New(faults.FileTooLarge, "image exceeds the 10 MB limit"))
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
			return
		}
		defer file.Close()
		// Read one byte past the limit so SelectFile can reject oversize
		// files without the console buffering them whole.
		data, err := io.ReadAll(io.LimitReader(file, capture.MaxUploadBytes+1))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "read file failed"})
			return
		}
		if err := s.SelectFile(header.Filename, header.Header.Get("Content-Type"), data); err != nil {
			respondSessionFault(c, s, err)
			return
		}
		c.JSON(http.StatusOK, s.State())
	})

	api.GET("/users/:id/session/preview", func(c *gin.Context) {
		s, ok := liveSession(c, mgr)
		if !ok {
			return
		}
		img := s.Image()
		if img == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no image captured"})
			return
		}
		c.Data(http.StatusOK, http.DetectContentType(img.Data), img.Data)
	})

	api.POST("/users/:id/session/retake", func(c *gin.Context) {
		s, ok := liveSession(c, mgr)
		if !ok {
			return
		}
		if err := s.Retake(c.Request.Context()); err != nil {
			respondSessionFault(c, s, err)
			return
		}
		c.JSON(http.StatusOK, s.State())
	})

	api.POST("/users/:id/session/mode", func(c *gin.Context) {
		s, ok := liveSession(c, mgr)
		if !ok {
			return
		}
		var req struct {
			Mode capture.Mode `json:"mode" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "mode required (camera or upload)"})
			return
		}
		if err := s.SwitchMode(req.Mode); err != nil {
			respondSessionFault(c, s, err)
			return
		}
		c.JSON(http.StatusOK, s.State())
	})

	api.POST("/users/:id/session/submit", func(c *gin.Context) {
		s, ok := liveSession(c, mgr)
		if !ok {
			return
		}
		if err := s.Submit(c.Request.Context()); err != nil {
			metrics.SubmissionsTotal.WithLabelValues(string(faults.KindOf(err))).Inc()
			respondSessionFault(c, s, err)
			return
		}
		metrics.SubmissionsTotal.WithLabelValues("ok").Inc()
		c.JSON(http.StatusOK, s.State())
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("console listening on :%s (backend %s)", cfg.HTTPPort, cfg.BackendURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}

	log.Println("console exited")
	return nil
}

// userID parses the :id path parameter, responding 400 itself on failure.
func userID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	return id, true
}

// liveSession resolves the user's enrollment session, responding 404 when
// none is open.
func liveSession(c *gin.Context, mgr *capture.Manager) (*capture.Session, bool) {
	id, ok := userID(c)
	if !ok {
		return nil, false
	}
	s, ok := mgr.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no enrollment session for this user"})
		return nil, false
	}
	return s, true
}

func queryFromRequest(c *gin.Context) upstream.EventQuery {
	q := upstream.EventQuery{
		StartDate: c.Query("start_date"),
		EndDate:   c.Query("end_date"),
		Status:    c.Query("status"),
	}
	if v := c.Query("user_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			q.UserID = id
		}
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.Limit = n
		}
	}
	return q
}

// respondFault maps a classified error to an HTTP response.
func respondFault(c *gin.Context, err error) {
	c.JSON(faultStatus(err), gin.H{
		"error": err.Error(),
		"kind":  string(faults.KindOf(err)),
	})
}

// respondSessionFault also returns the session state so UIs can render the
// phase and advisory error in one round trip.
func respondSessionFault(c *gin.Context, s *capture.Session, err error) {
	c.JSON(faultStatus(err), gin.H{
		"error":   err.Error(),
		"kind":    string(faults.KindOf(err)),
		"session": s.State(),
	})
}

func faultStatus(err error) int {
	switch faults.KindOf(err) {
	case faults.AuthExpired:
		return http.StatusUnauthorized
	case faults.IdentityNotFound:
		return http.StatusNotFound
	case faults.DeviceAccessDenied, faults.DeviceNotReady:
		return http.StatusConflict
	case faults.NetworkUnavailable, faults.ServerFault:
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}

// corsMiddleware allows the operator UI to call from another origin.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
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

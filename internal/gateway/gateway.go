package gateway

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/campusforge/enrollment-engine/internal/auth"
	"github.com/campusforge/enrollment-engine/internal/enrollment"
	"github.com/campusforge/enrollment-engine/internal/policy"
	"github.com/campusforge/enrollment-engine/pkg/circuit"
)

// Gateway is the HTTP ingress for the enrollment engine: it terminates
// bearer-token auth, rate-limits by caller, and forwards the three
// coordinator operations in-process. Unlike a fire-and-forget event
// relay, submit_enrollment and drop_enrollment return the coordinator's
// Decision synchronously - there is no 202 Accepted path here.
type Gateway struct {
	router        *gin.Engine
	coordinator   *enrollment.Coordinator
	verifier      *auth.Verifier
	breakers      *circuit.BreakerGroup
	rateLimiter   *RateLimiter
	historyWindow time.Duration

	wsMu      sync.RWMutex
	wsClients map[uuid.UUID]*WSClient
}

// WSClient is one admin connection following the live audit stream.
type WSClient struct {
	ID   uuid.UUID
	Conn *websocket.Conn
	Send chan []byte
	Done chan struct{}
}

// RateLimiter implements a sliding-window request cap per caller.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

// Config holds gateway configuration.
type Config struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RateLimitWindow time.Duration
	RateLimitMax    int

	// HistoryWindow bounds how far back listEnrollments looks for
	// non-active enrollments; zero disables the window and returns full
	// history, matching the default a caller gets from a zero-value Config
	// in tests.
	HistoryWindow time.Duration
}

// NewGateway wires a Gateway around an already-constructed coordinator.
func NewGateway(cfg Config, coordinator *enrollment.Coordinator, verifier *auth.Verifier) *Gateway {
	breakers := circuit.NewBreakerGroup(circuit.Config{
		MaxFailures: 5,
		Timeout:     30 * time.Second,
		HalfOpenMax: 3,
	})

	g := &Gateway{
		router:        gin.Default(),
		coordinator:   coordinator,
		verifier:      verifier,
		breakers:      breakers,
		wsClients:     make(map[uuid.UUID]*WSClient),
		historyWindow: cfg.HistoryWindow,
		rateLimiter: &RateLimiter{
			requests: make(map[string][]time.Time),
			limit:    cfg.RateLimitMax,
			window:   cfg.RateLimitWindow,
		},
	}

	g.setupRoutes()
	return g
}

func (g *Gateway) setupRoutes() {
	g.router.Use(g.rateLimitMiddleware())
	g.router.Use(g.tracingMiddleware())

	g.router.GET("/health", g.healthCheck)

	v1 := g.router.Group("/api/v1")
	{
		v1.POST("/submit_enrollment", g.authMiddleware(), g.submitEnrollment)
		v1.POST("/drop_enrollment", g.authMiddleware(), g.dropEnrollment)
		v1.GET("/enrollments", g.authMiddleware(), g.listEnrollments)
		v1.GET("/audit_report", g.authMiddleware(), g.adminOnly(), g.auditReport)
		v1.GET("/audit_stream", g.authMiddleware(), g.adminOnly(), g.handleAuditStream)
	}
}

// Start runs the gateway's HTTP listener; it blocks until the server
// returns (normally from a Shutdown call driven by the caller's own
// signal handling).
func (g *Gateway) Start(addr string) error {
	return g.router.Run(addr)
}

// Router exposes the underlying gin engine for http.Server-based graceful
// shutdown in cmd/enrollment-engine.
func (g *Gateway) Router() http.Handler {
	return g.router
}

// Middleware

func (g *Gateway) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		claims, err := g.verifier.VerifyToken(header)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("actor", enrollment.Actor{ID: claims.Sub, IsAdmin: claims.UserType == auth.UserTypeAdmin})
		c.Next()
	}
}

// adminOnly must run after authMiddleware; it rejects non-admin callers
// with 403 rather than letting the coordinator's own FORBIDDEN path
// handle it, since audit_report has no student_id to authorize against.
func (g *Gateway) adminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := c.MustGet("actor").(enrollment.Actor)
		if !actor.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin only"})
			return
		}
		c.Next()
	}
}

func (g *Gateway) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !g.rateLimiter.Allow(ip) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (g *Gateway) tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		c.Set("correlation_id", correlationID)
		c.Header("X-Correlation-ID", correlationID)
		c.Next()
	}
}

// Handlers

func (g *Gateway) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

type submitEnrollmentRequest struct {
	RequestID string `json:"request_id" binding:"required"`
	StudentID string `json:"student_id" binding:"required"`
	SectionID string `json:"section_id" binding:"required"`
}

func (g *Gateway) submitEnrollment(c *gin.Context) {
	var req submitEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	actor := c.MustGet("actor").(enrollment.Actor)
	log.Printf("gateway: submit_enrollment: request_id=%s student_id=%s section_id=%s", req.RequestID, req.StudentID, req.SectionID)
	var decision enrollment.Decision
	err := g.breakers.Execute(c.Request.Context(), "coordinator", func() error {
		var execErr error
		decision, execErr = g.coordinator.SubmitEnrollment(c.Request.Context(), actor, policy.Request{
			RequestID:   req.RequestID,
			StudentID:   req.StudentID,
			SectionID:   req.SectionID,
			SubmittedAt: time.Now(),
		})
		return execErr
	})
	if err != nil {
		log.Printf("gateway: submit_enrollment: request_id=%s student_id=%s section_id=%s: %v", req.RequestID, req.StudentID, req.SectionID, err)
		g.writeCoordinatorError(c, err)
		return
	}

	log.Printf("gateway: submit_enrollment: request_id=%s student_id=%s section_id=%s reason_code=%s", req.RequestID, req.StudentID, req.SectionID, decision.ReasonCode)
	writeDecision(c, decision)
}

type dropEnrollmentRequest struct {
	EnrollmentID string `json:"enrollment_id" binding:"required"`
	StudentID    string `json:"student_id" binding:"required"`
}

func (g *Gateway) dropEnrollment(c *gin.Context) {
	var req dropEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	actor := c.MustGet("actor").(enrollment.Actor)
	log.Printf("gateway: drop_enrollment: enrollment_id=%s student_id=%s", req.EnrollmentID, req.StudentID)
	var decision enrollment.Decision
	err := g.breakers.Execute(c.Request.Context(), "coordinator", func() error {
		var execErr error
		decision, execErr = g.coordinator.DropEnrollment(c.Request.Context(), actor, req.EnrollmentID, req.StudentID)
		return execErr
	})
	if err != nil {
		log.Printf("gateway: drop_enrollment: enrollment_id=%s student_id=%s: %v", req.EnrollmentID, req.StudentID, err)
		g.writeCoordinatorError(c, err)
		return
	}

	log.Printf("gateway: drop_enrollment: enrollment_id=%s student_id=%s reason_code=%s", req.EnrollmentID, req.StudentID, decision.ReasonCode)
	writeDecision(c, decision)
}

func (g *Gateway) writeCoordinatorError(c *gin.Context, err error) {
	if err == circuit.ErrCircuitOpen || err == circuit.ErrTooManyRequests {
		c.JSON(http.StatusServiceUnavailable, gin.H{"reason_code": enrollment.ReasonTransient})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "request failed"})
}

func (g *Gateway) listEnrollments(c *gin.Context) {
	studentID := c.Query("student_id")
	if studentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "student_id is required"})
		return
	}

	actor := c.MustGet("actor").(enrollment.Actor)
	if !actor.IsAdmin && actor.ID != studentID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	agg, err := g.coordinator.StudentView(c.Request.Context(), studentID)
	if err != nil {
		log.Printf("gateway: list_enrollments: student_id=%s: %v", studentID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load enrollments"})
		return
	}

	cutoff := time.Time{}
	if g.historyWindow > 0 {
		cutoff = time.Now().Add(-g.historyWindow)
	}

	enrolled := make([]enrollment.Enrollment, 0, len(agg.Enrollments))
	history := make([]enrollment.Enrollment, 0, len(agg.Enrollments))
	for _, e := range agg.Enrollments {
		if e.Status == enrollment.StatusEnrolled {
			enrolled = append(enrolled, e)
			continue
		}
		if lastActivity(e).Before(cutoff) {
			continue
		}
		history = append(history, e)
	}

	c.JSON(http.StatusOK, gin.H{"enrolled": enrolled, "history": history})
}

// lastActivity is the most recent timestamp on an enrollment record,
// used to decide whether a non-active enrollment still falls within
// history_window.
func lastActivity(e enrollment.Enrollment) time.Time {
	if e.DroppedAt.After(e.EnrolledAt) {
		return e.DroppedAt
	}
	return e.EnrolledAt
}

func (g *Gateway) auditReport(c *gin.Context) {
	studentIDs := c.QueryArray("student_id")
	sectionIDs := c.QueryArray("section_id")

	report, err := g.coordinator.AuditState(c.Request.Context(), studentIDs, sectionIDs)
	if err != nil {
		log.Printf("gateway: audit_report: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audit_state failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func writeDecision(c *gin.Context, decision enrollment.Decision) {
	switch decision.Verdict {
	case enrollment.DecisionEnrolled, enrollment.DecisionWaitlisted, enrollment.DecisionNoChange:
		c.JSON(http.StatusOK, gin.H{
			"verdict":       decisionLabel(decision.Verdict),
			"enrollment_id": decision.EnrollmentID,
			"reason_code":   decision.ReasonCode,
			"policy_trace":  decision.PolicyTrace,
		})
	default:
		status := http.StatusConflict
		if decision.ReasonCode == enrollment.ReasonTransient || decision.ReasonCode == enrollment.ReasonBusy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"reason_code": decision.ReasonCode, "policy_trace": decision.PolicyTrace})
	}
}

func decisionLabel(v enrollment.VerdictKind) string {
	switch v {
	case enrollment.DecisionEnrolled:
		return "enrolled"
	case enrollment.DecisionWaitlisted:
		return "waitlisted"
	case enrollment.DecisionNoChange:
		return "no_change"
	default:
		return "denied"
	}
}

// WebSocket audit-follow

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (g *Gateway) handleAuditStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := &WSClient{
		ID:   uuid.New(),
		Conn: conn,
		Send: make(chan []byte, 16),
		Done: make(chan struct{}),
	}

	g.wsMu.Lock()
	g.wsClients[client.ID] = client
	g.wsMu.Unlock()

	go g.wsWritePump(client)
	go g.wsReadPump(client)
}

func (g *Gateway) wsReadPump(client *WSClient) {
	defer func() {
		g.wsMu.Lock()
		delete(g.wsClients, client.ID)
		g.wsMu.Unlock()
		close(client.Done)
		client.Conn.Close()
	}()

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (g *Gateway) wsWritePump(client *WSClient) {
	for {
		select {
		case message := <-client.Send:
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-client.Done:
			return
		}
	}
}

// BroadcastAuditReport pushes a report to every connected admin; wired as
// the Reconciler's onAuditReport callback. Slow or dead clients are
// dropped rather than blocking the reconciler's sweep.
func (g *Gateway) BroadcastAuditReport(report enrollment.AuditReport) {
	body, err := marshalReport(report)
	if err != nil {
		return
	}

	g.wsMu.RLock()
	defer g.wsMu.RUnlock()
	for _, client := range g.wsClients {
		select {
		case client.Send <- body:
		default:
		}
	}
}

// Allow checks if a request is allowed under the sliding window.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	requests := rl.requests[key]
	valid := make([]time.Time, 0, len(requests))
	for _, t := range requests {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= rl.limit {
		return false
	}

	rl.requests[key] = append(valid, now)
	return true
}

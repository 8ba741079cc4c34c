package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"agentchat/artifact"
	"agentchat/awsclient"
	"agentchat/runtime"
)

// Server exposes chat turns, agent discovery and artifact downloads over HTTP.
type Server struct {
	backendMu sync.RWMutex
	backend   Backend
	connect   Connector

	runner        *runtime.Runner
	cache         *artifact.Cache
	memoryStore   *MemoryStore
	cancelManager *CancelManager
	metrics       *Metrics
	config        *Config
	logger        *logrus.Logger
}

// NewServer creates a server. backend may be nil until credentials are
// posted; connect may be nil when credentials cannot be changed at runtime.
//
// Parameters:
//   - config: server configuration (timeouts, default region and endpoint)
//   - logger: logger shared by every component
//   - backend: initial backend, or nil to wait for POST /credentials
//   - connect: builds a new backend from posted credentials
//   - metrics: Prometheus collectors; nil disables metrics
//
// Returns:
//   - *Server: a server ready for RegisterRoutes
func NewServer(config *Config, logger *logrus.Logger, backend Backend, connect Connector, metrics *Metrics) *Server {
	s := &Server{
		backend:       backend,
		connect:       connect,
		memoryStore:   NewMemoryStore(config.SessionMaxAge, config.CleanupInterval, config.Region, logger),
		cancelManager: NewCancelManager(),
		metrics:       metrics,
		config:        config,
		logger:        logger,
	}

	invoker := runtime.NewInvoker(s.agentClient, logger.WithField("component", "invoker"))
	orchestrator := runtime.NewOrchestrator(invoker, config.StreamDelay, logger.WithField("component", "stream"))

	var observer runtime.Observer
	var cacheObserver artifact.CacheObserver
	if metrics != nil {
		observer = metrics
		cacheObserver = metrics
	}
	s.runner = runtime.NewRunner(orchestrator, observer, logger.WithField("component", "runner"))
	s.cache = artifact.NewCache(s.storage, cacheObserver, logger.WithField("component", "artifacts"))

	logger.WithFields(logrus.Fields{
		"backend":    s.backendName(),
		"region":     config.Region,
		"endpointID": config.EndpointID,
	}).Info("Server initialization completed successfully")
	return s
}

// Close releases background resources.
func (s *Server) Close() {
	s.memoryStore.Close()
}

func (s *Server) currentBackend() Backend {
	s.backendMu.RLock()
	defer s.backendMu.RUnlock()
	return s.backend
}

func (s *Server) backendName() string {
	if backend := s.currentBackend(); backend != nil {
		return backend.Name()
	}
	return "none"
}

func (s *Server) agentClient(ctx context.Context, region string) (runtime.RemoteAgentClient, error) {
	backend := s.currentBackend()
	if backend == nil {
		return nil, ErrNoBackend
	}
	return backend.AgentClient(ctx, region)
}

func (s *Server) storage(ctx context.Context, region string) (artifact.ObjectGetter, error) {
	backend := s.currentBackend()
	if backend == nil {
		return nil, ErrNoBackend
	}
	return backend.Storage(ctx, region)
}

// forgetSession releases backend state kept for a session that no longer exists.
func (s *Server) forgetSession(sessionID string) {
	if f, ok := s.currentBackend().(forgetter); ok {
		f.Forget(sessionID)
	}
}

func (s *Server) requestLogger(c echo.Context, endpoint string) *logrus.Entry {
	requestID := c.Request().Header.Get(echo.HeaderXRequestID)
	if requestID == "" {
		requestID = fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return s.logger.WithFields(logrus.Fields{
		"requestId": requestID,
		"endpoint":  endpoint,
		"method":    c.Request().Method,
		"clientIP":  c.RealIP(),
	})
}

// validSessionID reports whether a client-supplied session ID can be used.
// An empty ID asks for a new session.
func validSessionID(sessionID string) bool {
	return sessionID == "" || len(sessionID) >= runtime.MinSessionIDLength
}

// prepareTurn resolves the session and target of a chat request.
func (s *Server) prepareTurn(req ChatRequest) (*ChatSession, runtime.Request) {
	session := s.memoryStore.GetOrCreateSession(req.SessionID)
	session.SelectEndpoint(req.EndpointID, req.Region)

	sessionID, endpointID, region := session.Target()
	if endpointID == "" && s.config.EndpointID != "" {
		session.SelectEndpoint(s.config.EndpointID, "")
		endpointID = s.config.EndpointID
	}
	if region == "" {
		region = s.config.Region
	}

	return session, runtime.Request{
		EndpointID: endpointID,
		SessionID:  sessionID,
		Prompt:     req.Message,
		Region:     region,
	}
}

func (s *Server) handleChat(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/chat")
	requestLogger.Info("Received chat request")

	var req ChatRequest
	if err := c.Bind(&req); err != nil || req.Message == "" {
		requestLogger.WithError(err).Error("Failed to parse request body")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if !validSessionID(req.SessionID) {
		requestLogger.WithField("sessionID", req.SessionID).Warn("Rejected short session ID")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": runtime.ErrSessionTooShort.Error()})
	}

	session, turn := s.prepareTurn(req)

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.config.RequestTimeout)
	defer cancel()

	startTime := time.Now()
	result := s.runner.Complete(ctx, turn, session)
	executionTime := time.Since(startTime)

	response := ChatResponse{
		Response:  result.Text,
		SessionID: turn.SessionID,
		Error:     result.Err != nil,
	}
	if result.Err != nil {
		requestLogger.WithError(result.Err).WithFields(logrus.Fields{
			"sessionID":     turn.SessionID,
			"executionTime": executionTime,
		}).Error("Agent execution failed")
		return c.JSON(http.StatusOK, response)
	}

	response.Segments = s.renderSegments(ctx, result.Text, turn.Region)
	requestLogger.WithFields(logrus.Fields{
		"sessionID":      turn.SessionID,
		"executionTime":  executionTime,
		"responseLength": len(result.Text),
		"segments":       len(response.Segments),
	}).Info("Agent execution completed successfully")
	return c.JSON(http.StatusOK, response)
}

func (s *Server) handleStreamChat(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/chat/stream")
	requestLogger.Info("Received streaming chat request")

	var req ChatRequest
	if err := c.Bind(&req); err != nil || req.Message == "" {
		requestLogger.WithError(err).Error("Failed to parse streaming request body")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if !validSessionID(req.SessionID) {
		requestLogger.WithField("sessionID", req.SessionID).Warn("Rejected short session ID")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": runtime.ErrSessionTooShort.Error()})
	}

	session, turn := s.prepareTurn(req)

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	s.sendStreamMessage(c, StreamMessage{Type: "session", Content: turn.SessionID})

	executionID := "exec_" + uuid.NewString()
	s.sendStreamMessage(c, StreamMessage{Type: "execution_started", Content: executionID})

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.config.RequestTimeout)
	stopped := make(chan struct{})
	var stopOnce sync.Once
	s.cancelManager.AddExecution(executionID, turn.SessionID, func() {
		stopOnce.Do(func() { close(stopped) })
		cancel()
	})
	defer func() {
		s.cancelManager.RemoveExecution(executionID)
		cancel()
	}()

	requestLogger.WithFields(logrus.Fields{
		"sessionID":   turn.SessionID,
		"executionID": executionID,
		"endpointID":  turn.EndpointID,
	}).Info("Starting streaming execution")

	startTime := time.Now()
	result := s.runner.Run(ctx, turn, session, func(chunk string) error {
		return s.sendStreamMessage(c, StreamMessage{Type: "chunk", Content: chunk})
	})
	executionTime := time.Since(startTime)

	logFields := logrus.Fields{
		"sessionID":     turn.SessionID,
		"executionID":   executionID,
		"executionTime": executionTime,
		"streamed":      result.Streamed,
		"fellBack":      result.FellBack,
	}

	if result.Err != nil {
		select {
		case <-stopped:
			requestLogger.WithFields(logFields).Info("Streaming execution stopped by user")
			s.sendStreamMessage(c, StreamMessage{Type: "stopped", Content: "Agent execution was stopped", Complete: true})
			return nil
		default:
		}
		requestLogger.WithError(result.Err).WithFields(logFields).Error("Streaming agent execution failed")
		s.sendStreamMessage(c, StreamMessage{Type: "error", Content: result.Text, Complete: true})
		return nil
	}

	if result.FellBack {
		s.sendStreamMessage(c, StreamMessage{Type: "fallback", Content: result.StreamErr.Error()})
	}

	segments := s.renderSegments(ctx, result.Text, turn.Region)
	requestLogger.WithFields(logFields).WithField("responseLength", len(result.Text)).Info("Streaming execution completed")
	s.sendStreamMessage(c, StreamMessage{
		Type:     "response",
		Content:  result.Text,
		Complete: true,
		Segments: segments,
	})
	return nil
}

// sendStreamMessage writes one server-sent event and flushes it.
func (s *Server) sendStreamMessage(c echo.Context, msg StreamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response(), "data: %s\n\n", data); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}

// renderSegments splits a reply into prose and links and resolves each link.
func (s *Server) renderSegments(ctx context.Context, text, region string) []SegmentView {
	rendered := artifact.Render(ctx, artifact.Scan(text), artifact.FetcherFor(s.cache, region))

	views := make([]SegmentView, 0, len(rendered))
	for _, r := range rendered {
		view := SegmentView{
			Type:    r.Kind.String(),
			Text:    r.Text(),
			Label:   r.Label,
			Locator: r.Locator,
		}
		if r.Downloadable() {
			view.FileName = r.Artifact.DisplayName
			view.DownloadURL = "/artifacts?" + url.Values{
				"locator": {r.Locator},
				"region":  {region},
			}.Encode()
		}
		if r.Err != nil {
			view.Error = r.Err.Error()
		}
		views = append(views, view)
	}
	return views
}

func (s *Server) handleArtifact(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/artifacts")

	locator := c.QueryParam("locator")
	region := c.QueryParam("region")
	if region == "" {
		region = s.config.Region
	}
	if _, err := artifact.ParseLocator(locator); err != nil {
		requestLogger.WithError(err).Warn("Rejected artifact locator")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	item, err := s.cache.Fetch(c.Request().Context(), locator, region)
	if err != nil {
		requestLogger.WithError(err).WithField("locator", locator).Error("Artifact download failed")
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", item.DisplayName))
	return c.Blob(http.StatusOK, echo.MIMEOctetStream, item.Data)
}

func (s *Server) handleListAgents(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/agents")

	region := c.QueryParam("region")
	if region == "" {
		region = s.config.Region
	}

	backend := s.currentBackend()
	if backend == nil {
		requestLogger.Warn("Agent listing requested without credentials")
		return c.JSON(http.StatusPreconditionFailed, map[string]string{"error": ErrNoBackend.Error()})
	}

	agents, err := backend.ListAgents(c.Request().Context(), region)
	if err != nil {
		requestLogger.WithError(err).WithField("region", region).Error("Failed to list agents")
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}

	views := make([]AgentView, 0, len(agents))
	for _, agent := range agents {
		views = append(views, AgentView{
			EndpointID: agent.EndpointID,
			Name:       agent.Name,
			Status:     agent.Status,
			Label:      agent.Label(),
		})
	}

	requestLogger.WithFields(logrus.Fields{
		"region": region,
		"agents": len(views),
	}).Info("Agents listed successfully")
	return c.JSON(http.StatusOK, map[string]interface{}{
		"region": region,
		"agents": views,
	})
}

func (s *Server) handleCredentials(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/credentials")

	var req CredentialsRequest
	if err := c.Bind(&req); err != nil {
		requestLogger.WithError(err).Error("Failed to parse credentials")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	region := req.Region
	if region == "" {
		region = s.config.Region
	}

	if s.connect == nil {
		return c.JSON(http.StatusNotImplemented, CredentialsResponse{
			Region:  region,
			Message: "credentials cannot be changed on this server",
		})
	}

	backend, account, err := s.connect(c.Request().Context(), awsclient.Credentials{
		AccessKeyID:     req.AccessKeyID,
		SecretAccessKey: req.SecretAccessKey,
		SessionToken:    req.SessionToken,
	}, region)
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, awsclient.ErrMissingCredentials) {
			status = http.StatusBadRequest
		}
		requestLogger.WithError(err).Warn("Credential validation failed")
		return c.JSON(status, CredentialsResponse{Region: region, Message: err.Error()})
	}

	s.backendMu.Lock()
	s.backend = backend
	s.backendMu.Unlock()

	requestLogger.WithFields(logrus.Fields{
		"account": account,
		"region":  region,
		"backend": backend.Name(),
	}).Info("Credentials validated and adopted")
	return c.JSON(http.StatusOK, CredentialsResponse{
		Valid:   true,
		Account: account,
		Region:  region,
		Message: "Credentials validated",
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/status")
	requestLogger.Debug("Health check requested")

	memoryStats := s.memoryStore.GetSessionStats()
	activeExecutions := s.cancelManager.GetActiveExecutions()

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":           "healthy",
		"backend":          s.backendName(),
		"region":           s.config.Region,
		"memory":           memoryStats,
		"cachedArtifacts":  s.cache.Len(),
		"activeExecutions": activeExecutions,
		"executionCount":   len(activeExecutions),
	})
}

// handleGetSession returns a session with its full history.
func (s *Server) handleGetSession(c echo.Context) error {
	sessionID := c.Param("sessionId")
	requestLogger := s.requestLogger(c, "/sessions/:sessionId").WithField("sessionID", sessionID)

	session, exists := s.memoryStore.GetSession(sessionID)
	if !exists {
		requestLogger.Warn("Session not found")
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Session not found"})
	}

	snapshot := session.Snapshot()
	requestLogger.WithField("messageCount", snapshot.MessageCount).Info("Session information retrieved")
	return c.JSON(http.StatusOK, snapshot)
}

// handleSelectEndpoint sets the agent endpoint and region of a session.
func (s *Server) handleSelectEndpoint(c echo.Context) error {
	sessionID := c.Param("sessionId")
	requestLogger := s.requestLogger(c, "/sessions/:sessionId/endpoint").WithField("sessionID", sessionID)

	var req SelectRequest
	if err := c.Bind(&req); err != nil || req.EndpointID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": runtime.ErrEmptyEndpoint.Error()})
	}

	session, exists := s.memoryStore.GetSession(sessionID)
	if !exists {
		requestLogger.Warn("Session not found for endpoint selection")
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Session not found"})
	}

	session.SelectEndpoint(req.EndpointID, req.Region)
	requestLogger.WithField("endpointID", req.EndpointID).Info("Endpoint selected")
	return c.JSON(http.StatusOK, session.Snapshot())
}

// handleClearSession starts a fresh conversation in place of the given session.
func (s *Server) handleClearSession(c echo.Context) error {
	sessionID := c.Param("sessionId")
	requestLogger := s.requestLogger(c, "/sessions/:sessionId/clear").WithField("sessionID", sessionID)

	newID, cleared, exists := s.memoryStore.ResetSession(sessionID)
	if !exists {
		requestLogger.Warn("Session not found for clearing")
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Session not found"})
	}
	s.forgetSession(sessionID)

	requestLogger.WithField("clearedMessages", cleared).Info("Session cleared successfully")
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":           "Session cleared successfully",
		"previousSessionId": sessionID,
		"sessionId":         newID,
		"clearedMessages":   cleared,
	})
}

func (s *Server) handleDeleteSession(c echo.Context) error {
	sessionID := c.Param("sessionId")
	requestLogger := s.requestLogger(c, "/sessions/:sessionId").WithField("sessionID", sessionID)

	if !s.memoryStore.DeleteSession(sessionID) {
		requestLogger.Warn("Session not found for deletion")
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Session not found"})
	}
	s.forgetSession(sessionID)

	requestLogger.Info("Session deleted successfully")
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":   "Session deleted successfully",
		"sessionId": sessionID,
	})
}

func (s *Server) handleListSessions(c echo.Context) error {
	sessions := s.memoryStore.GetAllSessions()
	s.requestLogger(c, "/sessions").WithField("sessionCount", len(sessions)).Debug("Sessions listed successfully")
	return c.JSON(http.StatusOK, map[string]interface{}{
		"sessions": sessions,
	})
}

func (s *Server) handleStopExecution(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/stop")

	var req StopRequest
	if err := c.Bind(&req); err != nil || req.ExecutionID == "" {
		requestLogger.WithError(err).Error("Failed to parse stop request")
		return c.JSON(http.StatusBadRequest, StopResponse{Message: "Invalid request"})
	}

	if !s.cancelManager.CancelExecution(req.ExecutionID) {
		requestLogger.WithField("executionID", req.ExecutionID).Warn("Execution not found or already completed")
		return c.JSON(http.StatusOK, StopResponse{
			Success: true,
			Message: "Execution not found or already completed",
		})
	}

	requestLogger.WithField("executionID", req.ExecutionID).Info("Execution stopped")
	return c.JSON(http.StatusOK, StopResponse{
		Success: true,
		Message: "Execution stopped successfully",
		Stopped: true,
	})
}

// RegisterRoutes registers all HTTP routes for the server
func (s *Server) RegisterRoutes(e *echo.Echo) {
	s.logger.Info("Registering routes")

	e.POST("/credentials", s.handleCredentials)
	e.GET("/agents", s.handleListAgents)

	e.POST("/chat", s.handleChat)
	e.POST("/chat/stream", s.handleStreamChat)
	e.GET("/artifacts", s.handleArtifact)
	e.GET("/status", s.handleStatus)

	e.GET("/sessions", s.handleListSessions)
	e.GET("/sessions/:sessionId", s.handleGetSession)
	e.POST("/sessions/:sessionId/endpoint", s.handleSelectEndpoint)
	e.POST("/sessions/:sessionId/clear", s.handleClearSession)
	e.DELETE("/sessions/:sessionId", s.handleDeleteSession)
	e.POST("/stop", s.handleStopExecution)

	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
	s.logger.Info("Routes registered successfully")
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/simonmoedinger/aitab/internal/analysis"
	"github.com/simonmoedinger/aitab/internal/session"
	"github.com/simonmoedinger/aitab/internal/store"
)

var sessionsTracer trace.Tracer = otel.Tracer("aitab/internal/server/sessions")

// SessionsHandler exposes the analysis lifecycle over HTTP: create a
// session, stream the pipeline, chat on the resulting thread, and read
// back stored results. Live conversational state lives in the session
// manager; the store keeps the durable copy.
type SessionsHandler struct {
	Store      *store.Store
	Sessions   *session.Manager
	Pipeline   *analysis.Pipeline
	Chat       *analysis.Chat
	RunTimeout time.Duration
	Logger     *log.Logger
}

func (h *SessionsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:session_id", h.get)
	g.POST("/:session_id/analysis", h.analyze)
	g.POST("/:session_id/chat", h.chat)
	g.GET("/:session_id/chat", h.chatHistory)
	g.GET("/:session_id/files", h.files)
	g.GET("/:session_id/steps", h.steps)
	g.GET("/:session_id/citations/:file_id", h.citation)
}

func (h *SessionsHandler) create(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	sess := h.Sessions.Create()
	if err := h.Store.CreateSession(c.Request().Context(), sess.ID, userID); err != nil {
		h.Sessions.Delete(sess.ID)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, IDResponse{ID: sess.ID})
}

func (h *SessionsHandler) list(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	recs, err := h.Store.ListSessions(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]SessionResponse, 0, len(recs))
	for _, rec := range recs {
		_, live := h.Sessions.Get(rec.ID)
		out = append(out, SessionResponse{
			ID:        rec.ID,
			ThreadID:  rec.ThreadID,
			CreatedAt: rec.CreatedAt,
			Live:      live,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *SessionsHandler) get(c echo.Context) error {
	rec, err := h.ownedSession(c)
	if err != nil {
		return err
	}
	_, live := h.Sessions.Get(rec.ID)
	return c.JSON(http.StatusOK, SessionResponse{
		ID:        rec.ID,
		ThreadID:  rec.ThreadID,
		CreatedAt: rec.CreatedAt,
		Live:      live,
	})
}

// analyze runs the pipeline and streams each step result as a
// Server-Sent Event the moment it is ready. Results are persisted as a
// side effect so the report survives session expiry.
func (h *SessionsHandler) analyze(c echo.Context) error {
	rec, err := h.ownedSession(c)
	if err != nil {
		return err
	}
	sess, ok := h.Sessions.Get(rec.ID)
	if !ok {
		return echo.NewHTTPError(http.StatusGone, "session expired, create a new one")
	}

	var req AnalyzeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, span := sessionsTracer.Start(c.Request().Context(), "SessionsHandler.analyze",
		trace.WithAttributes(attribute.String("session.id", sess.ID)))
	defer span.End()
	if h.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.RunTimeout)
		defer cancel()
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	emit := func(res analysis.StepResult) {
		h.persistStep(sess.ID, res)
		data, err := json.Marshal(res)
		if err != nil {
			h.Logger.Printf("marshal step %s: %v", res.Step, err)
			return
		}
		if _, err := resp.Write([]byte("event: step\ndata: " + string(data) + "\n\n")); err != nil {
			h.Logger.Printf("write step %s: %v", res.Step, err)
			return
		}
		flusher.Flush()
	}

	runErr := h.Pipeline.Run(ctx, sess, req.Patient, emit)
	if threadID := sess.ThreadID(); threadID != "" && rec.ThreadID == "" {
		if err := h.Store.SetSessionThread(context.Background(), sess.ID, threadID); err != nil {
			h.Logger.Printf("persist thread for session %s: %v", sess.ID, err)
		}
	}
	if runErr != nil {
		h.Logger.Printf("analysis for session %s: %v", sess.ID, runErr)
		_, _ = resp.Write([]byte("event: error\ndata: " + jsonError(runErr) + "\n\n"))
		flusher.Flush()
		return nil
	}
	_, _ = resp.Write([]byte("event: done\ndata: {}\n\n"))
	flusher.Flush()
	return nil
}

// persistStep stores one step result and its file delta. Storage errors
// are logged and swallowed: the stream to the user takes precedence.
func (h *SessionsHandler) persistStep(sessionID string, res analysis.StepResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Store.SaveStepResult(ctx, sessionID, res); err != nil {
		h.Logger.Printf("persist step %s for session %s: %v", res.Step, sessionID, err)
	}
	if len(res.NewFiles) > 0 {
		if err := h.Store.SaveDisplayedFiles(ctx, sessionID, res.NewFiles); err != nil {
			h.Logger.Printf("persist files for session %s: %v", sessionID, err)
		}
	}
}

func (h *SessionsHandler) chat(c echo.Context) error {
	rec, err := h.ownedSession(c)
	if err != nil {
		return err
	}
	sess, ok := h.Sessions.Get(rec.ID)
	if !ok {
		return echo.NewHTTPError(http.StatusGone, "session expired, create a new one")
	}
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message required")
	}

	ctx := c.Request().Context()
	if h.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.RunTimeout)
		defer cancel()
	}
	res, err := h.Chat.Send(ctx, sess, req.Message)
	if errors.Is(err, analysis.ErrNoThread) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := h.Store.SaveChatTurn(persistCtx, sess.ID, req.Message, res); err != nil {
		h.Logger.Printf("persist chat turn for session %s: %v", sess.ID, err)
	}
	if len(res.NewFiles) > 0 {
		if err := h.Store.SaveDisplayedFiles(persistCtx, sess.ID, res.NewFiles); err != nil {
			h.Logger.Printf("persist files for session %s: %v", sess.ID, err)
		}
	}
	return c.JSON(http.StatusOK, ChatResponse{Text: res.Text, NewFiles: res.NewFiles, Failed: res.Failed})
}

func (h *SessionsHandler) chatHistory(c echo.Context) error {
	rec, err := h.ownedSession(c)
	if err != nil {
		return err
	}
	turns, err := h.Store.ListChatTurns(c.Request().Context(), rec.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, ChatHistoryResponse{Turns: turns})
}

// files prefers the live session's list; once the session expired the
// stored copy is served instead.
func (h *SessionsHandler) files(c echo.Context) error {
	rec, err := h.ownedSession(c)
	if err != nil {
		return err
	}
	if sess, ok := h.Sessions.Get(rec.ID); ok {
		return c.JSON(http.StatusOK, FilesResponse{Files: sess.DisplayedFiles()})
	}
	files, err := h.Store.ListDisplayedFiles(c.Request().Context(), rec.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, FilesResponse{Files: files})
}

func (h *SessionsHandler) steps(c echo.Context) error {
	rec, err := h.ownedSession(c)
	if err != nil {
		return err
	}
	steps, err := h.Store.ListStepResults(c.Request().Context(), rec.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, StepsResponse{Steps: steps})
}

func (h *SessionsHandler) citation(c echo.Context) error {
	rec, err := h.ownedSession(c)
	if err != nil {
		return err
	}
	sess, ok := h.Sessions.Get(rec.ID)
	if !ok {
		return echo.NewHTTPError(http.StatusGone, "session expired")
	}
	fileID := c.Param("file_id")
	n, ok := sess.Registry().Lookup(fileID)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "file not cited in this session")
	}
	return c.JSON(http.StatusOK, CitationResponse{FileID: fileID, Citation: n})
}

// ownedSession loads the stored session record and enforces ownership.
func (h *SessionsHandler) ownedSession(c echo.Context) (store.SessionRecord, error) {
	userID, _ := c.Get("user_id").(string)
	id := c.Param("session_id")
	if strings.TrimSpace(id) == "" {
		return store.SessionRecord{}, echo.NewHTTPError(http.StatusBadRequest, "session_id required")
	}
	rec, err := h.Store.GetSession(c.Request().Context(), id, userID)
	if errors.Is(err, store.ErrNotFound) {
		return store.SessionRecord{}, echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if err != nil {
		return store.SessionRecord{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return rec, nil
}

func jsonError(err error) string {
	data, _ := json.Marshal(HTTPError{Error: err.Error()})
	return string(data)
}

package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/face-overlay/internal/auth"
	"github.com/example/face-overlay/internal/logging"
	"github.com/example/face-overlay/internal/workflow"
)

// MaxUploadSize is the largest accepted image part.
const MaxUploadSize = workflow.MaxUploadSize

// multipartOverhead leaves room for the form framing around the image part.
const multipartOverhead = 1 << 20

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, sessions *workflow.Registry, authMiddleware gin.HandlerFunc, logger *zap.Logger) {
	h := &handler{sessions: sessions, logger: logger.Named("http")}

	router.Use(h.requestLogger())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/metrics", authMiddleware, func(c *gin.Context) {
		c.JSON(http.StatusOK, sessions.Metrics())
	})

	group := router.Group("/session", authMiddleware)
	group.GET("", h.view)
	group.DELETE("", h.reset)
	group.POST("/image", h.selectImage)
	group.POST("/upload", h.upload)
	group.POST("/analyze", h.analyze)
	group.POST("/overlay", h.overlay)
	group.GET("/preview.png", h.preview)
}

type handler struct {
	sessions *workflow.Registry
	logger   *zap.Logger
}

func (h *handler) session(c *gin.Context) (*workflow.Session, bool) {
	subject, ok := auth.Subject(c.Request.Context())
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return nil, false
	}
	return h.sessions.Get(subject), true
}

func (h *handler) view(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (h *handler) reset(c *gin.Context) {
	subject, ok := auth.Subject(c.Request.Context())
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	h.sessions.Delete(subject)
	c.Status(http.StatusNoContent)
}

func (h *handler) selectImage(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+multipartOverhead)
	file, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.respondError(c, sess, http.StatusRequestEntityTooLarge, sess.RejectSelection(workflow.KindValidation, workflow.MsgTooLarge))
			return
		}
		h.respondError(c, sess, http.StatusBadRequest, sess.RejectSelection(workflow.KindValidation, workflow.MsgNoFile))
		return
	}

	if ct := file.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") && ct != "application/octet-stream" {
		h.respondError(c, sess, http.StatusUnsupportedMediaType, sess.RejectSelection(workflow.KindValidation, workflow.MsgUnsupportedType))
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return
	}

	if err := sess.SelectImage(c.Request.Context(), file.Filename, data); err != nil {
		status := statusFor(err)
		if status == http.StatusBadRequest && len(data) > MaxUploadSize {
			status = http.StatusRequestEntityTooLarge
		}
		h.respondError(c, sess, status, err)
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (h *handler) upload(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	h.respond(c, sess, sess.Upload(c.Request.Context()))
}

func (h *handler) analyze(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	h.respond(c, sess, sess.Analyze(c.Request.Context()))
}

func (h *handler) overlay(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	h.respond(c, sess, sess.ApplyOverlay())
}

func (h *handler) preview(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	if sess.Surface() == nil {
		h.respondError(c, sess, http.StatusConflict, workflow.ErrNotReady)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Header("Content-Type", "image/png")
	c.Status(http.StatusOK)
	if err := sess.PreviewPNG(c.Writer); err != nil {
		h.logger.Warn("preview encode failed", zap.Error(err))
	}
}

func (h *handler) respond(c *gin.Context, sess *workflow.Session, err error) {
	if err != nil {
		h.respondError(c, sess, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (h *handler) respondError(c *gin.Context, sess *workflow.Session, status int, err error) {
	message := err.Error()
	var werr *workflow.Error
	if errors.As(err, &werr) && werr.Message != "" {
		message = werr.Message
	}
	c.JSON(status, gin.H{
		"error":   message,
		"kind":    workflow.KindOf(err),
		"session": sess.Snapshot(),
	})
}

func statusFor(err error) int {
	switch workflow.KindOf(err) {
	case workflow.KindValidation:
		return http.StatusBadRequest
	case workflow.KindDecode:
		return http.StatusUnprocessableEntity
	case workflow.KindNotReady, workflow.KindBusy, workflow.KindStale,
		workflow.KindNoEyePair, workflow.KindAnimationActive:
		return http.StatusConflict
	case workflow.KindTransport, workflow.KindService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// requestLogger tags each request with an id and logs its outcome.
func (h *handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Request = c.Request.WithContext(logging.ContextWithRequestID(c.Request.Context(), requestID))

		start := time.Now()
		c.Next()

		logging.WithOperation(h.logger, c.FullPath(), requestID).Info("request",
			zap.String("method", c.Request.Method),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

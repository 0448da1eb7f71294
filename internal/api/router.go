package api

import (
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-session-service/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderRequestID carries the correlation id of a request.
const HeaderRequestID = "X-Request-ID"

const logFmtAccess = "%s %s %d %s request=%s"

// NewRouter registers every route on a new gin engine. metrics may be nil.
func NewRouter(handler *Handler, metrics http.Handler, log *logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(accessLog(log, "/healthz", "/metrics"))

	router.POST("/tts_simple", handler.HandleSimple)
	router.POST("/tts_skt_ax", handler.HandleSKTAX)
	router.POST("/tts/:provider", handler.HandleProvider)
	router.POST("/combine_wav", handler.HandleCombine)

	voiceGroup := router.Group("/voices/skt_ax")
	{
		voiceGroup.POST("", handler.HandleSKTVoices)
		voiceGroup.POST("/:voice/sample", handler.HandleSKTSample)
	}

	router.GET("/storage_info", handler.HandleStorageInfo)
	router.POST("/cleanup", handler.HandleCleanup)
	router.GET("/history/:session", handler.HandleHistory)
	router.GET("/healthz", handler.HandleHealth)
	router.GET("/readyz", handler.HandleReady)

	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	return router
}

// requestID propagates or assigns X-Request-ID and stores it in the request context.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}

		c.Header(HeaderRequestID, id)
		c.Request = c.Request.WithContext(service.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

func accessLog(log *logger.Logger, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, path := range skip {
		skipped[path] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		if _, ok := skipped[c.Request.URL.Path]; ok {
			return
		}

		log.Info(logFmtAccess, c.Request.Method, c.Request.URL.Path, c.Writer.Status(),
			time.Since(start).Round(time.Millisecond), service.RequestID(c.Request.Context()))
	}
}

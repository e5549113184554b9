package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/stateflow/stateflow/pkg/models"
)

func (s *Server) setupRoutes() {
	if s.cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(s.requestLogger())

	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.router.Group("/")
	api.Use(s.auth())
	{
		api.GET("/workflows", s.listWorkflows)
		api.GET("/workflows/:id", s.getWorkflow)
		api.PUT("/workflows/:id", s.putWorkflow)
		api.DELETE("/workflows/:id", s.deleteWorkflow)
		api.GET("/events/ws", s.streamEvents)
	}
}

// auth enforces bearer-token authentication when API keys are configured.
func (s *Server) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(s.apiKeys) == 0 {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		if _, valid := s.apiKeys[token]; !valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.log.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
		)
	}
}

func (s *Server) listWorkflows(c *gin.Context) {
	ids, err := s.store.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, ids)
}

func (s *Server) getWorkflow(c *gin.Context) {
	state, err := s.store.Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, models.ErrWorkflowNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) putWorkflow(c *gin.Context) {
	var state models.WorkflowState
	if err := c.ShouldBindJSON(&state); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed state: " + err.Error()})
		return
	}

	if err := s.store.Save(c.Request.Context(), c.Param("id"), &state); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}

func (s *Server) deleteWorkflow(c *gin.Context) {
	err := s.store.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, models.ErrWorkflowNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/jiangyanpeng/simple-nn/internal/backend"
	"github.com/jiangyanpeng/simple-nn/internal/logger"
)

type Server struct {
	store   *ResultStore
	service *InferenceService
	log     logger.Logger
}

func NewServer(store *ResultStore, service *InferenceService, log logger.Logger) *Server {
	if store == nil {
		store = NewResultStore()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		store:   store,
		service: service,
		log:     log,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/models", s.handleListModels)
	e.GET("/v1/model", s.handleGetModel)

	e.POST("/v1/infer", s.handleInfer)
	e.GET("/v1/infer/:id", s.handleGetResult)
	e.DELETE("/v1/infer/:id", s.handleDeleteResult)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"engines": backend.Available(),
	})
}

func (s *Server) handleListModels(c *echo.Context) error {
	var ids []string
	if s.service != nil && s.service.provider != nil {
		if provider, ok := s.service.provider.(interface {
			ListModels() ([]string, error)
		}); ok {
			discovered, err := provider.ListModels()
			if err != nil {
				return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
			}
			ids = discovered
		}
	}

	data := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		data = append(data, map[string]any{
			"id":     id,
			"object": "model",
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"object": "list",
		"data":   data,
	})
}

func (s *Server) handleGetModel(c *echo.Context) error {
	if s.service == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "inference service not configured")
	}
	resp, err := s.service.Describe(c.Request().Context(), c.QueryParam("model"))
	if err != nil {
		return s.writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleInfer(c *echo.Context) error {
	if s.service == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "inference service not configured")
	}
	req, err := decodeJSON[InferRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	resp, err := s.service.Infer(c.Request().Context(), &req)
	if err != nil {
		return s.writeServiceError(c, err)
	}
	if req.Store == nil || *req.Store {
		s.store.Put(*resp)
	}
	s.log.Debug("inference done", "id", resp.ID, "model", resp.Model, "duration_ms", resp.DurationMS)
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetResult(c *echo.Context) error {
	id := c.Param("id")
	resp, ok := s.store.Get(id)
	if !ok {
		return writeNotFound(c, "result not found")
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDeleteResult(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, "result not found")
	}
	return c.JSON(http.StatusOK, DeleteResultResp{
		ID:      id,
		Object:  "inference",
		Deleted: true,
	})
}

func (s *Server) writeServiceError(c *echo.Context, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return writeError(c, http.StatusServiceUnavailable, "cancelled", err.Error())
	}
	code, errType := httpStatus(err)
	if code >= http.StatusInternalServerError {
		s.log.Error("inference failed", "error", err)
	}
	return writeError(c, code, errType, err.Error())
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
		},
	})
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

// Shutdown releases every cached backend of a CachedBackendProvider.
func (s *Server) Shutdown(context.Context) error {
	if s.service == nil {
		return nil
	}
	if closer, ok := s.service.provider.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

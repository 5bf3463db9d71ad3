package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/njprem/ImportPipeline_BackEnd/internal/service"
	"github.com/njprem/ImportPipeline_BackEnd/internal/util"
)

// writeError maps service sentinels onto HTTP statuses.
func writeError(c echo.Context, err error) error {
	var mappingErr *service.MappingError
	switch {
	case errors.As(err, &mappingErr):
		return c.JSON(http.StatusUnprocessableEntity, util.Issues(service.ErrInvalidMapping.Error(), mappingErr.Issues))
	case errors.Is(err, service.ErrSessionNotFound):
		return c.JSON(http.StatusNotFound, util.Error(service.ErrSessionNotFound.Error()))
	case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, service.ErrNothingToReprocess):
		return c.JSON(http.StatusConflict, util.Error(err.Error()))
	case errors.Is(err, service.ErrFileTooLarge):
		return c.JSON(http.StatusRequestEntityTooLarge, util.Error(err.Error()))
	case errors.Is(err, service.ErrInvalidImportType),
		errors.Is(err, service.ErrSessionNameRequired),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrInvalidCallback),
		errors.Is(err, service.ErrEmptySource):
		return c.JSON(http.StatusBadRequest, util.Error(err.Error()))
	case errors.Is(err, service.ErrSourceUnavailable), errors.Is(err, service.ErrUnreadableSource):
		return c.JSON(http.StatusUnprocessableEntity, util.Error(err.Error()))
	case errors.Is(err, service.ErrDispatchFailed):
		return c.JSON(http.StatusBadGateway, util.Error(err.Error()))
	case errors.Is(err, service.ErrReconcileFailed):
		return c.JSON(http.StatusInternalServerError, util.Error(service.ErrReconcileFailed.Error()))
	default:
		c.Logger().Errorf("unhandled error: %v", err)
		return c.JSON(http.StatusInternalServerError, util.Error("internal error"))
	}
}

// errorHandler renders echo errors in the same envelope as handler errors.
func errorHandler(e *echo.Echo) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		var httpErr *echo.HTTPError
		if !errors.As(err, &httpErr) {
			e.DefaultHTTPErrorHandler(err, c)
			return
		}
		message, ok := httpErr.Message.(string)
		if !ok {
			message = http.StatusText(httpErr.Code)
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(httpErr.Code)
			return
		}
		_ = c.JSON(httpErr.Code, util.Error(message))
	}
}

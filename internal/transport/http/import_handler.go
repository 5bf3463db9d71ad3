package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/njprem/ImportPipeline_BackEnd/internal/domain"
	"github.com/njprem/ImportPipeline_BackEnd/internal/service"
	"github.com/njprem/ImportPipeline_BackEnd/internal/util"
)

type importSessions interface {
	Create(ctx context.Context, input service.CreateSessionInput) (*domain.ImportSession, error)
	Get(ctx context.Context, key domain.SessionKey) (*domain.ImportSession, error)
	List(ctx context.Context, filter domain.ImportSessionFilter) ([]domain.ImportSession, error)
	Cancel(ctx context.Context, key domain.SessionKey) (*domain.ImportSession, error)
}

type stagingPopulator interface {
	Populate(ctx context.Context, key domain.SessionKey, filePath string, mappings []domain.FieldMapping) (*service.PopulateResult, error)
}

type workflowDispatcher interface {
	Dispatch(ctx context.Context, key domain.SessionKey) (*service.DispatchResult, error)
	Reprocess(ctx context.Context, key domain.SessionKey) (*service.DispatchResult, error)
}

type progressReporter interface {
	Status(ctx context.Context, key domain.SessionKey) (*service.SessionProgress, error)
	Records(ctx context.Context, key domain.SessionKey, page, pageSize int, status *domain.StagingStatus) (*service.RecordsPage, error)
	ExportFailed(ctx context.Context, key domain.SessionKey, w io.Writer) (int, error)
}

// ImportServices bundles the pipeline components the import routes drive.
type ImportServices struct {
	Sessions   importSessions
	Populator  stagingPopulator
	Dispatcher workflowDispatcher
	Reporter   progressReporter
	Reconciler callbackReconciler
}

type ImportHandler struct {
	services      ImportServices
	maxUploadSize int64
}

func RegisterImports(e *echo.Echo, tokens *util.JWTManager, services ImportServices, maxUpload int64) {
	handler := &ImportHandler{services: services, maxUploadSize: maxUpload}

	group := e.Group("/api/v1/imports")
	registerCallback(group, services.Reconciler)

	operator := group.Group("", RequireAuth(tokens))
	operator.POST("", handler.create)
	operator.GET("", handler.list)
	operator.GET("/:id", handler.get)
	operator.POST("/:id/stage", handler.stage)
	operator.POST("/:id/dispatch", handler.dispatch)
	operator.GET("/:id/status", handler.status)
	operator.GET("/:id/records", handler.records)
	operator.POST("/:id/cancel", handler.cancel)
	operator.POST("/:id/reprocess", handler.reprocess)
	operator.GET("/:id/failed.csv", handler.exportFailed)
}

func (h *ImportHandler) create(c echo.Context) error {
	claims, ok := CurrentClaims(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, util.Error("authentication required"))
	}

	file, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("file is required"))
	}
	src, err := file.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("unable to read upload"))
	}
	defer src.Close()

	limit := h.maxUploadSize
	if limit <= 0 {
		limit = 20 * 1024 * 1024
	}
	data, err := io.ReadAll(io.LimitReader(src, limit+1))
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("failed reading upload"))
	}
	if int64(len(data)) > limit {
		return c.JSON(http.StatusRequestEntityTooLarge, util.Error("upload exceeds size limit"))
	}

	session, err := h.services.Sessions.Create(c.Request().Context(), service.CreateSessionInput{
		TenantID:    claims.TenantID,
		IsLive:      claims.IsLive,
		CreatedBy:   claims.UserID,
		SessionName: c.FormValue("session_name"),
		ImportType:  domain.ImportType(strings.TrimSpace(c.FormValue("import_type"))),
		FileName:    file.Filename,
		ContentType: file.Header.Get(echo.HeaderContentType),
		Contents:    data,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, util.Data("session", session))
}

func (h *ImportHandler) list(c echo.Context) error {
	claims, ok := CurrentClaims(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, util.Error("authentication required"))
	}
	filter, err := parseSessionListFilter(c, claims)
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error(err.Error()))
	}
	sessions, err := h.services.Sessions.List(c.Request().Context(), filter)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, util.Envelope{
		"sessions": sessions,
		"limit":    filter.Limit,
		"offset":   filter.Offset,
	})
}

func (h *ImportHandler) get(c echo.Context) error {
	key, err := sessionKey(c)
	if err != nil {
		return err
	}
	session, err := h.services.Sessions.Get(c.Request().Context(), key)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, util.Data("session", session))
}

type stageRequest struct {
	FilePath string                `json:"filePath"`
	Mappings []domain.FieldMapping `json:"mappings"`
}

func (h *ImportHandler) stage(c echo.Context) error {
	key, err := sessionKey(c)
	if err != nil {
		return err
	}
	var req stageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid request body"))
	}

	result, err := h.services.Populator.Populate(c.Request().Context(), key, req.FilePath, req.Mappings)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, util.Envelope{
		"session":      result.Session,
		"total_rows":   result.TotalRows,
		"flagged_rows": result.FlaggedRows,
	})
}

func (h *ImportHandler) dispatch(c echo.Context) error {
	key, err := sessionKey(c)
	if err != nil {
		return err
	}
	result, err := h.services.Dispatcher.Dispatch(c.Request().Context(), key)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, buildDispatchResponse(result))
}

func (h *ImportHandler) reprocess(c echo.Context) error {
	key, err := sessionKey(c)
	if err != nil {
		return err
	}
	result, err := h.services.Dispatcher.Reprocess(c.Request().Context(), key)
	if err != nil {
		return writeError(c, err)
	}
	resp := buildDispatchResponse(result)
	resp["reset_records"] = result.ResetRecords
	return c.JSON(http.StatusAccepted, resp)
}

func (h *ImportHandler) cancel(c echo.Context) error {
	key, err := sessionKey(c)
	if err != nil {
		return err
	}
	session, err := h.services.Sessions.Cancel(c.Request().Context(), key)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, util.Data("session", session))
}

func (h *ImportHandler) status(c echo.Context) error {
	key, err := sessionKey(c)
	if err != nil {
		return err
	}
	progress, err := h.services.Reporter.Status(c.Request().Context(), key)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, util.Data("progress", progress))
}

func (h *ImportHandler) records(c echo.Context) error {
	key, err := sessionKey(c)
	if err != nil {
		return err
	}
	page, err := parseOptionalInt(c.QueryParam("page"), "page")
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error(err.Error()))
	}
	pageSize, err := parseOptionalInt(c.QueryParam("page_size"), "page_size")
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error(err.Error()))
	}
	var status *domain.StagingStatus
	if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
		s := domain.StagingStatus(strings.ToLower(raw))
		status = &s
	}

	result, err := h.services.Reporter.Records(c.Request().Context(), key, page, pageSize, status)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *ImportHandler) exportFailed(c echo.Context) error {
	key, err := sessionKey(c)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if _, err := h.services.Reporter.ExportFailed(c.Request().Context(), key, &buf); err != nil {
		return writeError(c, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="import-%s-failed.csv"`, key.ID))
	return c.Blob(http.StatusOK, "text/csv", buf.Bytes())
}

func parseSessionListFilter(c echo.Context, claims *util.Claims) (domain.ImportSessionFilter, error) {
	filter := domain.ImportSessionFilter{TenantID: claims.TenantID, IsLive: claims.IsLive}
	for _, raw := range strings.Split(c.QueryParam("status"), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		status := domain.ImportSessionStatus(strings.ToLower(raw))
		if status != domain.ImportSessionStatusPending && len(domain.TransitionSources(status)) == 0 {
			return filter, fmt.Errorf("unknown status %q", raw)
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	limit, err := parseOptionalInt(c.QueryParam("limit"), "limit")
	if err != nil {
		return filter, err
	}
	if limit > 100 {
		limit = 100
	}
	offset, err := parseOptionalInt(c.QueryParam("offset"), "offset")
	if err != nil {
		return filter, err
	}
	filter.Limit = limit
	filter.Offset = offset
	return filter, nil
}

func parseOptionalInt(raw, name string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return v, nil
}

func buildDispatchResponse(result *service.DispatchResult) util.Envelope {
	return util.Envelope{
		"session":      result.Session,
		"execution_id": result.ExecutionID,
		"attempts":     result.Attempts,
	}
}

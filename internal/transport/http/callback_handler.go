package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/njprem/ImportPipeline_BackEnd/internal/domain"
	"github.com/njprem/ImportPipeline_BackEnd/internal/service"
	"github.com/njprem/ImportPipeline_BackEnd/internal/util"
)

const callbackBodyLimit = "10M"

type callbackReconciler interface {
	Reconcile(ctx context.Context, payload domain.CallbackPayload) (*service.ReconcileResult, error)
}

type callbackRequest struct {
	SessionID        string           `json:"sessionId" validate:"required,uuid"`
	BatchNumber      int              `json:"batchNumber" validate:"gte=0"`
	Status           string           `json:"status" validate:"required"`
	ProcessedRecords int              `json:"processedRecords" validate:"gte=0"`
	Results          []callbackResult `json:"results" validate:"required,dive"`
	Summary          map[string]any   `json:"summary"`
}

type callbackResult struct {
	StagingRecordID   string   `json:"stagingRecordId" validate:"required,uuid"`
	Status            string   `json:"status" validate:"required,oneof=success failed duplicate skipped"`
	Errors            []string `json:"errors"`
	Warnings          []string `json:"warnings"`
	CreatedRecordID   *string  `json:"createdRecordId"`
	CreatedRecordType *string  `json:"createdRecordType"`
}

type CallbackHandler struct {
	reconciler callbackReconciler
	validate   *validator.Validate
}

// registerCallback mounts the engine callback. It sits outside operator auth;
// the payload is structurally validated before anything is touched.
func registerCallback(g *echo.Group, reconciler callbackReconciler) {
	if reconciler == nil {
		return
	}
	handler := &CallbackHandler{reconciler: reconciler, validate: newValidator()}
	g.POST("/callback", handler.receive, middleware.BodyLimit(callbackBodyLimit))
}

func (h *CallbackHandler) receive(c echo.Context) error {
	var req callbackRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid callback body"))
	}
	payload, err := h.toPayload(req)
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error(err.Error()))
	}

	result, err := h.reconciler.Reconcile(c.Request().Context(), payload)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, util.Envelope{
		"session_id": result.Session.ID,
		"status":     result.Session.Status,
		"applied":    result.Applied,
		"ignored":    result.Ignored,
	})
}

func (h *CallbackHandler) toPayload(req callbackRequest) (domain.CallbackPayload, error) {
	if err := h.validate.Struct(req); err != nil {
		return domain.CallbackPayload{}, describeValidation(err)
	}
	sessionID, _ := uuid.Parse(req.SessionID)
	payload := domain.CallbackPayload{
		SessionID:        sessionID,
		BatchNumber:      req.BatchNumber,
		Status:           req.Status,
		ProcessedRecords: req.ProcessedRecords,
		Results:          make([]domain.StagingResult, 0, len(req.Results)),
		Summary:          req.Summary,
	}
	for _, res := range req.Results {
		id, _ := uuid.Parse(res.StagingRecordID)
		payload.Results = append(payload.Results, domain.StagingResult{
			StagingRecordID:   id,
			Status:            domain.StagingStatus(res.Status),
			Errors:            res.Errors,
			Warnings:          res.Warnings,
			CreatedRecordID:   res.CreatedRecordID,
			CreatedRecordType: res.CreatedRecordType,
		})
	}
	return payload, nil
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", service.ErrInvalidCallback, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "callbackRequest.")
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of %s", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", service.ErrInvalidCallback, strings.Join(msgs, "; "))
}

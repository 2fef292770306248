package cob

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"

	"github.com/ehr/cob/internal/platform/auth"
	"github.com/ehr/cob/internal/platform/fhir"
	"github.com/ehr/cob/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group, fhirGroup *echo.Group) {
	role := auth.RequireRole("admin", "billing", "physician")

	g := api.Group("", role)
	g.POST("/cob-records", h.CreateRecord)
	g.GET("/cob-records/needing-verification", h.NeedingVerification)
	g.GET("/cob-records/with-conflicts", h.WithConflicts)
	g.GET("/cob-records/:id", h.GetRecord)
	g.PUT("/cob-records/:id", h.UpdateRecord)
	g.DELETE("/cob-records/:id", h.DeleteRecord)
	g.POST("/cob-records/:id/verify", h.VerifyRecord)

	g.GET("/patients/:patientId/cob-records", h.ListByPatient)
	g.GET("/patients/:patientId/cob-records/active", h.GetActiveForPatient)

	g.POST("/cob-determinations", h.Determine)

	fhirGroup.Group("", role).GET("/Coverage", h.SearchCoverageFHIR)
}

type verifyRequest struct {
	Method string `json:"method"`
}

func (h *Handler) CreateRecord(c echo.Context) error {
	var in DeterminationInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.svc.CreateRecord(c.Request().Context(), in, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) GetRecord(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rec, err := h.svc.GetRecord(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "cob record not found")
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) UpdateRecord(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in UpdateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.svc.UpdateRecord(c.Request().Context(), id, in, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "cob record not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) DeleteRecord(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteRecord(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) VerifyRecord(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req verifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.svc.Verify(c.Request().Context(), id, req.Method, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "cob record not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ListByPatient(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patientId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetActiveForPatient(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patientId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	rec, err := h.svc.GetActiveForPatient(c.Request().Context(), patientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "no active cob record for patient")
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) NeedingVerification(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.NeedingVerification(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) WithConflicts(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.WithConflicts(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type determinationResponse struct {
	Order        []OrderEntry   `json:"order"`
	Decisions    []RuleDecision `json:"decisions"`
	PrimaryIndex int            `json:"primary_index"`
	Conflicts    []Conflict     `json:"conflicts"`
	Status       string         `json:"status"`
}

// Determine runs a determination without persisting a record. Useful for
// what-if checks before intake completes.
func (h *Handler) Determine(c echo.Context) error {
	var in DeterminationInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	result, conflicts, err := h.svc.Preview(in)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, determinationResponse{
		Order:        result.Order,
		Decisions:    result.Decisions,
		PrimaryIndex: result.PrimaryIndex,
		Conflicts:    conflicts,
		Status:       statusFor(conflicts),
	})
}

// SearchCoverageFHIR renders matching records' coverage snapshots as a FHIR
// Coverage searchset. Coverage.order carries the determined priority.
func (h *Handler) SearchCoverageFHIR(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := fhir.ExtractSearchParams(c)
	items, total, err := h.svc.Search(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
	}
	var resources []interface{}
	for _, item := range items {
		for _, res := range item.ToFHIR() {
			resources = append(resources, res)
		}
	}
	return c.JSON(http.StatusOK, fhir.NewSearchBundle(resources, total, "/fhir/Coverage"))
}

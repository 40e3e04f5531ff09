package handler

import (
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-essay-api/internal/service"
	"github.com/noah-isme/gema-essay-api/internal/utils"
)

// ReportHandler serves feedback reports and score workbooks.
type ReportHandler struct {
	service service.ReportService
	logger  zerolog.Logger
}

// NewReportHandler constructs the handler.
func NewReportHandler(service service.ReportService, logger zerolog.Logger) *ReportHandler {
	return &ReportHandler{
		service: service,
		logger:  logger.With().Str("component", "report_handler").Logger(),
	}
}

// Register wires report routes under an evaluation run group.
func (h *ReportHandler) Register(router fiber.Router) {
	router.Get("/:id/results/:resultId/report", h.essayReport)
	router.Get("/:id/reports/archive", h.archive)
	router.Post("/:id/reports/archive/publish", h.publish)
	router.Get("/:id/reports/workbook", h.workbook)
	router.Post("/:id/reports/workbook/accumulate", h.accumulate)
}

func (h *ReportHandler) essayReport(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	resultID, err := parseUintParam(c, "resultId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	doc, err := h.service.EssayReport(c.UserContext(), id, resultID)
	if err != nil {
		return sendServiceError(c, h.logger, err, "render essay report")
	}
	return sendDocument(c, doc)
}

func (h *ReportHandler) archive(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	doc, err := h.service.ReportArchive(c.UserContext(), id)
	if err != nil {
		return sendServiceError(c, h.logger, err, "build report archive")
	}
	return sendDocument(c, doc)
}

func (h *ReportHandler) publish(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	published, err := h.service.PublishArchive(c.UserContext(), id)
	if err != nil {
		return sendServiceError(c, h.logger, err, "publish report archive")
	}
	return utils.SendSuccess(c, "report archive published", published)
}

func (h *ReportHandler) workbook(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	adjustedMax, err := parseQueryFloat(c, "adjusted_max")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	doc, err := h.service.ScoreWorkbook(c.UserContext(), id, adjustedMax)
	if err != nil {
		return sendServiceError(c, h.logger, err, "build score workbook")
	}
	return sendDocument(c, doc)
}

// accumulate takes an optional "workbook" file holding earlier results.
func (h *ReportHandler) accumulate(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var existing []byte
	if file, err := c.FormFile("workbook"); err == nil {
		src, err := file.Open()
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "workbook could not be read")
		}
		defer src.Close()
		if existing, err = io.ReadAll(src); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "workbook could not be read")
		}
	}

	doc, err := h.service.AccumulateWorkbook(c.UserContext(), id, existing)
	if err != nil {
		return sendServiceError(c, h.logger, err, "build accumulated workbook")
	}
	return sendDocument(c, doc)
}

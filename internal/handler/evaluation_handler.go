package handler

import (
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-essay-api/internal/dto"
	"github.com/noah-isme/gema-essay-api/internal/service"
	"github.com/noah-isme/gema-essay-api/internal/utils"
)

var allowedEssayExtensions = map[string]struct{}{".pdf": {}, ".txt": {}}

// EvaluationHandler exposes evaluation runs and essay batches.
type EvaluationHandler struct {
	service        service.EvaluationService
	maxUploadBytes int64
	logger         zerolog.Logger
}

// NewEvaluationHandler constructs the handler. maxUploadBytes caps each essay file.
func NewEvaluationHandler(service service.EvaluationService, maxUploadBytes int, logger zerolog.Logger) *EvaluationHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 20 << 20
	}
	return &EvaluationHandler{
		service:        service,
		maxUploadBytes: int64(maxUploadBytes),
		logger:         logger.With().Str("component", "evaluation_handler").Logger(),
	}
}

// Register wires run routes. evaluateMiddleware guards the batch endpoint only.
func (h *EvaluationHandler) Register(router fiber.Router, evaluateMiddleware ...fiber.Handler) {
	router.Post("", h.createRun)
	router.Get("", h.listRuns)
	router.Get("/:id", h.getRun)
	router.Post("/:id/essays", append(evaluateMiddleware, h.evaluate)...)
	router.Get("/:id/results", h.listResults)
	router.Get("/:id/results/:resultId", h.getResult)
}

func (h *EvaluationHandler) createRun(c *fiber.Ctx) error {
	var payload dto.CreateRunRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	run, err := h.service.CreateRun(c.UserContext(), payload, userIDFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err, "create evaluation run")
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "evaluation run created", run)
}

func (h *EvaluationHandler) listRuns(c *fiber.Ctx) error {
	page, err := parseQueryInt(c, "page")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid page")
	}
	pageSize, err := parseQueryInt(c, "page_size")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid page_size")
	}
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	runs, total, err := h.service.ListRuns(c.UserContext(), dto.RunListQuery{Title: c.Query("title"), Page: page, PageSize: pageSize})
	if err != nil {
		return sendServiceError(c, h.logger, err, "list evaluation runs")
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return utils.OK(c, runs, "evaluation runs retrieved", dto.PaginationMeta{
		Page:       page,
		PageSize:   pageSize,
		TotalItems: total,
		TotalPages: totalPages,
	})
}

func (h *EvaluationHandler) getRun(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	run, err := h.service.GetRun(c.UserContext(), id)
	if err != nil {
		return sendServiceError(c, h.logger, err, "get evaluation run")
	}
	return utils.SendSuccess(c, "evaluation run retrieved", run)
}

func (h *EvaluationHandler) evaluate(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	form, err := c.MultipartForm()
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "multipart form with essay files is required")
	}
	files := form.File["files"]
	if len(files) == 0 {
		return utils.SendError(c, fiber.StatusBadRequest, service.ErrNoEssays.Error())
	}

	uploads := make([]dto.EssayUpload, 0, len(files))
	for _, file := range files {
		upload, status, err := h.readEssay(file)
		if err != nil {
			return utils.SendError(c, status, err.Error())
		}
		uploads = append(uploads, upload)
	}

	batch, err := h.service.EvaluateBatch(c.UserContext(), id, uploads)
	if err != nil {
		return sendServiceError(c, h.logger, err, "evaluate essays")
	}
	return utils.SendSuccess(c, "essays evaluated", batch)
}

func (h *EvaluationHandler) readEssay(file *multipart.FileHeader) (dto.EssayUpload, int, error) {
	name := filepath.Base(strings.TrimSpace(file.Filename))
	if _, ok := allowedEssayExtensions[strings.ToLower(filepath.Ext(name))]; !ok {
		return dto.EssayUpload{}, fiber.StatusBadRequest, fmt.Errorf("%s: only pdf and txt essays are accepted", name)
	}
	if file.Size > h.maxUploadBytes {
		return dto.EssayUpload{}, fiber.StatusRequestEntityTooLarge, fmt.Errorf("%s exceeds the upload limit", name)
	}

	src, err := file.Open()
	if err != nil {
		return dto.EssayUpload{}, fiber.StatusBadRequest, fmt.Errorf("%s could not be read", name)
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, h.maxUploadBytes+1))
	if err != nil {
		return dto.EssayUpload{}, fiber.StatusBadRequest, fmt.Errorf("%s could not be read", name)
	}
	if int64(len(data)) > h.maxUploadBytes {
		return dto.EssayUpload{}, fiber.StatusRequestEntityTooLarge, fmt.Errorf("%s exceeds the upload limit", name)
	}
	return dto.EssayUpload{Filename: name, Data: data}, 0, nil
}

func (h *EvaluationHandler) listResults(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	results, err := h.service.ListResults(c.UserContext(), id)
	if err != nil {
		return sendServiceError(c, h.logger, err, "list essay results")
	}
	return utils.SendSuccess(c, "essay results retrieved", results)
}

func (h *EvaluationHandler) getResult(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	resultID, err := parseUintParam(c, "resultId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.service.GetResult(c.UserContext(), id, resultID)
	if err != nil {
		return sendServiceError(c, h.logger, err, "get essay result")
	}
	return utils.SendSuccess(c, "essay result retrieved", result)
}

package handler

import (
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-essay-api/internal/dto"
	"github.com/noah-isme/gema-essay-api/internal/service"
	"github.com/noah-isme/gema-essay-api/internal/utils"
)

const contentTypeYAML = "application/yaml; charset=utf-8"

// TemplateHandler manages criteria templates.
type TemplateHandler struct {
	service service.TemplateService
	logger  zerolog.Logger
}

// NewTemplateHandler constructs the handler.
func NewTemplateHandler(service service.TemplateService, logger zerolog.Logger) *TemplateHandler {
	return &TemplateHandler{
		service: service,
		logger:  logger.With().Str("component", "template_handler").Logger(),
	}
}

// Register wires template routes.
func (h *TemplateHandler) Register(router fiber.Router) {
	router.Get("", h.list)
	router.Post("", h.save)
	router.Get("/default", h.defaults)
	router.Post("/import", h.importYAML)
	router.Get("/:title", h.get)
	router.Get("/:title/export", h.exportYAML)
	router.Delete("/:title", h.delete)
}

func (h *TemplateHandler) list(c *fiber.Ctx) error {
	templates, err := h.service.List(c.UserContext())
	if err != nil {
		return sendServiceError(c, h.logger, err, "list templates")
	}
	return utils.SendSuccess(c, "templates retrieved", templates)
}

func (h *TemplateHandler) save(c *fiber.Ctx) error {
	var payload dto.TemplateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	template, err := h.service.Save(c.UserContext(), payload)
	if err != nil {
		return sendServiceError(c, h.logger, err, "save template")
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "template saved", template)
}

func (h *TemplateHandler) defaults(c *fiber.Ctx) error {
	return utils.SendSuccess(c, "default criteria", h.service.Default())
}

// importYAML accepts the document as a "file" form field or as the raw body.
func (h *TemplateHandler) importYAML(c *fiber.Ctx) error {
	data := c.Body()
	if file, err := c.FormFile("file"); err == nil {
		src, err := file.Open()
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "template file could not be read")
		}
		defer src.Close()
		if data, err = io.ReadAll(src); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "template file could not be read")
		}
	}
	if len(data) == 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "template document is required")
	}

	template, err := h.service.ImportYAML(c.UserContext(), data)
	if err != nil {
		return sendServiceError(c, h.logger, err, "import template")
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "template imported", template)
}

func (h *TemplateHandler) get(c *fiber.Ctx) error {
	title, err := parseTextParam(c, "title")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid title")
	}

	template, err := h.service.Get(c.UserContext(), title)
	if err != nil {
		return sendServiceError(c, h.logger, err, "get template")
	}
	return utils.SendSuccess(c, "template retrieved", template)
}

func (h *TemplateHandler) exportYAML(c *fiber.Ctx) error {
	title, err := parseTextParam(c, "title")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid title")
	}

	data, err := h.service.ExportYAML(c.UserContext(), title)
	if err != nil {
		return sendServiceError(c, h.logger, err, "export template")
	}
	return sendDocument(c, service.Document{Filename: title + ".yaml", ContentType: contentTypeYAML, Data: data})
}

func (h *TemplateHandler) delete(c *fiber.Ctx) error {
	title, err := parseTextParam(c, "title")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid title")
	}

	if err := h.service.Delete(c.UserContext(), title); err != nil {
		return sendServiceError(c, h.logger, err, "delete template")
	}
	return utils.SendSuccess(c, "template deleted", nil)
}

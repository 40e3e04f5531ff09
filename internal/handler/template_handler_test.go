package handler_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-essay-api/internal/dto"
	"github.com/noah-isme/gema-essay-api/internal/handler"
	"github.com/noah-isme/gema-essay-api/internal/service"
)

type mockTemplateService struct {
	saved    dto.TemplateRequest
	imported []byte
	lastName string
	err      error
}

func (m *mockTemplateService) Save(_ context.Context, req dto.TemplateRequest) (dto.TemplateResponse, error) {
	m.saved = req
	if m.err != nil {
		return dto.TemplateResponse{}, m.err
	}
	return dto.TemplateResponse{ID: 1, Title: req.Title}, nil
}

func (m *mockTemplateService) List(context.Context) ([]dto.TemplateResponse, error) {
	return []dto.TemplateResponse{{ID: 1, Title: "기본"}}, m.err
}

func (m *mockTemplateService) Get(_ context.Context, title string) (dto.TemplateResponse, error) {
	m.lastName = title
	if m.err != nil {
		return dto.TemplateResponse{}, m.err
	}
	return dto.TemplateResponse{Title: title}, nil
}

func (m *mockTemplateService) Delete(_ context.Context, title string) error {
	m.lastName = title
	return m.err
}

func (m *mockTemplateService) ImportYAML(_ context.Context, data []byte) (dto.TemplateResponse, error) {
	m.imported = data
	if m.err != nil {
		return dto.TemplateResponse{}, m.err
	}
	return dto.TemplateResponse{Title: "imported"}, nil
}

func (m *mockTemplateService) ExportYAML(_ context.Context, title string) ([]byte, error) {
	m.lastName = title
	if m.err != nil {
		return nil, m.err
	}
	return []byte("title: " + title + "\n"), nil
}

func (m *mockTemplateService) Default() dto.TemplateRequest {
	return dto.TemplateRequest{Title: "기본 평가 기준"}
}

func newTemplateApp(svc service.TemplateService) *fiber.App {
	app := fiber.New()
	handler.NewTemplateHandler(svc, zerolog.New(io.Discard)).Register(app.Group("/api/v2/templates"))
	return app
}

func TestTemplateHandlerSave(t *testing.T) {
	svc := &mockTemplateService{}
	app := newTemplateApp(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v2/templates", strings.NewReader(`{"title":"논술","criteria":[{"name":"논증","min_score":0,"max_score":50}]}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	require.Equal(t, "논술", svc.saved.Title)
	require.Len(t, svc.saved.Criteria, 1)
	require.Nil(t, svc.saved.Criteria[0].Weight)
}

func TestTemplateHandlerUnicodeTitleRoutes(t *testing.T) {
	svc := &mockTemplateService{}
	app := newTemplateApp(svc)

	path := "/api/v2/templates/" + url.PathEscape("독서 감상문") + "/export"
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "독서 감상문", svc.lastName)
	require.Equal(t, "application/yaml; charset=utf-8", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "title: 독서 감상문\n", string(body))
}

func TestTemplateHandlerImportRawBody(t *testing.T) {
	svc := &mockTemplateService{}
	app := newTemplateApp(svc)

	doc := "title: 기말\ncriteria:\n  - name: 내용\n    max_score: 10\n"
	req := httptest.NewRequest(http.MethodPost, "/api/v2/templates/import", strings.NewReader(doc))
	req.Header.Set("Content-Type", "application/yaml")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	require.Equal(t, doc, string(svc.imported))

	empty := httptest.NewRequest(http.MethodPost, "/api/v2/templates/import", nil)
	resp, err = app.Test(empty)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestTemplateHandlerNotFound(t *testing.T) {
	app := newTemplateApp(&mockTemplateService{err: service.ErrTemplateNotFound})

	resp, err := app.Test(httptest.NewRequest(http.MethodDelete, "/api/v2/templates/"+url.PathEscape("없음"), nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestTemplateHandlerDefault(t *testing.T) {
	app := newTemplateApp(&mockTemplateService{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v2/templates/default", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var payload struct {
		Data dto.TemplateRequest `json:"data"`
	}
	decodeResponse(t, resp, &payload)
	require.Equal(t, "기본 평가 기준", payload.Data.Title)
}

package handler_test

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-essay-api/internal/dto"
	"github.com/noah-isme/gema-essay-api/internal/handler"
	"github.com/noah-isme/gema-essay-api/internal/service"
)

type mockReportService struct {
	adjustedMax *float64
	existing    []byte
	err         error
}

func (m *mockReportService) EssayReport(_ context.Context, _, _ uint) (service.Document, error) {
	if m.err != nil {
		return service.Document{}, m.err
	}
	return service.Document{Filename: "김민수_피드백보고서.html", ContentType: "text/html; charset=utf-8", Data: []byte("<html></html>")}, nil
}

func (m *mockReportService) ReportArchive(_ context.Context, _ uint) (service.Document, error) {
	return service.Document{Filename: "전체_피드백보고서_2024_1.zip", ContentType: "application/zip", Data: []byte("PK")}, m.err
}

func (m *mockReportService) ScoreWorkbook(_ context.Context, _ uint, adjustedMax *float64) (service.Document, error) {
	m.adjustedMax = adjustedMax
	return service.Document{Filename: "평가결과.xlsx", ContentType: "application/octet-stream", Data: []byte("xlsx")}, m.err
}

func (m *mockReportService) AccumulateWorkbook(_ context.Context, _ uint, existing []byte) (service.Document, error) {
	m.existing = existing
	return service.Document{Filename: "누적.xlsx", ContentType: "application/octet-stream", Data: []byte("xlsx")}, m.err
}

func (m *mockReportService) PublishArchive(_ context.Context, _ uint) (dto.PublishResponse, error) {
	if m.err != nil {
		return dto.PublishResponse{}, m.err
	}
	return dto.PublishResponse{URL: "https://cdn.example.com/a.zip", Filename: "a.zip"}, nil
}

func newReportApp(svc service.ReportService) *fiber.App {
	app := fiber.New()
	handler.NewReportHandler(svc, zerolog.New(io.Discard)).Register(app.Group("/api/v2/evaluations"))
	return app
}

func TestReportHandlerEssayReportIsAttachment(t *testing.T) {
	app := newReportApp(&mockReportService{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v2/evaluations/1/results/2/report", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	disposition := resp.Header.Get("Content-Disposition")
	require.Contains(t, disposition, "attachment;")
	require.Contains(t, disposition, "filename*=UTF-8''%EA%B9%80")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "<html></html>", string(body))
}

func TestReportHandlerWorkbookAdjustedMax(t *testing.T) {
	svc := &mockReportService{}
	app := newReportApp(svc)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v2/evaluations/1/reports/workbook?adjusted_max=50", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.NotNil(t, svc.adjustedMax)
	require.Equal(t, 50.0, *svc.adjustedMax)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v2/evaluations/1/reports/workbook?adjusted_max=-3", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestReportHandlerAccumulateReadsExistingWorkbook(t *testing.T) {
	svc := &mockReportService{}
	app := newReportApp(svc)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("workbook", "old.xlsx")
	require.NoError(t, err)
	_, err = part.Write([]byte("previous"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v2/evaluations/1/reports/workbook/accumulate", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, []byte("previous"), svc.existing)
}

func TestReportHandlerPublishWithoutPublisher(t *testing.T) {
	app := newReportApp(&mockReportService{err: service.ErrPublisherUnavailable})

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/v2/evaluations/1/reports/archive/publish", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestReportHandlerArchiveNotFound(t *testing.T) {
	app := newReportApp(&mockReportService{err: service.ErrRunNotFound})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v2/evaluations/9/reports/archive", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

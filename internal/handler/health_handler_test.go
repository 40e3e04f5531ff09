package handler_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-essay-api/internal/config"
	"github.com/noah-isme/gema-essay-api/internal/handler"
)

func TestHealthCheckReportsDependencies(t *testing.T) {
	cfg := config.Config{AppName: "GEMA Essay API", AppEnv: "test"}
	ok := handler.Probe{Name: "database", Check: func(context.Context) error { return nil }}
	down := handler.Probe{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }}

	app := fiber.New()
	app.Get("/healthy", handler.HealthCheck(cfg, ok))
	app.Get("/degraded", handler.HealthCheck(cfg, ok, down))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/healthy", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/degraded", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	var payload struct {
		Success bool                   `json:"success"`
		Data    handler.HealthResponse `json:"data"`
	}
	decodeResponse(t, resp, &payload)
	require.False(t, payload.Success)
	require.Equal(t, "degraded", payload.Data.Status)
	require.Equal(t, "connection refused", payload.Data.Dependencies["redis"])
	require.Equal(t, "ok", payload.Data.Dependencies["database"])
}

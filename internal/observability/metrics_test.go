package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandlerExposesPipelineCounters(t *testing.T) {
	EssaysEvaluated().WithLabelValues("evaluated").Inc()
	PlagiarismOverrides().WithLabelValues("high").Inc()

	app := fiber.New()
	app.Get("/metrics", MetricsHandler())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `essays_evaluated_total{status="evaluated"}`)
	require.Contains(t, string(body), `plagiarism_overrides_total{level="high"}`)
}

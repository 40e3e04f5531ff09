package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-essay-api/internal/dto"
	"github.com/noah-isme/gema-essay-api/internal/feedback"
	"github.com/noah-isme/gema-essay-api/internal/models"
	"github.com/noah-isme/gema-essay-api/internal/observability"
	"github.com/noah-isme/gema-essay-api/internal/report"
	"github.com/noah-isme/gema-essay-api/internal/repository"
)

// ErrPublisherUnavailable is returned when archive publishing is not configured.
var ErrPublisherUnavailable = errors.New("archive publisher is not configured")

// ArchivePublisher uploads a file and returns a public URL.
type ArchivePublisher interface {
	Publish(ctx context.Context, name string, data []byte) (string, error)
}

// Document is a rendered report ready for download.
type Document struct {
	Filename    string
	ContentType string
	Data        []byte
}

const (
	contentTypeHTML = "text/html; charset=utf-8"
	contentTypeZip  = "application/zip"
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ReportService renders stored results as feedback reports and workbooks.
type ReportService interface {
	EssayReport(ctx context.Context, runID, resultID uint) (Document, error)
	ReportArchive(ctx context.Context, runID uint) (Document, error)
	ScoreWorkbook(ctx context.Context, runID uint, adjustedMax *float64) (Document, error)
	AccumulateWorkbook(ctx context.Context, runID uint, existing []byte) (Document, error)
	PublishArchive(ctx context.Context, runID uint) (dto.PublishResponse, error)
}

type reportService struct {
	runs      repository.RunRepository
	results   repository.EssayResultRepository
	renderer  *report.Renderer
	publisher ArchivePublisher
	logger    zerolog.Logger
	now       func() time.Time
}

// NewReportService constructs the report service. publisher may be nil.
func NewReportService(runs repository.RunRepository, results repository.EssayResultRepository, publisher ArchivePublisher, logger zerolog.Logger) ReportService {
	return &reportService{
		runs:      runs,
		results:   results,
		renderer:  report.NewRenderer(),
		publisher: publisher,
		logger:    logger.With().Str("component", "report_service").Logger(),
		now:       time.Now,
	}
}

func (s *reportService) EssayReport(ctx context.Context, runID, resultID uint) (Document, error) {
	run, err := s.run(ctx, runID)
	if err != nil {
		return Document{}, err
	}
	result, err := s.results.GetByID(ctx, runID, resultID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Document{}, ErrResultNotFound
		}
		return Document{}, err
	}

	data, err := s.renderEssay(run, result)
	if err != nil {
		return Document{}, err
	}
	observability.ReportsGenerated().WithLabelValues("html").Inc()
	return Document{
		Filename:    report.ReportFilename(result.Filename),
		ContentType: contentTypeHTML,
		Data:        data,
	}, nil
}

func (s *reportService) renderEssay(run models.EvaluationRun, result models.EssayResult) ([]byte, error) {
	set := run.CriteriaSet()
	return s.renderer.EssayHTML(report.EssayReport{
		Info:     dto.RunInfo(run),
		Essay:    dto.EssayRow(result),
		Set:      set,
		Feedback: feedback.Parse(result.Feedback, set),
	})
}

// ReportArchive zips one HTML report per stored essay.
func (s *reportService) ReportArchive(ctx context.Context, runID uint) (Document, error) {
	run, results, err := s.runWithResults(ctx, runID)
	if err != nil {
		return Document{}, err
	}

	entries := make([]report.ArchiveEntry, 0, len(results))
	for _, result := range results {
		data, err := s.renderEssay(run, result)
		if err != nil {
			s.logger.Warn().Err(err).Uint("run_id", runID).Str("file", result.Filename).Msg("skipping report in archive")
			continue
		}
		entries = append(entries, report.ArchiveEntry{Name: report.ReportFilename(result.Filename), Data: data})
	}

	archive, err := report.Archive(entries)
	if err != nil {
		return Document{}, err
	}
	observability.ReportsGenerated().WithLabelValues("archive").Inc()
	return Document{
		Filename:    report.ArchiveFilename(dto.RunInfo(run)),
		ContentType: contentTypeZip,
		Data:        archive,
	}, nil
}

func (s *reportService) ScoreWorkbook(ctx context.Context, runID uint, adjustedMax *float64) (Document, error) {
	run, results, err := s.runWithResults(ctx, runID)
	if err != nil {
		return Document{}, err
	}

	data, err := report.ScoreWorkbook(workbookInput(run, results, adjustedMax))
	if err != nil {
		return Document{}, err
	}
	observability.ReportsGenerated().WithLabelValues("workbook").Inc()
	return Document{
		Filename:    report.WorkbookFilename(dto.RunInfo(run), "평가결과"),
		ContentType: contentTypeXLSX,
		Data:        data,
	}, nil
}

// AccumulateWorkbook merges the run into a previously exported workbook. An
// unreadable workbook is replaced by a fresh one.
func (s *reportService) AccumulateWorkbook(ctx context.Context, runID uint, existing []byte) (Document, error) {
	run, results, err := s.runWithResults(ctx, runID)
	if err != nil {
		return Document{}, err
	}

	in := workbookInput(run, results, nil)
	data, err := report.AccumulateWorkbook(existing, in, s.now())
	if err != nil {
		s.logger.Warn().Err(err).Uint("run_id", runID).Msg("existing workbook unreadable; starting a new one")
		data, err = report.AccumulateWorkbook(nil, in, s.now())
		if err != nil {
			return Document{}, err
		}
	}
	observability.ReportsGenerated().WithLabelValues("accumulated").Inc()
	return Document{
		Filename:    report.WorkbookFilename(dto.RunInfo(run), "누적평가결과"),
		ContentType: contentTypeXLSX,
		Data:        data,
	}, nil
}

func (s *reportService) PublishArchive(ctx context.Context, runID uint) (dto.PublishResponse, error) {
	if s.publisher == nil {
		return dto.PublishResponse{}, ErrPublisherUnavailable
	}
	doc, err := s.ReportArchive(ctx, runID)
	if err != nil {
		return dto.PublishResponse{}, err
	}

	url, err := s.publisher.Publish(ctx, doc.Filename, doc.Data)
	if err != nil {
		return dto.PublishResponse{}, err
	}
	s.logger.Info().Uint("run_id", runID).Str("url", url).Msg("report archive published")
	return dto.PublishResponse{URL: url, Filename: doc.Filename}, nil
}

func (s *reportService) run(ctx context.Context, runID uint) (models.EvaluationRun, error) {
	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.EvaluationRun{}, ErrRunNotFound
		}
		return models.EvaluationRun{}, err
	}
	return run, nil
}

func (s *reportService) runWithResults(ctx context.Context, runID uint) (models.EvaluationRun, []models.EssayResult, error) {
	run, err := s.run(ctx, runID)
	if err != nil {
		return models.EvaluationRun{}, nil, err
	}
	results, err := s.results.ListByRun(ctx, runID)
	if err != nil {
		return models.EvaluationRun{}, nil, err
	}
	return run, results, nil
}

func workbookInput(run models.EvaluationRun, results []models.EssayResult, adjustedMax *float64) report.WorkbookInput {
	rows := make([]report.EssayRow, 0, len(results))
	for _, result := range results {
		rows = append(rows, dto.EssayRow(result))
	}
	return report.WorkbookInput{
		Info:        dto.RunInfo(run),
		Set:         run.CriteriaSet(),
		Rows:        rows,
		AdjustedMax: adjustedMax,
	}
}

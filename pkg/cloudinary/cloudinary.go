// Package cloudinary publishes generated report archives to Cloudinary.
package cloudinary

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/rs/zerolog"
)

// Config contains credentials required to talk to Cloudinary.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// Publisher uploads report archives as raw assets.
type Publisher struct {
	client *cloudinary.Cloudinary
	folder string
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Publisher.
func New(cfg Config, logger zerolog.Logger) (*Publisher, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("cloudinary credentials must be provided")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}

	return &Publisher{
		client: cld,
		folder: strings.Trim(cfg.Folder, "/"),
		logger: logger.With().Str("component", "cloudinary").Logger(),
		now:    time.Now,
	}, nil
}

// Publish uploads data under name and returns its secure URL.
func (p *Publisher) Publish(ctx context.Context, name string, data []byte) (string, error) {
	publicID := PublicID(name, p.now())
	result, err := p.client.Upload.Upload(ctx, bytes.NewReader(data), uploader.UploadParams{
		Folder:       p.folder,
		PublicID:     publicID,
		ResourceType: "raw",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload archive: %w", err)
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("cloudinary rejected archive: %s", result.Error.Message)
	}

	p.logger.Info().Str("public_id", result.PublicID).Int("bytes", len(data)).Msg("archive published")
	return result.SecureURL, nil
}

// PublicID derives a unique asset id from a file name. Letters of any script
// and digits are kept; the extension stays so raw downloads keep their type.
func PublicID(name string, at time.Time) string {
	ext := filepath.Ext(name)
	base := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return '-'
	}, strings.TrimSuffix(name, ext))

	base = strings.Trim(base, "-")
	if base == "" {
		base = "archive"
	}
	return fmt.Sprintf("%s-%d%s", base, at.Unix(), ext)
}

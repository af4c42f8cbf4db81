// Package media stores company logos on Cloudinary.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/buscai/backend/internal/config"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	cldconfig "github.com/cloudinary/cloudinary-go/v2/config"
	log "github.com/sirupsen/logrus"
)

const logoTransformation = "c_fill,w_400,h_400,q_auto,f_auto"

var ErrNotConfigured = errors.New("cloudinary is not configured")

// LogoUploader uploads one logo per company, replacing the previous one.
type LogoUploader struct {
	cloudName string
	folder    string
	uploader  *uploader.API
}

// NewLogoUploader returns an uploader, or nil with ErrNotConfigured when the
// credentials are missing.
func NewLogoUploader(cfg config.CloudinaryConfig) (*LogoUploader, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, ErrNotConfigured
	}

	cld, err := cldconfig.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, err
	}
	up, err := uploader.NewWithConfiguration(cld)
	if err != nil {
		return nil, err
	}

	folder := cfg.Folder
	if folder == "" {
		folder = "buscai/logos"
	}
	return &LogoUploader{cloudName: cfg.CloudName, folder: folder, uploader: up}, nil
}

// UploadLogo stores the image under a stable public id for the company and
// returns its HTTPS URL.
func (u *LogoUploader) UploadLogo(ctx context.Context, file io.Reader, companyID int) (string, error) {
	overwrite := true
	result, err := u.uploader.Upload(ctx, file, uploader.UploadParams{
		Folder:         u.folder,
		PublicID:       LogoPublicID(companyID),
		Overwrite:      &overwrite,
		Transformation: logoTransformation,
	})
	if err != nil {
		return "", err
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("cloudinary: %s", result.Error.Message)
	}

	log.Printf("[MEDIA] Logo of company %d uploaded to %s", companyID, result.PublicID)
	if result.SecureURL == "" {
		return LogoURL(u.cloudName, u.folder, companyID), nil
	}
	return result.SecureURL, nil
}

func LogoPublicID(companyID int) string {
	return fmt.Sprintf("company_%d", companyID)
}

// LogoURL builds the delivery URL of a company logo.
func LogoURL(cloudName, folder string, companyID int) string {
	return fmt.Sprintf("https://res.cloudinary.com/%s/image/upload/%s/%s/%s",
		cloudName, logoTransformation, folder, LogoPublicID(companyID))
}

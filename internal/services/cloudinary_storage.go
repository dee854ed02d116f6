package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// CloudinaryStorageService keeps attachments as raw Cloudinary resources.
type CloudinaryStorageService struct {
	cld        *cloudinary.Cloudinary
	httpClient *http.Client
}

func NewCloudinaryStorageService(cloudinaryURL string) (*CloudinaryStorageService, error) {
	cld, err := cloudinary.NewFromURL(cloudinaryURL)
	if err != nil {
		return nil, fmt.Errorf("init cloudinary: %w", err)
	}
	return &CloudinaryStorageService{cld: cld, httpClient: http.DefaultClient}, nil
}

func (s *CloudinaryStorageService) UploadFile(ctx context.Context, file io.Reader, objectPath string, _ string) (string, error) {
	objectPath = strings.Trim(path.Clean("/"+objectPath), "/")
	overwrite := false

	result, err := s.cld.Upload.Upload(ctx, file, uploader.UploadParams{
		PublicID:     objectPath,
		ResourceType: "raw",
		Overwrite:    &overwrite,
	})
	if err != nil {
		return "", fmt.Errorf("upload file: %w", err)
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("upload file: %s", result.Error.Message)
	}

	return result.SecureURL, nil
}

func (s *CloudinaryStorageService) DeleteFile(ctx context.Context, fileURL string) error {
	publicID, err := publicIDFromURL(fileURL)
	if err != nil {
		return err
	}

	result, err := s.cld.Upload.Destroy(ctx, uploader.DestroyParams{
		PublicID:     publicID,
		ResourceType: "raw",
	})
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if result.Result != "ok" && result.Result != "not found" {
		return fmt.Errorf("delete file: %s", result.Result)
	}

	return nil
}

func (s *CloudinaryStorageService) OpenFile(ctx context.Context, fileURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		return nil, statusError("download file", resp)
	}

	return resp.Body, nil
}

var versionSegment = regexp.MustCompile(`^v\d+/`)

// publicIDFromURL turns .../raw/upload/v123/attachments/5/x.pdf into attachments/5/x.pdf.
func publicIDFromURL(fileURL string) (string, error) {
	parsed, err := url.Parse(fileURL)
	if err != nil {
		return "", fmt.Errorf("parse file url: %w", err)
	}

	_, rest, found := strings.Cut(parsed.Path, "/upload/")
	if !found || rest == "" {
		return "", fmt.Errorf("file url is not a cloudinary upload url")
	}

	return versionSegment.ReplaceAllString(rest, ""), nil
}

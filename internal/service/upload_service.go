package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/canvas-sync/pkg/errorutil"
)

// ObjectPutter stores an object and returns its public URL.
type ObjectPutter interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
}

var imageExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// UploadService stores images referenced by canvas nodes.
type UploadService struct {
	store    ObjectPutter
	maxBytes int64
	logger   *zap.Logger
}

// NewUploadService builds the service. A nil store disables uploads.
func NewUploadService(store ObjectPutter, maxBytes int64, logger *zap.Logger) *UploadService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UploadService{store: store, maxBytes: maxBytes, logger: logger}
}

// Enabled reports whether an object store is configured.
func (s *UploadService) Enabled() bool {
	return s.store != nil
}

// StoredImage names an uploaded image.
type StoredImage struct {
	Key string
	URL string
}

// sniffLen is how much of the body content detection looks at.
const sniffLen = 512

// UploadImage validates and stores an image under the owner's prefix. The
// stored type is detected from the leading bytes; a declared type, when it
// names a specific type, must agree with what was detected.
func (s *UploadService) UploadImage(ctx context.Context, ownerID string, body io.Reader, size int64, declaredType string) (*StoredImage, error) {
	if s.store == nil {
		return nil, errorutil.NewUnavailable("image uploads are not configured")
	}
	if size <= 0 {
		return nil, errorutil.NewValidationError("file", "file is empty")
	}
	if s.maxBytes > 0 && size > s.maxBytes {
		return nil, errorutil.NewValidationError("file", fmt.Sprintf("file exceeds %d bytes", s.maxBytes))
	}

	head := make([]byte, min(size, sniffLen))
	n, err := io.ReadFull(body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]

	contentType := mediaType(http.DetectContentType(head))
	ext, ok := imageExtensions[contentType]
	if !ok {
		return nil, errorutil.NewValidationError("file", "unsupported image type")
	}
	if declared := mediaType(declaredType); declared != "" && declared != "application/octet-stream" && declared != contentType {
		return nil, errorutil.NewValidationError("file", fmt.Sprintf("content is %s, not %s", contentType, declared))
	}

	key := ownerID + "/" + uuid.NewString() + ext
	url, err := s.store.Put(ctx, key, io.MultiReader(bytes.NewReader(head), body), size, contentType)
	if err != nil {
		s.logger.Error("image upload failed", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, errorutil.NewUnavailable("image storage unavailable")
	}
	return &StoredImage{Key: key, URL: url}, nil
}

func mediaType(v string) string {
	return strings.ToLower(strings.TrimSpace(strings.SplitN(v, ";", 2)[0]))
}

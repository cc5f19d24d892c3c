package service

import (
	"context"
	"fmt"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"warungpos/backend/internal/codec"
	"warungpos/backend/internal/domain"
	"warungpos/backend/internal/schema"
	"warungpos/backend/internal/store"
)

var fileKinds = map[domain.FileKind]bool{
	domain.FileAvatar:  true,
	domain.FileProduct: true,
	domain.FileLogo:    true,
}

// imageTypes are the only payloads accepted and served inline. SVG is left
// out because it can carry script.
var imageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// IsImageType reports whether mimeType is one of the accepted image types.
func IsImageType(mimeType string) bool {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return false
	}
	return imageTypes[strings.ToLower(mediaType)]
}

// sniffImage returns the detected type of data. A declared type, when given,
// must agree with the content.
func sniffImage(data []byte, declared string) (string, error) {
	detected := mimetype.Detect(data).String()
	if !IsImageType(detected) {
		return "", fmt.Errorf("%w: unsupported file content %s", store.ErrInvalidTransaction, detected)
	}
	if strings.TrimSpace(declared) == "" {
		return detected, nil
	}
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil || !strings.EqualFold(mediaType, detected) {
		return "", fmt.Errorf("%w: declared type %q does not match content %s", store.ErrInvalidTransaction, declared, detected)
	}
	return detected, nil
}

// PutFile stores an image payload and returns its generated id. The stored
// MIME type is the detected one. Files are immutable once written.
func (s *Service) PutFile(ctx context.Context, data []byte, mimeType string, kind domain.FileKind) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty file", store.ErrInvalidTransaction)
	}
	if !fileKinds[kind] {
		return "", fmt.Errorf("%w: unknown file kind %q", store.ErrInvalidTransaction, kind)
	}
	mimeType, err := sniffImage(data, mimeType)
	if err != nil {
		return "", err
	}
	file := domain.FileRecord{
		ID:        uuid.NewString(),
		Data:      append([]byte(nil), data...),
		MimeType:  mimeType,
		Kind:      kind,
		CreatedAt: s.now().UTC(),
	}
	if _, err := s.store.Insert(ctx, schema.Files, codec.FileToRecord(file)); err != nil {
		return "", fmt.Errorf("put file: %w", err)
	}
	s.files.Add(file.ID, file)
	return file.ID, nil
}

// GetFile returns the file with id, or nil when it does not exist. Callers
// must not modify the returned payload.
func (s *Service) GetFile(ctx context.Context, id string) (*domain.FileRecord, error) {
	if cached, ok := s.files.Get(id); ok {
		s.metrics.FileCacheHits.Inc()
		file := cached.(domain.FileRecord)
		return &file, nil
	}
	s.metrics.FileCacheMisses.Inc()

	rec, err := s.store.Get(ctx, schema.Files, id)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	file, err := codec.FileFromRecord(rec)
	if err != nil {
		return nil, err
	}
	s.files.Add(id, file)
	return &file, nil
}

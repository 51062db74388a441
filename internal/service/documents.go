package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/AviOnlineSec/cra/internal/authz"
	"github.com/AviOnlineSec/cra/internal/model"
	"github.com/AviOnlineSec/cra/internal/storage"
	"github.com/AviOnlineSec/cra/pkg/logger"
	"github.com/AviOnlineSec/cra/prometheus"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DocumentService manages KYC files attached to clients
type DocumentService struct {
	db       *gorm.DB
	store    storage.Store
	maxBytes int64
	now      func() time.Time
}

// NewDocumentService creates a document service. maxBytes of zero means no limit.
func NewDocumentService(db *gorm.DB, store storage.Store, maxBytes int64) *DocumentService {
	return &DocumentService{db: db, store: store, maxBytes: maxBytes, now: time.Now}
}

// Upload is a file received from a client
type Upload struct {
	ClientID    uint
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// scopedDocuments joins documents to their client so the tenant filter applies
func scopedDocuments(db *gorm.DB, tc *authz.TenantContext) (*gorm.DB, error) {
	q := db.Model(&model.KycDocument{}).
		Joins("JOIN clients ON clients.id = kyc_documents.client_id")
	return scopedClients(q, tc)
}

// List returns the caller's documents, optionally for one client
func (s *DocumentService) List(ctx context.Context, tc *authz.TenantContext, clientID uint) ([]model.KycDocument, error) {
	q, err := scopedDocuments(s.db.WithContext(ctx), tc)
	if err != nil {
		return nil, err
	}
	if clientID != 0 {
		q = q.Where("kyc_documents.client_id = ?", clientID)
	}
	var docs []model.KycDocument
	if err := q.Order("kyc_documents.upload_date DESC").Order("kyc_documents.id DESC").Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

// Get returns one document visible to the caller
func (s *DocumentService) Get(ctx context.Context, tc *authz.TenantContext, id uint) (*model.KycDocument, error) {
	q, err := scopedDocuments(s.db.WithContext(ctx), tc)
	if err != nil {
		return nil, err
	}
	var doc model.KycDocument
	err = q.Where("kyc_documents.id = ?", id).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(ErrNotFound, "document %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// sniffContentType detects the content type from the first bytes of the
// upload. The declared type, then the file extension, are used only when the
// bytes are not recognised. The returned reader yields the whole upload.
func sniffContentType(up Upload) (io.Reader, string, error) {
	head := make([]byte, 3072)
	n, err := io.ReadFull(up.Body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, "", err
	}
	head = head[:n]
	body := io.MultiReader(bytes.NewReader(head), up.Body)

	if detected := mimetype.Detect(head); !detected.Is("application/octet-stream") {
		return body, detected.String(), nil
	}
	if up.ContentType != "" && up.ContentType != "application/octet-stream" {
		return body, up.ContentType, nil
	}
	if guessed := mime.TypeByExtension(strings.ToLower(filepath.Ext(up.Filename))); guessed != "" {
		return body, guessed, nil
	}
	return body, "application/octet-stream", nil
}

// Create stores the uploaded file under the client's folder and records it
func (s *DocumentService) Create(ctx context.Context, tc *authz.TenantContext, up Upload) (*model.KycDocument, error) {
	verr := &ValidationError{}
	if up.ClientID == 0 {
		verr.Add("client", "This field is required.")
	}
	if up.Body == nil || strings.TrimSpace(up.Filename) == "" {
		verr.Add("file", "No file was submitted.")
	}
	if s.maxBytes > 0 && up.Size > s.maxBytes {
		verr.Add("file", "The file is too large.")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	client, err := (&ClientService{db: s.db}).Get(ctx, tc, up.ClientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, invalid("client", "Unknown client.")
		}
		return nil, err
	}

	body, contentType, err := sniffContentType(up)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	key := storage.DocumentKey(client.Name(), up.Filename, now)
	if err := s.store.Put(ctx, key, body, up.Size, contentType); err != nil {
		return nil, err
	}

	doc := &model.KycDocument{
		ClientID:     client.ID,
		Path:         key,
		OriginalName: storage.SanitizeFilename(up.Filename),
		ContentType:  contentType,
		Size:         up.Size,
		UploadDate:   now,
	}
	if tc != nil && tc.Principal != nil {
		uploader := tc.Principal.UserID
		doc.UploadedByID = &uploader
	}
	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		if derr := s.store.Delete(ctx, key); derr != nil {
			logger.FromStdContext(ctx).Warn("Failed to remove orphaned document", zap.String("path", key), zap.Error(derr))
		}
		return nil, err
	}

	prometheus.RecordOperation("document_upload")
	logger.FromStdContext(ctx).Info("Document uploaded",
		zap.Uint("document_id", doc.ID),
		zap.Uint("client_id", client.ID),
		zap.String("path", key),
		zap.Int64("size", up.Size))
	return doc, nil
}

// Open returns the document record and a reader over its content
func (s *DocumentService) Open(ctx context.Context, tc *authz.TenantContext, id uint) (*model.KycDocument, io.ReadCloser, error) {
	doc, err := s.Get(ctx, tc, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.store.Open(ctx, doc.Path)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, newError(ErrNotFound, "document %d has no stored file", id)
	}
	if err != nil {
		return nil, nil, err
	}
	return doc, rc, nil
}

// Delete removes the record, then the stored file
func (s *DocumentService) Delete(ctx context.Context, tc *authz.TenantContext, id uint) error {
	doc, err := s.Get(ctx, tc, id)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&model.KycDocument{}, doc.ID).Error; err != nil {
		return err
	}
	if err := s.store.Delete(ctx, doc.Path); err != nil && !errors.Is(err, storage.ErrNotFound) {
		logger.FromStdContext(ctx).Warn("Failed to remove document object", zap.String("path", doc.Path), zap.Error(err))
	}
	return nil
}

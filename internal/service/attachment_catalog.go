package service

import (
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	"github.com/spec-kit/helpdesk-service/internal/storage"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// MaxImagesPerBatch caps how many images one upload may attach.
const MaxImagesPerBatch = 3

const (
	maxSafeBaseLength = 40
	maxExtLength      = 10
	storageTimeLayout = "20060102150405"
)

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// ImageUpload is one uploaded file as received from the transport layer.
type ImageUpload struct {
	FileName    string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

func (u ImageUpload) isImage() bool {
	return u.Open != nil && strings.HasPrefix(strings.ToLower(strings.TrimSpace(u.ContentType)), "image/")
}

// AttachmentCatalog stores ticket images in the blob store and records them.
type AttachmentCatalog struct {
	store  repository.Store
	blobs  storage.BlobStore
	events eventPublisher
	logger *zap.Logger
	now    func() time.Time
	nonce  func() string
}

// AttachmentCatalogDependencies bundles collaborators for the catalog.
type AttachmentCatalogDependencies struct {
	Store      repository.Store
	Blobs      storage.BlobStore
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Clock      func() time.Time
	// Nonce makes file names unique within one second; defaults to a short uuid.
	Nonce func() string
}

// NewAttachmentCatalog constructs the catalog.
func NewAttachmentCatalog(deps AttachmentCatalogDependencies) *AttachmentCatalog {
	logger := loggerOrNop(deps.Logger)
	nonce := deps.Nonce
	if nonce == nil {
		nonce = func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:8] }
	}
	return &AttachmentCatalog{
		store:  deps.Store,
		blobs:  deps.Blobs,
		events: eventPublisher{dispatcher: deps.Dispatcher, logger: logger},
		logger: logger,
		now:    clockOrDefault(deps.Clock),
		nonce:  nonce,
	}
}

// BuildStorageKey derives the stored file name of an upload.
func BuildStorageKey(ticketID int64, at time.Time, nonce, fileName string) string {
	fileName = path.Base(strings.ReplaceAll(strings.TrimSpace(fileName), `\`, "/"))
	if fileName == "." || fileName == "/" {
		fileName = "img"
	}
	ext := strings.ToLower(path.Ext(fileName))
	base := strings.TrimSuffix(fileName, path.Ext(fileName))
	if base == "" {
		base = "img"
	}
	base = unsafeFileChars.ReplaceAllString(base, "_")
	if len(base) > maxSafeBaseLength {
		base = base[:maxSafeBaseLength]
	}
	ext = unsafeFileChars.ReplaceAllString(ext, "_")
	if len(ext) > maxExtLength {
		ext = ""
	}
	return fmt.Sprintf("%d_%s_%s_%s%s", ticketID, at.Format(storageTimeLayout), nonce, base, ext)
}

// attach writes up to MaxImagesPerBatch images and records them through repos.
// Keys of written blobs are returned even on failure so the caller can discard
// them once the transaction has rolled back.
func (a *AttachmentCatalog) attach(ctx context.Context, repos repository.Repositories, ticketID int64, uploads []ImageUpload, requireOne bool) ([]domain.Attachment, []string, error) {
	at := a.now()
	var (
		saved   []domain.Attachment
		written []string
	)
	for _, up := range uploads {
		if len(saved) >= MaxImagesPerBatch {
			break
		}
		if !up.isImage() {
			continue
		}
		key := BuildStorageKey(ticketID, at, a.nonce(), up.FileName)
		size, err := a.putBlob(ctx, key, up)
		if err != nil {
			return nil, written, fmt.Errorf("store image %q: %w", up.FileName, err)
		}
		written = append(written, key)

		att := domain.Attachment{
			TicketID:    ticketID,
			StorageKey:  key,
			FileName:    up.FileName,
			ContentType: up.ContentType,
			SizeBytes:   size,
			CreatedAt:   at,
		}
		if err := repos.Attachments.Create(ctx, &att); err != nil {
			return nil, written, err
		}
		att.URL = a.blobs.URL(key)
		saved = append(saved, att)
	}
	if requireOne && len(saved) == 0 {
		return nil, written, apperrors.NewValidationError("no valid images", map[string]any{"field": "images"})
	}
	return saved, written, nil
}

func (a *AttachmentCatalog) putBlob(ctx context.Context, key string, up ImageUpload) (int64, error) {
	rc, err := up.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	return a.blobs.Put(ctx, key, up.ContentType, rc)
}

// discard removes blobs whose catalog rows were rolled back.
func (a *AttachmentCatalog) discard(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := a.blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
			a.logger.Warn("discard orphaned blob", zap.String("key", key), zap.Error(err))
		}
	}
}

// AttachEvidence lets an assigned technician add images to a ticket.
func (a *AttachmentCatalog) AttachEvidence(ctx context.Context, caller domain.Principal, ticketID int64, uploads []ImageUpload) (saved []domain.Attachment, err error) {
	ctx, span := startSpan(ctx, "AttachmentCatalog.AttachEvidence", caller,
		attribute.Int64("ticket.id", ticketID), attribute.Int("uploads", len(uploads)))
	defer func() { finishSpan(span, err) }()

	if err := requireTechnician(caller); err != nil {
		return nil, err
	}

	var written []string
	err = a.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if _, err := loadTicket(ctx, repos, ticketID); err != nil {
			return err
		}
		if err := requireAssigned(ctx, repos, ticketID, caller); err != nil {
			return err
		}
		if len(uploads) == 0 {
			return apperrors.NewValidationError("no images were sent", map[string]any{"field": "images"})
		}
		var err error
		saved, written, err = a.attach(ctx, repos, ticketID, uploads, true)
		return err
	})
	if err != nil {
		a.discard(ctx, written)
		return nil, err
	}

	keys := make([]string, 0, len(saved))
	for _, att := range saved {
		keys = append(keys, att.StorageKey)
	}
	a.logger.Info("evidence attached", zap.Int64("ticket_id", ticketID), zap.Int("count", len(saved)))
	a.events.publish(ctx, events.New(events.EventEvidenceAttached, ticketID, caller, a.now(),
		events.EvidenceAttachedPayload{Keys: keys}))
	return saved, nil
}

// ListAttachments returns a ticket's images in upload order. Requesters only
// see their own tickets.
func (a *AttachmentCatalog) ListAttachments(ctx context.Context, caller domain.Principal, ticketID int64) (out []domain.Attachment, err error) {
	ctx, span := startSpan(ctx, "AttachmentCatalog.ListAttachments", caller, attribute.Int64("ticket.id", ticketID))
	defer func() { finishSpan(span, err) }()

	err = a.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		ticket, err := loadTicket(ctx, repos, ticketID)
		if err != nil {
			return err
		}
		switch {
		case caller.IsRequester():
			if ticket.OwnerID != caller.UserID {
				return apperrors.NewUnauthorized("ticket belongs to another requester")
			}
		case caller.IsTechnician():
		default:
			return apperrors.NewUnauthorized("unknown role")
		}
		out, err = a.listByTicket(ctx, repos, ticketID)
		return err
	})
	return out, err
}

func (a *AttachmentCatalog) listByTicket(ctx context.Context, repos repository.Repositories, ticketID int64) ([]domain.Attachment, error) {
	atts, err := repos.Attachments.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	for i := range atts {
		atts[i].URL = a.blobs.URL(atts[i].StorageKey)
	}
	return atts, nil
}

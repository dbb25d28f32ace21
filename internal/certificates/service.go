// Package certificates attaches compliance paperwork to orders.
package certificates

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tidecrate/storefront/internal/changefeed"
	"github.com/tidecrate/storefront/internal/lifecycle"
	"github.com/tidecrate/storefront/internal/media"
	"github.com/tidecrate/storefront/pkg/db/models"
	"github.com/tidecrate/storefront/pkg/enums"
	pkgerrors "github.com/tidecrate/storefront/pkg/errors"
	"github.com/tidecrate/storefront/pkg/logger"
	"github.com/tidecrate/storefront/pkg/outbox"
	"github.com/tidecrate/storefront/pkg/outbox/payloads"
	"github.com/tidecrate/storefront/pkg/storage/s3"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Uploader is the slice of media.Service certificates need.
type Uploader interface {
	Save(ctx context.Context, kind media.Kind, key string, file media.File) (*media.Stored, error)
	Compensate(ctx context.Context, key string, write func() error) error
	Remove(ctx context.Context, key string) error
	URL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// CertificateDTO is a certificate with a short-lived download link.
type CertificateDTO struct {
	ID              uuid.UUID             `json:"id"`
	OrderID         uuid.UUID             `json:"order_id"`
	CertificateType enums.CertificateType `json:"certificate_type"`
	FileName        string                `json:"file_name"`
	URL             string                `json:"url"`
	UploadedBy      *uuid.UUID            `json:"uploaded_by,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
}

// UploadInput is one admin certificate upload.
type UploadInput struct {
	OrderID uuid.UUID
	Type    enums.CertificateType
	File    media.File
	Actor   lifecycle.Actor
}

// Service exposes certificate operations.
type Service interface {
	List(ctx context.Context, actor lifecycle.Actor, orderID uuid.UUID) ([]CertificateDTO, error)
	Upload(ctx context.Context, input UploadInput) (*CertificateDTO, error)
	Delete(ctx context.Context, actor lifecycle.Actor, certificateID uuid.UUID) error
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outbox.Emitter
	feed   changefeed.Notifier
	media  Uploader
	logg   *logger.Logger
	urlTTL time.Duration
	now    func() time.Time
}

// NewService builds the certificate service. urlTTL bounds download links.
func NewService(repo Repository, tx txRunner, emitter outbox.Emitter, feed changefeed.Notifier, uploads Uploader, urlTTL time.Duration, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("certificate repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if feed == nil {
		return nil, fmt.Errorf("change notifier required")
	}
	if uploads == nil {
		return nil, fmt.Errorf("media uploader required")
	}
	if urlTTL <= 0 {
		urlTTL = 15 * time.Minute
	}
	return &service{
		repo:   repo,
		tx:     tx,
		outbox: emitter,
		feed:   feed,
		media:  uploads,
		logg:   logg,
		urlTTL: urlTTL,
		now:    time.Now,
	}, nil
}

// List returns the order's certificates, newest first. Customers may only list
// their own orders.
func (s *service) List(ctx context.Context, actor lifecycle.Actor, orderID uuid.UUID) ([]CertificateDTO, error) {
	if err := s.authorizeRead(ctx, actor, orderID); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list certificates")
	}
	out := make([]CertificateDTO, 0, len(rows))
	for _, row := range rows {
		dto, err := s.toDTO(ctx, row)
		if err != nil {
			return nil, err
		}
		out = append(out, dto)
	}
	return out, nil
}

// Upload writes the blob first and then the metadata row. A failed row write
// deletes the blob again so no unreferenced file remains.
func (s *service) Upload(ctx context.Context, input UploadInput) (*CertificateDTO, error) {
	if !input.Actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "certificate upload requires the admin role")
	}
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid certificate type %q", input.Type))
	}
	if _, err := s.repo.OrderOwner(ctx, input.OrderID); err != nil {
		return nil, notFoundOr(err, "order not found", "load order")
	}

	now := s.now().UTC()
	key := s3.CertificateKey(input.OrderID, input.File.Name, now)
	stored, err := s.media.Save(ctx, media.KindCertificate, key, input.File)
	if err != nil {
		return nil, err
	}

	var uploadedBy *uuid.UUID
	if input.Actor.UserID != uuid.Nil {
		id := input.Actor.UserID
		uploadedBy = &id
	}
	cert := models.OrderCertificate{
		OrderID:         input.OrderID,
		CertificateType: input.Type,
		FilePath:        stored.Key,
		FileName:        s3.SafeFileName(input.File.Name),
		UploadedBy:      uploadedBy,
	}
	err = s.media.Compensate(ctx, stored.Key, func() error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			if err := s.repo.WithTx(tx).Create(ctx, &cert); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record certificate")
			}
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventCertificateUploaded,
				AggregateType: enums.AggregateOrder,
				AggregateID:   input.OrderID,
				Actor:         &outbox.ActorRef{UserID: input.Actor.UserID, Role: input.Actor.Role},
				Data: payloads.CertificateUploadedEvent{
					OrderID:         input.OrderID,
					CertificateID:   cert.ID,
					CertificateType: cert.CertificateType,
					UploadedAt:      now,
				},
			})
		})
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, input.OrderID, cert.ID, enums.ChangeInsert)
	dto, err := s.toDTO(ctx, cert)
	if err != nil {
		return nil, err
	}
	return &dto, nil
}

// Delete removes the row first; a blob left behind by a failed delete is only
// logged.
func (s *service) Delete(ctx context.Context, actor lifecycle.Actor, certificateID uuid.UUID) error {
	if !actor.IsAdmin() {
		return pkgerrors.New(pkgerrors.CodeForbidden, "certificate delete requires the admin role")
	}
	cert, err := s.repo.FindByID(ctx, certificateID)
	if err != nil {
		return notFoundOr(err, "certificate not found", "load certificate")
	}
	if err := s.repo.Delete(ctx, cert.ID); err != nil {
		return notFoundOr(err, "certificate not found", "delete certificate")
	}
	if err := s.media.Remove(ctx, cert.FilePath); err != nil && s.logg != nil {
		s.logg.Warn(s.logg.WithField(ctx, "blob_key", cert.FilePath), "orphaned certificate file")
	}
	s.notify(ctx, cert.OrderID, cert.ID, enums.ChangeDelete)
	return nil
}

func (s *service) authorizeRead(ctx context.Context, actor lifecycle.Actor, orderID uuid.UUID) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	owner, err := s.repo.OrderOwner(ctx, orderID)
	if err != nil {
		return notFoundOr(err, "order not found", "load order")
	}
	if !actor.IsAdmin() && owner != actor.UserID {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return nil
}

func (s *service) toDTO(ctx context.Context, cert models.OrderCertificate) (CertificateDTO, error) {
	url, err := s.media.URL(ctx, cert.FilePath, s.urlTTL)
	if err != nil {
		return CertificateDTO{}, err
	}
	return CertificateDTO{
		ID:              cert.ID,
		OrderID:         cert.OrderID,
		CertificateType: cert.CertificateType,
		FileName:        cert.FileName,
		URL:             url,
		UploadedBy:      cert.UploadedBy,
		CreatedAt:       cert.CreatedAt,
	}, nil
}

func (s *service) notify(ctx context.Context, orderID, certID uuid.UUID, op enums.ChangeOp) {
	_ = s.feed.Publish(ctx, changefeed.Change{
		Table:  enums.ChangeTableCertificates,
		Op:     op,
		RowID:  certID,
		Filter: map[string]string{changefeed.ColumnOrderID: orderID.String()},
	})
}

func notFoundOr(err error, notFound, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, notFound)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}

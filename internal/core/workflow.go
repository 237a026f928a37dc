package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ubtreetrack/treetrack/internal/backend/database"
	"github.com/ubtreetrack/treetrack/internal/backend/imagehost"
	"github.com/ubtreetrack/treetrack/internal/backend/qrcode"
	"github.com/ubtreetrack/treetrack/internal/common"
	"github.com/ubtreetrack/treetrack/internal/metrics"
)

var ErrNotAuthenticated = errors.New("administrator not authenticated")

// Workflow names.
const (
	WorkflowCreate = "create"
	WorkflowUpdate = "update"
	WorkflowDelete = "delete"
)

// Step names, shared by logs and metrics.
const (
	StepCheckName      = "check_name"
	StepUploadPhoto    = "upload_photo"
	StepInsertPlant    = "insert_plant"
	StepGenerateQRCode = "generate_qr"
	StepUploadQRCode   = "upload_qr"
	StepInsertQRCode   = "insert_qr"
	StepUpdatePlant    = "update_plant"
	StepDeleteOldPhoto = "delete_old_photo"
	StepDeletePhoto    = "delete_photo"
	StepDeletePlant    = "delete_plant"
	StepDeleteQRImage  = "delete_qr_image"
)

// ImageStore stores plant photos and QR code images.
type ImageStore interface {
	Upload(ctx context.Context, upload imagehost.Upload) (*imagehost.Image, error)
	Delete(ctx context.Context, hash string) error
}

// QREncoder renders a destination URL as a PNG QR code.
type QREncoder interface {
	Encode(destination string) ([]byte, error)
}

// Actor is the administrator performing a mutation.
type Actor struct {
	AdminID string
}

func (a *Actor) authenticated() bool {
	return a != nil && a.AdminID != ""
}

// EntryWorkflow sequences store writes and image host calls for plant mutations.
type EntryWorkflow struct {
	db         database.DatabaseService
	images     ImageStore
	qr         QREncoder
	baseURL    string
	compensate bool
	metrics    *metrics.Metrics
}

func NewEntryWorkflow(db database.DatabaseService, images ImageStore, qr QREncoder, baseURL string, compensate bool, m *metrics.Metrics) *EntryWorkflow {
	return &EntryWorkflow{
		db:         db,
		images:     images,
		qr:         qr,
		baseURL:    baseURL,
		compensate: compensate,
		metrics:    m,
	}
}

type compensation struct {
	step string
	undo func(ctx context.Context) error
}

// saga runs named steps and remembers how to undo the completed ones.
type saga struct {
	workflow      string
	compensate    bool
	metrics       *metrics.Metrics
	compensations []compensation
}

func (w *EntryWorkflow) newSaga(name string) *saga {
	return &saga{workflow: name, compensate: w.compensate, metrics: w.metrics}
}

func (s *saga) run(ctx context.Context, step string, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	s.metrics.ObserveWorkflowStep(s.workflow, step, err)
	if err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}
	return nil
}

// onFailure registers undo to run if a later step fails.
func (s *saga) onFailure(step string, undo func(ctx context.Context) error) {
	s.compensations = append(s.compensations, compensation{step: step, undo: undo})
}

// fail runs the registered compensations in reverse order and joins their errors with cause.
func (s *saga) fail(ctx context.Context, cause error) error {
	if !s.compensate || len(s.compensations) == 0 {
		return cause
	}
	// compensations must finish even if the request was cancelled
	ctx = context.WithoutCancel(ctx)

	errs := []error{cause}
	for i := len(s.compensations) - 1; i >= 0; i-- {
		c := s.compensations[i]
		err := c.undo(ctx)
		s.metrics.ObserveCompensation(s.workflow, c.step, err)
		if err != nil {
			slog.Error("workflow: compensation failed", "workflow", s.workflow, "step", c.step, "error", err)
			errs = append(errs, fmt.Errorf("compensation %s: %w", c.step, err))
			continue
		}
		slog.Info("workflow: compensation completed", "workflow", s.workflow, "step", c.step)
	}
	return errors.Join(errs...)
}

func (w *EntryWorkflow) uploadImage(ctx context.Context, upload imagehost.Upload) (*imagehost.Image, error) {
	started := time.Now()
	image, err := w.images.Upload(ctx, upload)
	w.metrics.ObserveImageHostRequest("upload", started, err)
	return image, err
}

func (w *EntryWorkflow) deleteImage(ctx context.Context, hash string) error {
	started := time.Now()
	err := w.images.Delete(ctx, hash)
	w.metrics.ObserveImageHostRequest("delete", started, err)
	return err
}

// ensureNameAvailable rejects a scientific name used by any plant other than plantID.
func (w *EntryWorkflow) ensureNameAvailable(ctx context.Context, scientificName, plantID string) error {
	existing, err := w.db.GetPlantByScientificName(ctx, scientificName)
	if err != nil {
		return err
	}
	if existing != nil && existing.ID != plantID {
		return database.ErrDuplicateScientificName
	}
	return nil
}

// Create uploads the photo, stores the plant, then renders, uploads and stores its QR code.
func (w *EntryWorkflow) Create(ctx context.Context, actor *Actor, fields common.PlantFields, image common.ImageFile) (string, error) {
	if !actor.authenticated() {
		return "", ErrNotAuthenticated
	}
	s := w.newSaga(WorkflowCreate)

	err := s.run(ctx, StepCheckName, func(ctx context.Context) error {
		return w.ensureNameAvailable(ctx, fields.ScientificName, "")
	})
	if err != nil {
		return "", err
	}

	var photo *imagehost.Image
	err = s.run(ctx, StepUploadPhoto, func(ctx context.Context) (err error) {
		photo, err = w.uploadImage(ctx, imagehost.Upload{
			Kind:        imagehost.KindPhoto,
			Filename:    image.Filename,
			Name:        fields.ScientificName,
			Title:       fields.ScientificName,
			Description: fields.Description,
			Data:        image.Data,
		})
		return err
	})
	if err != nil {
		return "", err
	}
	s.onFailure(StepDeletePhoto, func(ctx context.Context) error {
		return w.deleteImage(ctx, photo.Hash)
	})

	var plantID string
	err = s.run(ctx, StepInsertPlant, func(ctx context.Context) (err error) {
		plantID, err = w.db.InsertPlant(ctx, database.NewPlant{
			ScientificName: fields.ScientificName,
			CommonNames:    fields.CommonNames,
			Description:    fields.Description,
			PhotoLink:      photo.Link,
			PhotoHash:      photo.Hash,
			AdminID:        actor.AdminID,
		})
		return err
	})
	if err != nil {
		return "", s.fail(ctx, err)
	}
	s.onFailure(StepDeletePlant, func(ctx context.Context) error {
		return w.db.DeletePlant(ctx, plantID)
	})

	destination := qrcode.Destination(w.baseURL, plantID)
	var png []byte
	err = s.run(ctx, StepGenerateQRCode, func(context.Context) (err error) {
		png, err = w.qr.Encode(destination)
		return err
	})
	if err != nil {
		return "", s.fail(ctx, err)
	}

	var qrImage *imagehost.Image
	err = s.run(ctx, StepUploadQRCode, func(ctx context.Context) (err error) {
		qrImage, err = w.uploadImage(ctx, imagehost.Upload{
			Kind:     imagehost.KindQRCode,
			Filename: plantID + ".png",
			Name:     fields.ScientificName + " QR code",
			Title:    fields.ScientificName,
			Data:     png,
		})
		return err
	})
	if err != nil {
		return "", s.fail(ctx, err)
	}
	s.onFailure(StepDeleteQRImage, func(ctx context.Context) error {
		return w.deleteImage(ctx, qrImage.Hash)
	})

	err = s.run(ctx, StepInsertQRCode, func(ctx context.Context) error {
		_, err := w.db.InsertQRCode(ctx, database.NewQRCode{
			PlantID:     plantID,
			Link:        qrImage.Link,
			Hash:        qrImage.Hash,
			Destination: destination,
		})
		return err
	})
	if err != nil {
		return "", s.fail(ctx, err)
	}

	slog.Info("plant created", "plant_id", plantID, "admin_id", actor.AdminID)
	return plantID, nil
}

// Update rewrites the plant's text fields. With a new image it uploads the image first,
// points the record at it and only then deletes the previous image.
func (w *EntryWorkflow) Update(ctx context.Context, actor *Actor, plantID, oldImageHash string, fields common.PlantFields, image *common.ImageFile) (string, error) {
	if !actor.authenticated() {
		return "", ErrNotAuthenticated
	}
	s := w.newSaga(WorkflowUpdate)

	err := s.run(ctx, StepCheckName, func(ctx context.Context) error {
		return w.ensureNameAvailable(ctx, fields.ScientificName, plantID)
	})
	if err != nil {
		return "", err
	}

	update := database.PlantUpdate{
		ScientificName: fields.ScientificName,
		CommonNames:    fields.CommonNames,
		Description:    fields.Description,
		EditorID:       actor.AdminID,
	}

	replacesPhoto := image != nil && len(image.Data) > 0
	if replacesPhoto {
		var photo *imagehost.Image
		err = s.run(ctx, StepUploadPhoto, func(ctx context.Context) (err error) {
			photo, err = w.uploadImage(ctx, imagehost.Upload{
				Kind:        imagehost.KindPhoto,
				Filename:    image.Filename,
				Name:        fields.ScientificName,
				Title:       fields.ScientificName,
				Description: fields.Description,
				Data:        image.Data,
			})
			return err
		})
		if err != nil {
			return "", err
		}
		s.onFailure(StepDeletePhoto, func(ctx context.Context) error {
			return w.deleteImage(ctx, photo.Hash)
		})
		update.PhotoLink = photo.Link
		update.PhotoHash = photo.Hash
	}

	err = s.run(ctx, StepUpdatePlant, func(ctx context.Context) error {
		return w.db.UpdatePlant(ctx, plantID, update)
	})
	if err != nil {
		return "", s.fail(ctx, err)
	}

	if replacesPhoto && oldImageHash != "" && oldImageHash != update.PhotoHash {
		err = s.run(ctx, StepDeleteOldPhoto, func(ctx context.Context) error {
			return w.deleteImage(ctx, oldImageHash)
		})
		if err != nil {
			// the record already points at the new photo
			slog.Error("workflow: failed to delete previous photo", "plant_id", plantID, "hash", oldImageHash, "error", err)
		}
	}

	slog.Info("plant updated", "plant_id", plantID, "admin_id", actor.AdminID, "photo_replaced", replacesPhoto)
	return plantID, nil
}

// Delete removes the photo from the image host, then the record. A failed image deletion is
// logged and does not keep the record.
func (w *EntryWorkflow) Delete(ctx context.Context, actor *Actor, plantID, imageHash string) error {
	if !actor.authenticated() {
		return ErrNotAuthenticated
	}
	s := w.newSaga(WorkflowDelete)

	err := s.run(ctx, StepDeletePhoto, func(ctx context.Context) error {
		return w.deleteImage(ctx, imageHash)
	})
	if err != nil {
		slog.Error("workflow: failed to delete photo", "plant_id", plantID, "hash", imageHash, "error", err)
	}

	err = s.run(ctx, StepDeletePlant, func(ctx context.Context) error {
		return w.db.DeletePlant(ctx, plantID)
	})
	if err != nil {
		return err
	}

	slog.Info("plant deleted", "plant_id", plantID, "admin_id", actor.AdminID)
	return nil
}

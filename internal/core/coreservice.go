package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/ubtreetrack/treetrack/internal/backend/database"
	"github.com/ubtreetrack/treetrack/internal/backend/imagehost"
	"github.com/ubtreetrack/treetrack/internal/backend/imaging"
	"github.com/ubtreetrack/treetrack/internal/backend/qrcode"
	"github.com/ubtreetrack/treetrack/internal/common"
	"github.com/ubtreetrack/treetrack/internal/cooldown"
	"github.com/ubtreetrack/treetrack/internal/metrics"
	"github.com/ubtreetrack/treetrack/internal/reports"
)

var (
	ErrInvalidRating = errors.New("invalid rating")
	ErrInvalidImage  = errors.New("invalid image")
)

// Rating outcomes recorded in metrics.
const (
	ratingAccepted = "accepted"
	ratingCooldown = "cooldown"
	ratingInvalid  = "invalid"
)

type CoreService struct {
	config          *ServiceConfig
	databaseService database.DatabaseService
	images          ImageStore
	workflow        *EntryWorkflow
	cooldown        *cooldown.Tracker
	reports         *reports.Generator
	views           *viewCache
	metrics         *metrics.Metrics
	closers         []io.Closer
}

// Dependencies are the collaborators NewCoreServiceWith wires together.
type Dependencies struct {
	Database database.DatabaseService
	Images   ImageStore
	QR       QREncoder
	Cooldown cooldown.Store
	Metrics  *metrics.Metrics
}

// NewCoreService opens the database and the cooldown store named in config.
func NewCoreService(ctx context.Context, config *ServiceConfig, m *metrics.Metrics) (*CoreService, error) {
	databaseService, err := getDatabaseService(config)
	if err != nil {
		return nil, err
	}

	store, storeCloser, err := cooldown.NewStore(ctx, config.Cooldown.Backend, cooldown.RedisConfig{
		Addr:     config.Cooldown.Redis.Addr,
		Password: config.Cooldown.Redis.Password,
		DB:       config.Cooldown.Redis.DB,
	})
	if err != nil {
		_ = databaseService.Close()
		return nil, fmt.Errorf("failed to initialize cooldown store: %w", err)
	}

	images := imagehost.NewClient(imagehost.Config{
		APIBase:           config.ImageHost.APIBase,
		AccessToken:       config.ImageHost.AccessToken,
		AlbumHash:         config.ImageHost.AlbumHash,
		QRAlbumHash:       config.ImageHost.QRAlbumHash,
		Timeout:           config.ImageHost.Timeout,
		RequestsPerSecond: config.ImageHost.RequestsPerSecond,
		Burst:             config.ImageHost.Burst,
	})

	service, err := NewCoreServiceWith(config, Dependencies{
		Database: databaseService,
		Images:   images,
		QR:       qrcode.NewGenerator(config.QRCode.Size),
		Cooldown: store,
		Metrics:  m,
	})
	if err != nil {
		_ = storeCloser.Close()
		_ = databaseService.Close()
		return nil, err
	}
	service.closers = append(service.closers, storeCloser)
	return service, nil
}

func NewCoreServiceWith(config *ServiceConfig, deps Dependencies) (*CoreService, error) {
	generator, err := reports.NewGenerator(deps.Database, config.Reports.TimeZone)
	if err != nil {
		return nil, err
	}
	return &CoreService{
		config:          config,
		databaseService: deps.Database,
		images:          deps.Images,
		workflow: NewEntryWorkflow(deps.Database, deps.Images, deps.QR, config.BaseURL,
			config.Workflow.CompensationEnabled(), deps.Metrics),
		cooldown: cooldown.NewTracker(deps.Cooldown, config.Cooldown.Period),
		reports:  generator,
		views:    newViewCache(config.ViewCache.TTL, deps.Metrics),
		metrics:  deps.Metrics,
	}, nil
}

func getDatabaseService(config *ServiceConfig) (database.DatabaseService, error) {
	databaseService, err := database.NewDatabase(config.Database.Type, config.Database.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	slog.Info("database initialized successfully", "type", config.Database.Type)
	return databaseService, nil
}

func (service *CoreService) Config() *ServiceConfig {
	return service.config
}

// Administrators exposes the store for sign-in.
func (service *CoreService) Administrators() database.DatabaseService {
	return service.databaseService
}

func (service *CoreService) Metrics() *metrics.Metrics {
	return service.metrics
}

// PlantDetail is everything the plant page shows.
type PlantDetail struct {
	Plant         *database.Plant    `json:"plant"`
	QRCode        *database.QRCode   `json:"qr_code,omitempty"`
	RatingCount   int                `json:"rating_count"`
	AverageRating *float64           `json:"average_rating"`
	Ratings       []*database.Rating `json:"-"`
}

// AverageText is the average with two decimals, or "None".
func (d *PlantDetail) AverageText() string {
	return reports.FormatAverage(d.AverageRating)
}

// RatingBand names the badge colour for the average rating.
func (d *PlantDetail) RatingBand() string {
	if d.AverageRating == nil {
		return "gray"
	}
	rounded := math.Round(*d.AverageRating*100) / 100
	switch {
	case rounded >= 4:
		return "green"
	case rounded >= 3:
		return "yellow"
	case rounded >= 2:
		return "orange"
	case rounded >= 1:
		return "red"
	default:
		return "gray"
	}
}

// ListPlants returns every plant ordered by scientific name.
func (service *CoreService) ListPlants(ctx context.Context) ([]*database.PlantSummary, error) {
	return cached(service.views, plantListKey, func() ([]*database.PlantSummary, error) {
		return service.databaseService.ListPlantSummaries(ctx)
	})
}

// GetPlant returns nil, nil when the plant does not exist.
func (service *CoreService) GetPlant(ctx context.Context, id string) (*PlantDetail, error) {
	return cachedIf(service.views, plantDetailKeyP+id, func(d *PlantDetail) bool { return d != nil }, func() (*PlantDetail, error) {
		plant, err := service.databaseService.GetPlantByID(ctx, id)
		if err != nil || plant == nil {
			return nil, err
		}
		qr, err := service.databaseService.GetQRCodeByPlantID(ctx, id)
		if err != nil {
			return nil, err
		}
		ratings, err := service.databaseService.ListRatingsForPlant(ctx, id)
		if err != nil {
			return nil, err
		}

		detail := &PlantDetail{Plant: plant, QRCode: qr, RatingCount: len(ratings), Ratings: ratings}
		if len(ratings) > 0 {
			sum := 0
			for _, r := range ratings {
				sum += r.Value
			}
			average := float64(sum) / float64(len(ratings))
			detail.AverageRating = &average
		}
		return detail, nil
	})
}

// NatureWalk picks a random selection of plants for the gallery.
func (service *CoreService) NatureWalk(ctx context.Context) ([]*database.Plant, error) {
	return service.databaseService.RandomPlants(ctx, service.config.Gallery.Size)
}

func (service *CoreService) AddPlant(ctx context.Context, actor *Actor, fields common.PlantFields, image common.ImageFile) (string, error) {
	id, err := service.workflow.Create(ctx, actor, fields, image)
	if err != nil {
		return "", err
	}
	service.views.invalidate()
	return id, nil
}

func (service *CoreService) UpdatePlant(ctx context.Context, actor *Actor, id, oldImageHash string, fields common.PlantFields, image *common.ImageFile) (string, error) {
	id, err := service.workflow.Update(ctx, actor, id, oldImageHash, fields, image)
	if err != nil {
		return "", err
	}
	service.views.invalidate()
	return id, nil
}

func (service *CoreService) DeletePlant(ctx context.Context, actor *Actor, id, imageHash string) error {
	if err := service.workflow.Delete(ctx, actor, id, imageHash); err != nil {
		return err
	}
	service.views.invalidate()
	return nil
}

func (service *CoreService) RatingStatus(ctx context.Context, visitorID, plantID string) (cooldown.Status, error) {
	return service.cooldown.Status(ctx, visitorID, plantID)
}

// SubmitRating stores a rating unless the visitor rated this plant within the cooldown period.
// The cooldown starts only after the store accepted the rating.
func (service *CoreService) SubmitRating(ctx context.Context, visitorID, plantID string, value int) error {
	if validation := common.ValidateRatingForm(common.RatingForm{Rating: value}); !validation.IsValid() {
		service.metrics.ObserveRating(ratingInvalid)
		return fmt.Errorf("%w: %s", ErrInvalidRating, validation.Errors().String())
	}

	if _, err := service.cooldown.Check(ctx, visitorID, plantID); err != nil {
		if errors.Is(err, cooldown.ErrCooldownActive) {
			service.metrics.ObserveRating(ratingCooldown)
		}
		return err
	}

	plant, err := service.databaseService.GetPlantByID(ctx, plantID)
	if err != nil {
		return err
	}
	if plant == nil {
		return database.ErrNotFound
	}

	if _, err := service.databaseService.InsertRating(ctx, plantID, value); err != nil {
		return err
	}
	service.metrics.ObserveRating(ratingAccepted)
	service.views.invalidate()

	if err := service.cooldown.Record(ctx, visitorID, plantID); err != nil {
		// the rating is stored; only the soft guard is lost
		slog.Error("SubmitRating: failed to record cooldown", "plant_id", plantID, "error", err)
	}
	return nil
}

func (service *CoreService) Reports() *reports.Generator {
	return service.reports
}

func (service *CoreService) GenerateReport(ctx context.Context, name string) (any, error) {
	return service.reports.Generate(ctx, name)
}

// ImageUpload is a file received by the upload endpoint.
type ImageUpload struct {
	QRCode      bool
	Filename    string
	Name        string
	Title       string
	Description string
	Data        []byte
}

// UploadImage relays a file to the image host. Photos must be JPEG, PNG or WebP; QR codes PNG.
func (service *CoreService) UploadImage(ctx context.Context, upload ImageUpload) (*imagehost.Image, error) {
	format, err := imaging.DetectFormat(upload.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	kind := imagehost.KindPhoto
	if upload.QRCode {
		if format != imaging.FormatPNG {
			return nil, fmt.Errorf("%w: qr codes must be png", ErrInvalidImage)
		}
		kind = imagehost.KindQRCode
	}
	if int64(len(upload.Data)) > common.MaxImageSize {
		return nil, fmt.Errorf("%w: %s", ErrInvalidImage, common.MsgImageSize)
	}

	started := time.Now()
	image, err := service.images.Upload(ctx, imagehost.Upload{
		Kind:        kind,
		Filename:    upload.Filename,
		Name:        upload.Name,
		Title:       upload.Title,
		Description: upload.Description,
		Data:        upload.Data,
	})
	service.metrics.ObserveImageHostRequest("upload", started, err)
	return image, err
}

func (service *CoreService) Close() error {
	var errs []error
	for _, c := range service.closers {
		errs = append(errs, c.Close())
	}
	errs = append(errs, service.databaseService.Close())
	return errors.Join(errs...)
}

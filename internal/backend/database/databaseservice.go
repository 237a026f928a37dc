package database

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by mutations that matched no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateScientificName is returned when a plant would share its scientific name with another plant.
	ErrDuplicateScientificName = errors.New("scientific name already exists")
)

type DatabaseService interface {
	CreateDatabase() (*sql.DB, error)
	DoesDatabaseExist() bool
	Close() error

	// InsertPlant stores a new plant and returns its generated ID.
	InsertPlant(ctx context.Context, plant NewPlant) (string, error)
	// UpdatePlant rewrites the text fields of a plant, and its photo when both photo link and hash are set.
	// The editing administrator's edit counter is incremented in the same transaction.
	UpdatePlant(ctx context.Context, id string, update PlantUpdate) error
	DeletePlant(ctx context.Context, id string) error
	// GetPlantByID returns nil, nil when no plant matches.
	GetPlantByID(ctx context.Context, id string) (*Plant, error)
	GetPlantByScientificName(ctx context.Context, scientificName string) (*Plant, error)
	ListPlantSummaries(ctx context.Context) ([]*PlantSummary, error)
	RandomPlants(ctx context.Context, limit int) ([]*Plant, error)

	InsertQRCode(ctx context.Context, qr NewQRCode) (string, error)
	GetQRCodeByPlantID(ctx context.Context, plantID string) (*QRCode, error)

	InsertRating(ctx context.Context, plantID string, value int) (string, error)
	ListRatingsForPlant(ctx context.Context, plantID string) ([]*Rating, error)
	ListRatingsSince(ctx context.Context, since time.Time) ([]*Rating, error)
	PlantRatingStats(ctx context.Context) ([]*PlantRatingStats, error)

	InsertAdministrator(ctx context.Context, admin NewAdministrator) (string, error)
	GetAdministratorByID(ctx context.Context, id string) (*Administrator, error)
	GetAdministratorByEmail(ctx context.Context, email string) (*Administrator, error)
	ListAdministrators(ctx context.Context) ([]*Administrator, error)
	AdministratorContributions(ctx context.Context) ([]*AdministratorContribution, error)
	Counts(ctx context.Context) (*Counts, error)
}

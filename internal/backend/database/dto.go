package database

import "time"

type Plant struct {
	ID             string    `db:"plant_id" json:"plant_id"`
	ScientificName string    `db:"scientific_name" json:"scientific_name"`
	CommonNames    []string  `db:"common_names" json:"common_names"` // stored as a JSON array
	Description    string    `db:"description" json:"description"`
	PhotoLink      string    `db:"photo_link" json:"photo_link"`
	PhotoHash      string    `db:"photo_hash" json:"photo_hash"`
	LastModified   time.Time `db:"last_modified" json:"last_modified"`
	AdminID        string    `db:"admin_id" json:"admin_id,omitempty"`
}

type PlantSummary struct {
	ID             string    `db:"plant_id" json:"plant_id"`
	ScientificName string    `db:"scientific_name" json:"scientific_name"`
	LastModified   time.Time `db:"last_modified" json:"last_modified"`
}

type NewPlant struct {
	ScientificName string
	CommonNames    []string
	Description    string
	PhotoLink      string
	PhotoHash      string
	AdminID        string
}

// PlantUpdate leaves the photo untouched unless both PhotoLink and PhotoHash are non-empty.
type PlantUpdate struct {
	ScientificName string
	CommonNames    []string
	Description    string
	PhotoLink      string
	PhotoHash      string
	EditorID       string
}

func (u PlantUpdate) replacesPhoto() bool {
	return u.PhotoLink != "" && u.PhotoHash != ""
}

type QRCode struct {
	ID          string    `db:"qr_id" json:"qr_id"`
	PlantID     string    `db:"plant_id" json:"plant_id"`
	Link        string    `db:"qr_link" json:"qr_link"`
	Hash        string    `db:"qr_hash" json:"qr_hash"`
	Destination string    `db:"destination" json:"destination"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

type NewQRCode struct {
	PlantID     string
	Link        string
	Hash        string
	Destination string
}

type Rating struct {
	ID        string    `db:"rating_id" json:"rating_id"`
	PlantID   string    `db:"plant_id" json:"plant_id"`
	Value     int       `db:"rating_value" json:"rating_value"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type PlantRatingStats struct {
	PlantID        string `json:"plant_id"`
	ScientificName string `json:"scientific_name"`
	Count          int    `json:"rating_count"`
	Sum            int    `json:"rating_sum"`
}

type Administrator struct {
	ID           string    `db:"admin_id" json:"admin_id"`
	FirstName    string    `db:"first_name" json:"first_name"`
	LastName     string    `db:"last_name" json:"last_name"`
	Email        string    `db:"email" json:"email"`
	Edits        int       `db:"edits" json:"edits"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

func (a *Administrator) FullName() string {
	if a.LastName == "" {
		return a.FirstName
	}
	return a.FirstName + " " + a.LastName
}

type NewAdministrator struct {
	FirstName    string
	LastName     string
	Email        string
	PasswordHash string
}

type AdministratorContribution struct {
	Administrator
	PlantsAdded int `json:"plants_added"`
}

type Counts struct {
	Plants         int `json:"total_plants"`
	Ratings        int `json:"total_ratings"`
	Administrators int `json:"total_administrators"`
}

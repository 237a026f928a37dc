package database

import "fmt"

// schemaStatements returns the idempotent DDL for the catalog. Only the timestamp column type
// differs between dialects.
func schemaStatements(timestampType string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS administrators (
		admin_id TEXT PRIMARY KEY,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL UNIQUE,
		edits INTEGER NOT NULL DEFAULT 0,
		password_hash TEXT NOT NULL DEFAULT '',
		created_at %s NOT NULL
	)`, timestampType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS plants (
		plant_id TEXT PRIMARY KEY,
		scientific_name TEXT NOT NULL UNIQUE,
		common_names TEXT NOT NULL DEFAULT '[]',
		description TEXT NOT NULL DEFAULT '',
		photo_link TEXT NOT NULL DEFAULT '',
		photo_hash TEXT NOT NULL DEFAULT '',
		last_modified %s NOT NULL,
		admin_id TEXT REFERENCES administrators(admin_id) ON DELETE SET NULL
	)`, timestampType),
		`CREATE INDEX IF NOT EXISTS idx_plants_admin_id ON plants(admin_id)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS qr_codes (
		qr_id TEXT PRIMARY KEY,
		plant_id TEXT NOT NULL UNIQUE REFERENCES plants(plant_id) ON DELETE CASCADE,
		qr_link TEXT NOT NULL,
		qr_hash TEXT NOT NULL,
		destination TEXT NOT NULL,
		created_at %s NOT NULL
	)`, timestampType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS ratings (
		rating_id TEXT PRIMARY KEY,
		plant_id TEXT NOT NULL REFERENCES plants(plant_id) ON DELETE CASCADE,
		rating_value INTEGER NOT NULL CHECK (rating_value >= 1 AND rating_value <= 5),
		created_at %s NOT NULL
	)`, timestampType),
		`CREATE INDEX IF NOT EXISTS idx_ratings_plant_id ON ratings(plant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ratings_created_at ON ratings(created_at)`,
	}
}

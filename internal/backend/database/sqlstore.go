package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// dialect captures what differs between the supported SQL backends.
type dialect struct {
	name              string
	timestampType     string
	numberedParams    bool
	isUniqueViolation func(err error) bool
}

// sqlDatabase implements DatabaseService on top of database/sql for any dialect.
type sqlDatabase struct {
	db               *sql.DB
	connectionString string
	dialect          dialect
	now              func() time.Time
}

// rebind rewrites '?' placeholders to $n for dialects with numbered parameters.
func (s *sqlDatabase) rebind(query string) string {
	if !s.dialect.numberedParams {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *sqlDatabase) timestamp() time.Time {
	return s.now().UTC()
}

func (s *sqlDatabase) CreateDatabase() (*sql.DB, error) {
	for _, stmt := range schemaStatements(s.dialect.timestampType) {
		if _, err := s.db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return s.db, nil
}

func (s *sqlDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *sqlDatabase) DoesDatabaseExist() bool {
	return s.db.Ping() == nil
}

func (s *sqlDatabase) translate(err error) error {
	if err != nil && s.dialect.isUniqueViolation != nil && s.dialect.isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrDuplicateScientificName, err)
	}
	return err
}

func encodeNames(names []string) (string, error) {
	if names == nil {
		names = []string{}
	}
	data, err := json.Marshal(names)
	if err != nil {
		return "", fmt.Errorf("failed to encode common names: %w", err)
	}
	return string(data), nil
}

func decodeNames(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil, fmt.Errorf("failed to decode common names: %w", err)
	}
	return names, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

const plantColumns = `plant_id, scientific_name, common_names, description, photo_link, photo_hash, last_modified, COALESCE(admin_id, '')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlant(row rowScanner) (*Plant, error) {
	var p Plant
	var names string
	if err := row.Scan(&p.ID, &p.ScientificName, &names, &p.Description, &p.PhotoLink, &p.PhotoHash, &p.LastModified, &p.AdminID); err != nil {
		return nil, err
	}
	decoded, err := decodeNames(names)
	if err != nil {
		return nil, err
	}
	p.CommonNames = decoded
	return &p, nil
}

func (s *sqlDatabase) InsertPlant(ctx context.Context, plant NewPlant) (string, error) {
	id, err := generateID()
	if err != nil {
		return "", err
	}
	names, err := encodeNames(plant.CommonNames)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO plants
		(plant_id, scientific_name, common_names, description, photo_link, photo_hash, last_modified, admin_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		id, plant.ScientificName, names, plant.Description, plant.PhotoLink, plant.PhotoHash, s.timestamp(), nullIfEmpty(plant.AdminID))
	if err != nil {
		return "", fmt.Errorf("failed to insert plant: %w", s.translate(err))
	}
	return id, nil
}

func (s *sqlDatabase) UpdatePlant(ctx context.Context, id string, update PlantUpdate) (err error) {
	names, err := encodeNames(update.CommonNames)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var result sql.Result
	if update.replacesPhoto() {
		result, err = tx.ExecContext(ctx, s.rebind(`UPDATE plants
			SET scientific_name = ?, common_names = ?, description = ?, photo_link = ?, photo_hash = ?, last_modified = ?
			WHERE plant_id = ?`),
			update.ScientificName, names, update.Description, update.PhotoLink, update.PhotoHash, s.timestamp(), id)
	} else {
		result, err = tx.ExecContext(ctx, s.rebind(`UPDATE plants
			SET scientific_name = ?, common_names = ?, description = ?, last_modified = ?
			WHERE plant_id = ?`),
			update.ScientificName, names, update.Description, s.timestamp(), id)
	}
	if err != nil {
		return fmt.Errorf("failed to update plant %s: %w", id, s.translate(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update plant %s: %w", id, err)
	}
	if affected == 0 {
		err = fmt.Errorf("failed to update plant %s: %w", id, ErrNotFound)
		return err
	}

	if update.EditorID != "" {
		if _, err = tx.ExecContext(ctx, s.rebind(`UPDATE administrators SET edits = edits + 1 WHERE admin_id = ?`), update.EditorID); err != nil {
			return fmt.Errorf("failed to count edit for administrator %s: %w", update.EditorID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit plant update: %w", err)
	}
	return nil
}

func (s *sqlDatabase) DeletePlant(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM plants WHERE plant_id = ?"), id)
	if err != nil {
		return fmt.Errorf("failed to delete plant %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete plant %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("failed to delete plant %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *sqlDatabase) GetPlantByID(ctx context.Context, id string) (*Plant, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+plantColumns+" FROM plants WHERE plant_id = ?"), id)
	plant, err := scanPlant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plant %s: %w", id, err)
	}
	return plant, nil
}

func (s *sqlDatabase) GetPlantByScientificName(ctx context.Context, scientificName string) (*Plant, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+plantColumns+" FROM plants WHERE scientific_name = ?"), scientificName)
	plant, err := scanPlant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plant by scientific name: %w", err)
	}
	return plant, nil
}

func (s *sqlDatabase) ListPlantSummaries(ctx context.Context) ([]*PlantSummary, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT plant_id, scientific_name, last_modified FROM plants ORDER BY scientific_name")
	if err != nil {
		return nil, fmt.Errorf("failed to list plants: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var plants []*PlantSummary
	for rows.Next() {
		var p PlantSummary
		if err := rows.Scan(&p.ID, &p.ScientificName, &p.LastModified); err != nil {
			return nil, fmt.Errorf("failed to scan plant: %w", err)
		}
		plants = append(plants, &p)
	}
	return plants, rows.Err()
}

func (s *sqlDatabase) RandomPlants(ctx context.Context, limit int) ([]*Plant, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind("SELECT "+plantColumns+" FROM plants ORDER BY RANDOM() LIMIT ?"), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select random plants: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var plants []*Plant
	for rows.Next() {
		plant, err := scanPlant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plant: %w", err)
		}
		plants = append(plants, plant)
	}
	return plants, rows.Err()
}

func (s *sqlDatabase) InsertQRCode(ctx context.Context, qr NewQRCode) (string, error) {
	id, err := generateID()
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO qr_codes (qr_id, plant_id, qr_link, qr_hash, destination, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		id, qr.PlantID, qr.Link, qr.Hash, qr.Destination, s.timestamp())
	if err != nil {
		return "", fmt.Errorf("failed to insert qr code for plant %s: %w", qr.PlantID, err)
	}
	return id, nil
}

func (s *sqlDatabase) GetQRCodeByPlantID(ctx context.Context, plantID string) (*QRCode, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT qr_id, plant_id, qr_link, qr_hash, destination, created_at
		FROM qr_codes WHERE plant_id = ?`), plantID)
	var qr QRCode
	err := row.Scan(&qr.ID, &qr.PlantID, &qr.Link, &qr.Hash, &qr.Destination, &qr.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get qr code for plant %s: %w", plantID, err)
	}
	return &qr, nil
}

func (s *sqlDatabase) InsertRating(ctx context.Context, plantID string, value int) (string, error) {
	id, err := generateID()
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO ratings (rating_id, plant_id, rating_value, created_at) VALUES (?, ?, ?, ?)`),
		id, plantID, value, s.timestamp())
	if err != nil {
		return "", fmt.Errorf("failed to insert rating for plant %s: %w", plantID, err)
	}
	return id, nil
}

func (s *sqlDatabase) queryRatings(ctx context.Context, query string, args ...any) ([]*Rating, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ratings: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ratings []*Rating
	for rows.Next() {
		var r Rating
		if err := rows.Scan(&r.ID, &r.PlantID, &r.Value, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rating: %w", err)
		}
		ratings = append(ratings, &r)
	}
	return ratings, rows.Err()
}

func (s *sqlDatabase) ListRatingsForPlant(ctx context.Context, plantID string) ([]*Rating, error) {
	return s.queryRatings(ctx, `SELECT rating_id, plant_id, rating_value, created_at
		FROM ratings WHERE plant_id = ? ORDER BY created_at`, plantID)
}

func (s *sqlDatabase) ListRatingsSince(ctx context.Context, since time.Time) ([]*Rating, error) {
	return s.queryRatings(ctx, `SELECT rating_id, plant_id, rating_value, created_at
		FROM ratings WHERE created_at >= ? ORDER BY created_at`, since.UTC())
}

func (s *sqlDatabase) PlantRatingStats(ctx context.Context) ([]*PlantRatingStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT p.plant_id, p.scientific_name, COUNT(r.rating_id), COALESCE(SUM(r.rating_value), 0)
		FROM plants p LEFT JOIN ratings r ON r.plant_id = p.plant_id
		GROUP BY p.plant_id, p.scientific_name
		ORDER BY p.scientific_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query plant rating stats: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var stats []*PlantRatingStats
	for rows.Next() {
		var st PlantRatingStats
		if err := rows.Scan(&st.PlantID, &st.ScientificName, &st.Count, &st.Sum); err != nil {
			return nil, fmt.Errorf("failed to scan plant rating stats: %w", err)
		}
		stats = append(stats, &st)
	}
	return stats, rows.Err()
}

func (s *sqlDatabase) InsertAdministrator(ctx context.Context, admin NewAdministrator) (string, error) {
	id, err := generateID()
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO administrators (admin_id, first_name, last_name, email, edits, password_hash, created_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)`),
		id, admin.FirstName, admin.LastName, strings.ToLower(admin.Email), admin.PasswordHash, s.timestamp())
	if err != nil {
		return "", fmt.Errorf("failed to insert administrator %s: %w", admin.Email, err)
	}
	return id, nil
}

const administratorColumns = `admin_id, first_name, last_name, email, edits, password_hash, created_at`

func scanAdministrator(row rowScanner) (*Administrator, error) {
	var a Administrator
	if err := row.Scan(&a.ID, &a.FirstName, &a.LastName, &a.Email, &a.Edits, &a.PasswordHash, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *sqlDatabase) GetAdministratorByID(ctx context.Context, id string) (*Administrator, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+administratorColumns+" FROM administrators WHERE admin_id = ?"), id)
	admin, err := scanAdministrator(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get administrator %s: %w", id, err)
	}
	return admin, nil
}

func (s *sqlDatabase) GetAdministratorByEmail(ctx context.Context, email string) (*Administrator, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+administratorColumns+" FROM administrators WHERE email = ?"), strings.ToLower(email))
	admin, err := scanAdministrator(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get administrator by email: %w", err)
	}
	return admin, nil
}

func (s *sqlDatabase) ListAdministrators(ctx context.Context) ([]*Administrator, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+administratorColumns+" FROM administrators ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("failed to list administrators: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var admins []*Administrator
	for rows.Next() {
		admin, err := scanAdministrator(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan administrator: %w", err)
		}
		admins = append(admins, admin)
	}
	return admins, rows.Err()
}

func (s *sqlDatabase) AdministratorContributions(ctx context.Context) ([]*AdministratorContribution, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT a.admin_id, a.first_name, a.last_name, a.email, a.edits, a.created_at, COUNT(p.plant_id)
		FROM administrators a LEFT JOIN plants p ON p.admin_id = a.admin_id
		GROUP BY a.admin_id, a.first_name, a.last_name, a.email, a.edits, a.created_at
		ORDER BY a.created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query administrator contributions: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var contributions []*AdministratorContribution
	for rows.Next() {
		var c AdministratorContribution
		if err := rows.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Edits, &c.CreatedAt, &c.PlantsAdded); err != nil {
			return nil, fmt.Errorf("failed to scan administrator contribution: %w", err)
		}
		contributions = append(contributions, &c)
	}
	return contributions, rows.Err()
}

func (s *sqlDatabase) Counts(ctx context.Context) (*Counts, error) {
	var counts Counts
	targets := []struct {
		table string
		dest  *int
	}{
		{"plants", &counts.Plants},
		{"ratings", &counts.Ratings},
		{"administrators", &counts.Administrators},
	}
	for _, target := range targets {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+target.table).Scan(target.dest); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", target.table, err)
		}
	}
	return &counts, nil
}

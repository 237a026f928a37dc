// Package reports aggregates catalog data into the public reports.
package reports

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ubtreetrack/treetrack/internal/backend/database"
)

const (
	DefaultTimeZone = "America/Belize"
	TrendMonths     = 6

	monthLayout       = "January 2006"
	generatedAtLayout = "January 2, 2006, 3:04:05 PM"
)

// Names of the available reports, as used in URLs.
const (
	AdminContributions = "admin-contributions"
	PlantPopularity    = "plant-popularity"
	PlantRatingsTrend  = "plant-ratings-trend"
	DatabaseStatistics = "database-statistics"
)

var ErrUnknownReport = errors.New("unknown report")

var Names = []string{AdminContributions, PlantPopularity, PlantRatingsTrend, DatabaseStatistics}

// Source is the part of the record store the reports read from.
type Source interface {
	AdministratorContributions(ctx context.Context) ([]*database.AdministratorContribution, error)
	PlantRatingStats(ctx context.Context) ([]*database.PlantRatingStats, error)
	ListRatingsSince(ctx context.Context, since time.Time) ([]*database.Rating, error)
	Counts(ctx context.Context) (*database.Counts, error)
}

type Contribution struct {
	AdminID     string `json:"admin_id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	PlantsAdded int    `json:"plants_added"`
	Edits       int    `json:"edits"`
}

func (c Contribution) Score() int {
	return c.PlantsAdded + c.Edits
}

type Popularity struct {
	PlantID        string   `json:"plant_id"`
	ScientificName string   `json:"scientific_name"`
	RatingCount    int      `json:"rating_count"`
	Average        *float64 `json:"average_rating"`
}

// DisplayAverage rounds to two decimals, or "None" without ratings.
func (p Popularity) DisplayAverage() string {
	return FormatAverage(p.Average)
}

func FormatAverage(average *float64) string {
	if average == nil {
		return "None"
	}
	return fmt.Sprintf("%.2f", *average)
}

type TrendBucket struct {
	Month   string `json:"month"`
	Ratings int    `json:"ratings"`
}

type Statistic struct {
	Name  string `json:"name"`
	Total int    `json:"total"`
}

// Report pairs rows with the moment they were generated.
type Report[T any] struct {
	Title       string    `json:"title"`
	GeneratedAt time.Time `json:"generated_at"`
	Rows        []T       `json:"rows"`
	location    *time.Location
}

// GeneratedAtText renders GeneratedAt in the report time zone.
func (r Report[T]) GeneratedAtText() string {
	loc := r.location
	if loc == nil {
		loc = time.UTC
	}
	return r.GeneratedAt.In(loc).Format(generatedAtLayout)
}

// RankContributions sorts administrators by plants added plus edits, highest first.
// Ties keep the input order.
func RankContributions(contributions []*database.AdministratorContribution) []Contribution {
	rows := make([]Contribution, 0, len(contributions))
	for _, c := range contributions {
		rows = append(rows, Contribution{
			AdminID:     c.ID,
			Name:        c.FullName(),
			Email:       c.Email,
			PlantsAdded: c.PlantsAdded,
			Edits:       c.Edits,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Score() > rows[j].Score()
	})
	return rows
}

// RankPopularity orders plants by average rating, highest first, counting plants without
// ratings as zero. Ties stay in scientific-name order.
func RankPopularity(stats []*database.PlantRatingStats) []Popularity {
	rows := make([]Popularity, 0, len(stats))
	for _, s := range stats {
		row := Popularity{PlantID: s.PlantID, ScientificName: s.ScientificName, RatingCount: s.Count}
		if s.Count > 0 {
			average := float64(s.Sum) / float64(s.Count)
			row.Average = &average
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].ScientificName < rows[j].ScientificName
	})
	sort.SliceStable(rows, func(i, j int) bool {
		return averageOrZero(rows[i].Average) > averageOrZero(rows[j].Average)
	})
	return rows
}

func averageOrZero(average *float64) float64 {
	if average == nil {
		return 0
	}
	return *average
}

// TrendStart is the first instant of the month five months before now, in loc.
func TrendStart(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month()-(TrendMonths-1), 1, 0, 0, 0, 0, loc)
}

// RatingsTrend counts ratings per calendar month for the six months ending with the month of
// now. Buckets are chronological and zero-filled; ratings outside the window are ignored.
func RatingsTrend(ratings []*database.Rating, now time.Time, loc *time.Location) []TrendBucket {
	start := TrendStart(now, loc)

	buckets := make([]TrendBucket, TrendMonths)
	index := make(map[string]int, TrendMonths)
	for i := range buckets {
		month := start.AddDate(0, i, 0).Format(monthLayout)
		buckets[i] = TrendBucket{Month: month}
		index[month] = i
	}

	for _, r := range ratings {
		if r.CreatedAt.Before(start) {
			continue
		}
		if i, ok := index[r.CreatedAt.In(loc).Format(monthLayout)]; ok {
			buckets[i].Ratings++
		}
	}
	return buckets
}

func Statistics(counts *database.Counts) []Statistic {
	return []Statistic{
		{Name: "Plants", Total: counts.Plants},
		{Name: "Ratings", Total: counts.Ratings},
		{Name: "Administrators", Total: counts.Administrators},
	}
}

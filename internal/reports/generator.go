package reports

import (
	"context"
	"fmt"
	"time"
	_ "time/tzdata"
)

// Generator loads report data from a Source and aggregates it in one time zone.
type Generator struct {
	source   Source
	location *time.Location
	now      func() time.Time
}

// NewGenerator falls back to America/Belize when timeZone is empty.
func NewGenerator(source Source, timeZone string) (*Generator, error) {
	if timeZone == "" {
		timeZone = DefaultTimeZone
	}
	loc, err := time.LoadLocation(timeZone)
	if err != nil {
		return nil, fmt.Errorf("failed to load report time zone %q: %w", timeZone, err)
	}
	return &Generator{source: source, location: loc, now: time.Now}, nil
}

func (g *Generator) Location() *time.Location {
	return g.location
}

func newReport[T any](g *Generator, title string, rows []T) *Report[T] {
	return &Report[T]{Title: title, GeneratedAt: g.now(), Rows: rows, location: g.location}
}

func (g *Generator) AdminContributions(ctx context.Context) (*Report[Contribution], error) {
	contributions, err := g.source.AdministratorContributions(ctx)
	if err != nil {
		return nil, err
	}
	return newReport(g, "Administrator Contributions", RankContributions(contributions)), nil
}

func (g *Generator) PlantPopularity(ctx context.Context) (*Report[Popularity], error) {
	stats, err := g.source.PlantRatingStats(ctx)
	if err != nil {
		return nil, err
	}
	return newReport(g, "Plant Popularity Report", RankPopularity(stats)), nil
}

func (g *Generator) PlantRatingsTrend(ctx context.Context) (*Report[TrendBucket], error) {
	now := g.now()
	ratings, err := g.source.ListRatingsSince(ctx, TrendStart(now, g.location))
	if err != nil {
		return nil, err
	}
	return newReport(g, "Plant Ratings Trend", RatingsTrend(ratings, now, g.location)), nil
}

func (g *Generator) DatabaseStatistics(ctx context.Context) (*Report[Statistic], error) {
	counts, err := g.source.Counts(ctx)
	if err != nil {
		return nil, err
	}
	return newReport(g, "System Database Statistics", Statistics(counts)), nil
}

// Generate builds the report with the given name, for callers that pick reports by URL.
func (g *Generator) Generate(ctx context.Context, name string) (any, error) {
	switch name {
	case AdminContributions:
		return g.AdminContributions(ctx)
	case PlantPopularity:
		return g.PlantPopularity(ctx)
	case PlantRatingsTrend:
		return g.PlantRatingsTrend(ctx)
	case DatabaseStatistics:
		return g.DatabaseStatistics(ctx)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownReport, name)
	}
}

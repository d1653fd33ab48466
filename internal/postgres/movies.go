package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MrSnakeDoc/bootgate/internal/domain"
)

// MoviesTable is the DDL of the primary movies table.
const MoviesTable = `
CREATE TABLE IF NOT EXISTS movies (
	id          UUID PRIMARY KEY,
	imdb_rating REAL,
	genres      JSONB NOT NULL,
	title       VARCHAR(255) NOT NULL,
	description TEXT,
	directors   JSONB NOT NULL,
	actors      JSONB NOT NULL,
	writers     JSONB NOT NULL
)`

const selectMovies = `
SELECT id::text, title, COALESCE(description, ''), COALESCE(imdb_rating, 0)::float8,
       genres, actors, writers, directors
FROM movies
WHERE COALESCE(imdb_rating, 0) > $1
ORDER BY id`

// MovieSource reads movies from the primary store.
type MovieSource struct {
	db querier
}

// NewMovieSource wraps a pool.
func NewMovieSource(db querier) *MovieSource {
	return &MovieSource{db: db}
}

// EnsureSchema creates the movies table if it does not exist.
func (s *MovieSource) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, MoviesTable); err != nil {
		return fmt.Errorf("failed to create movies table: %w", err)
	}
	return nil
}

// Stream calls fn for every movie rated above minRating, in id order. It
// stops at the first error returned by fn.
func (s *MovieSource) Stream(ctx context.Context, minRating float64, fn func(domain.Movie) error) (int, error) {
	rows, err := s.db.Query(ctx, selectMovies, minRating)
	if err != nil {
		return 0, fmt.Errorf("failed to query movies: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var m domain.Movie
		var genres, actors, writers, directors []byte
		if err := rows.Scan(&m.ID, &m.Title, &m.Description, &m.IMDbRating,
			&genres, &actors, &writers, &directors); err != nil {
			return count, fmt.Errorf("failed to scan movie: %w", err)
		}
		if err := decodeRelations(&m, genres, actors, writers, directors); err != nil {
			return count, fmt.Errorf("movie %s: %w", m.ID, err)
		}
		if err := fn(m); err != nil {
			return count, err
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, fmt.Errorf("failed to read movies: %w", err)
	}
	return count, nil
}

func decodeRelations(m *domain.Movie, genres, actors, writers, directors []byte) error {
	fields := []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"genres", genres, &m.Genres},
		{"actors", actors, &m.Actors},
		{"writers", writers, &m.Writers},
		{"directors", directors, &m.Directors},
	}
	for _, f := range fields {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return fmt.Errorf("invalid %s: %w", f.name, err)
		}
	}
	return nil
}

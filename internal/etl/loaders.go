package etl

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MrSnakeDoc/bootgate/internal/domain"
	"github.com/MrSnakeDoc/bootgate/internal/elastic"
	"github.com/MrSnakeDoc/bootgate/internal/logger"
)

// loadMovies copies movies above the rating threshold into the movies index.
// The index is created if missing and never dropped; documents are keyed by
// movie id so a re-run overwrites.
func (l *Loader) loadMovies(ctx context.Context) error {
	created, err := l.index.EnsureIndex(ctx, l.opts.MoviesIndex, elastic.MoviesMapping())
	if err != nil {
		return err
	}
	if created {
		l.logger.Info("movies index created", logger.String("index", l.opts.MoviesIndex))
	}

	batch := make([]elastic.Doc, 0, l.opts.BatchSize)
	batches := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := l.bulk(ctx, l.opts.MoviesIndex, batch); err != nil {
			return fmt.Errorf("batch %d: %w", batches+1, err)
		}
		batches++
		l.logger.Debug("movies batch indexed",
			logger.Int("batch", batches),
			logger.Int("size", len(batch)))
		batch = batch[:0]
		return nil
	}

	n, err := l.source.Stream(ctx, l.opts.MinRating, func(m domain.Movie) error {
		batch = append(batch, elastic.Doc{ID: m.ID, Source: m})
		if len(batch) >= l.opts.BatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := flush(); err != nil {
		return err
	}
	if err := l.index.Refresh(ctx, l.opts.MoviesIndex); err != nil {
		return err
	}

	l.logger.Info("movies loaded",
		logger.String("index", l.opts.MoviesIndex),
		logger.Int("movies", n),
		logger.Int("batches", batches))
	return nil
}

// scanMovies feeds every document of the movies index to fn.
func (l *Loader) scanMovies(ctx context.Context, fn func(domain.Movie)) (int, error) {
	skipped := 0
	n, err := l.index.Scan(ctx, l.opts.MoviesIndex, l.opts.BatchSize, 0, func(raw json.RawMessage) error {
		var m domain.Movie
		if err := json.Unmarshal(raw, &m); err != nil {
			skipped++
			return nil
		}
		fn(m)
		return nil
	})
	if skipped > 0 {
		l.logger.Warn("skipped undecodable movie documents", logger.Int("count", skipped))
	}
	return n, err
}

// loadGenres rebuilds the genres index from the genres embedded in movies.
func (l *Loader) loadGenres(ctx context.Context) error {
	set := domain.NewGenreSet()
	if _, err := l.scanMovies(ctx, set.Add); err != nil {
		return fmt.Errorf("extracting genres: %w", err)
	}
	if set.Invalid > 0 {
		l.logger.Warn("ignored malformed genres", logger.Int("count", set.Invalid))
	}

	if err := l.index.RecreateIndex(ctx, l.opts.GenresIndex, elastic.GenresMapping()); err != nil {
		return err
	}

	genres := set.List()
	docs := make([]elastic.Doc, 0, len(genres))
	for _, g := range genres {
		docs = append(docs, elastic.Doc{ID: g.ID, Source: g})
	}
	if err := l.bulkInBatches(ctx, l.opts.GenresIndex, docs); err != nil {
		return err
	}

	l.logger.Info("genres loaded",
		logger.String("index", l.opts.GenresIndex),
		logger.Int("genres", len(docs)))
	return nil
}

// loadPersons rebuilds the persons index from movie credits.
func (l *Loader) loadPersons(ctx context.Context) error {
	set := domain.NewPersonSet()
	if _, err := l.scanMovies(ctx, set.Add); err != nil {
		return fmt.Errorf("extracting persons: %w", err)
	}
	if set.Invalid > 0 {
		l.logger.Warn("ignored malformed credits", logger.Int("count", set.Invalid))
	}

	if err := l.index.RecreateIndex(ctx, l.opts.PersonsIndex, elastic.PersonsMapping()); err != nil {
		return err
	}

	persons := set.List()
	docs := make([]elastic.Doc, 0, len(persons))
	for _, p := range persons {
		docs = append(docs, elastic.Doc{ID: p.DocID(), Source: p})
	}
	if err := l.bulkInBatches(ctx, l.opts.PersonsIndex, docs); err != nil {
		return err
	}

	l.logger.Info("persons loaded",
		logger.String("index", l.opts.PersonsIndex),
		logger.Int("persons", len(docs)))
	return nil
}

func (l *Loader) bulkInBatches(ctx context.Context, index string, docs []elastic.Doc) error {
	for start := 0; start < len(docs); start += l.opts.BatchSize {
		end := min(start+l.opts.BatchSize, len(docs))
		if err := l.bulk(ctx, index, docs[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// Package etl provides the built-in bootstrap stage actions that populate the
// search indexes from the primary store.
package etl

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/MrSnakeDoc/bootgate/internal/domain"
	"github.com/MrSnakeDoc/bootgate/internal/elastic"
	"github.com/MrSnakeDoc/bootgate/internal/logger"
	"github.com/MrSnakeDoc/bootgate/internal/stage"
)

// Built-in action names usable from the plan file.
const (
	ActionMoviesSchema = "movies_schema"
	ActionLoadMovies   = "load_movies"
	ActionLoadGenres   = "load_genres"
	ActionLoadPersons  = "load_persons"
)

// MovieSource is the primary store side.
type MovieSource interface {
	EnsureSchema(ctx context.Context) error
	Stream(ctx context.Context, minRating float64, fn func(domain.Movie) error) (int, error)
}

// Indexer is the search engine side.
type Indexer interface {
	EnsureIndex(ctx context.Context, name string, mapping map[string]any) (bool, error)
	RecreateIndex(ctx context.Context, name string, mapping map[string]any) error
	BulkIndex(ctx context.Context, index string, docs []elastic.Doc) error
	Refresh(ctx context.Context, index string) error
	Scan(ctx context.Context, index string, size int, keepAlive time.Duration, fn func(json.RawMessage) error) (int, error)
}

// Options tunes the loaders.
type Options struct {
	MoviesIndex  string
	GenresIndex  string
	PersonsIndex string
	MinRating    float64
	BatchSize    int
	BulkRate     float64 // bulk requests per second, 0 = unlimited
}

func (o Options) withDefaults() Options {
	if o.MoviesIndex == "" {
		o.MoviesIndex = "movies"
	}
	if o.GenresIndex == "" {
		o.GenresIndex = "genres"
	}
	if o.PersonsIndex == "" {
		o.PersonsIndex = "persons"
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
	return o
}

// Loader builds the ETL stage actions. source or index may be nil when the
// plan does not use the actions that need them.
type Loader struct {
	source  MovieSource
	index   Indexer
	logger  logger.Logger
	limiter *rate.Limiter
	opts    Options
}

// NewLoader creates a Loader.
func NewLoader(source MovieSource, index Indexer, log logger.Logger, opts Options) *Loader {
	opts = opts.withDefaults()
	limit := rate.Inf
	if opts.BulkRate > 0 {
		limit = rate.Limit(opts.BulkRate)
	}
	return &Loader{
		source:  source,
		index:   index,
		logger:  log,
		limiter: rate.NewLimiter(limit, 1),
		opts:    opts,
	}
}

// Action resolves a built-in action name.
func (l *Loader) Action(name string) (stage.Action, error) {
	var fn stage.ActionFunc
	switch name {
	case ActionMoviesSchema:
		fn = l.moviesSchema
	case ActionLoadMovies:
		fn = l.loadMovies
	case ActionLoadGenres:
		fn = l.loadGenres
	case ActionLoadPersons:
		fn = l.loadPersons
	default:
		return nil, fmt.Errorf("unknown action %q", name)
	}

	needsSource, needsIndex := Needs(name)
	if needsSource && l.source == nil {
		return nil, fmt.Errorf("action %q needs a postgres connection", name)
	}
	if needsIndex && l.index == nil {
		return nil, fmt.Errorf("action %q needs an elasticsearch connection", name)
	}
	return fn, nil
}

// Needs reports which connections a built-in action reads or writes.
func Needs(action string) (source, index bool) {
	switch action {
	case ActionMoviesSchema:
		return true, false
	case ActionLoadMovies:
		return true, true
	case ActionLoadGenres, ActionLoadPersons:
		return false, true
	}
	return false, false
}

// IsBuiltin reports whether name is a built-in action.
func IsBuiltin(name string) bool {
	switch name {
	case ActionMoviesSchema, ActionLoadMovies, ActionLoadGenres, ActionLoadPersons:
		return true
	}
	return false
}

func (l *Loader) moviesSchema(ctx context.Context) error {
	if err := l.source.EnsureSchema(ctx); err != nil {
		return err
	}
	l.logger.Info("movies table ready")
	return nil
}

// bulk sends docs once the limiter allows it.
func (l *Loader) bulk(ctx context.Context, index string, docs []elastic.Doc) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	return l.index.BulkIndex(ctx, index, docs)
}

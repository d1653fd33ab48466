package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrSnakeDoc/bootgate/internal/etl"
	"github.com/MrSnakeDoc/bootgate/internal/handoff"
	"github.com/MrSnakeDoc/bootgate/internal/orchestrator"
	"github.com/MrSnakeDoc/bootgate/internal/probe"
)

// Ledger backends.
const (
	LedgerFile     = "file"
	LedgerSQLite   = "sqlite"
	LedgerRedis    = "redis"
	LedgerPostgres = "postgres"
)

const (
	defaultLedgerFile   = "/var/lib/bootgate/marker.json"
	defaultLedgerSQLite = "/var/lib/bootgate/ledger.db"
	defaultInterval     = time.Second
)

// Plan is the bootstrap plan file.
type Plan struct {
	DeploymentID     string           `yaml:"deployment_id,omitempty"`
	Policy           string           `yaml:"policy,omitempty"`
	ReadinessTimeout time.Duration    `yaml:"readiness_timeout,omitempty"`
	Ledger           LedgerSpec       `yaml:"ledger"`
	Dependencies     []DependencySpec `yaml:"dependencies"`
	Stages           []StageSpec      `yaml:"stages"`
	Handoff          HandoffSpec      `yaml:"handoff"`
	ETL              ETLSpec          `yaml:"etl,omitempty"`
}

type LedgerSpec struct {
	Backend  string        `yaml:"backend,omitempty"`
	Path     string        `yaml:"path,omitempty"`
	LockTTL  time.Duration `yaml:"lock_ttl,omitempty"`
	LockPoll time.Duration `yaml:"lock_poll,omitempty"`
}

type DependencySpec struct {
	Name           string        `yaml:"name"`
	Kind           string        `yaml:"kind"`
	Target         string        `yaml:"target,omitempty"`
	Interval       time.Duration `yaml:"interval,omitempty"`
	MaxInterval    time.Duration `yaml:"max_interval,omitempty"`
	Backoff        float64       `yaml:"backoff,omitempty"`
	Retries        int           `yaml:"retries,omitempty"`
	Budget         time.Duration `yaml:"budget,omitempty"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout,omitempty"`
	StartDelay     time.Duration `yaml:"start_delay,omitempty"`
	Critical       *bool         `yaml:"critical,omitempty"` // for /infra, defaults to true
}

// StageSpec names either a built-in action or an external command.
type StageSpec struct {
	Ordinal    int               `yaml:"ordinal,omitempty"` // defaults to the 1-based position
	Name       string            `yaml:"name"`
	Action     string            `yaml:"action,omitempty"`
	Command    []string          `yaml:"command,omitempty"`
	Env        map[string]string `yaml:"env,omitempty"`
	Dir        string            `yaml:"dir,omitempty"`
	Idempotent bool              `yaml:"idempotent"`
	Timeout    time.Duration     `yaml:"timeout,omitempty"`
}

type HandoffSpec struct {
	Mode    string            `yaml:"mode"`
	Command []string          `yaml:"command,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
}

type ETLSpec struct {
	MoviesIndex  string  `yaml:"movies_index,omitempty"`
	GenresIndex  string  `yaml:"genres_index,omitempty"`
	PersonsIndex string  `yaml:"persons_index,omitempty"`
	MinRating    float64 `yaml:"min_rating,omitempty"`
	BatchSize    int     `yaml:"batch_size,omitempty"`
	BulkRate     float64 `yaml:"bulk_rate,omitempty"`
}

// LoadPlan reads, expands and validates a plan file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	return ParsePlan(data)
}

// ParsePlan expands ${VAR} references from the environment, decodes the
// YAML strictly and applies defaults.
func ParsePlan(data []byte) (*Plan, error) {
	expanded, err := expandEnv(data)
	if err != nil {
		return nil, err
	}

	var p Plan
	dec := yaml.NewDecoder(bytes.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&p); errors.Is(err, io.EOF) {
		return nil, errors.New("plan file is empty")
	} else if err != nil {
		return nil, fmt.Errorf("failed to parse plan yaml: %w", err)
	}

	p.applyDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandEnv replaces ${VAR} and ${VAR:-default}. A reference to an unset
// variable without a default is an error. Bare $VAR is left alone so that
// shell commands survive untouched.
func expandEnv(data []byte) ([]byte, error) {
	var missing []string
	out := envRef.ReplaceAllFunc(data, func(m []byte) []byte {
		sub := envRef.FindSubmatch(m)
		name := string(sub[1])
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return []byte(v)
		}
		if len(sub[2]) > 0 {
			return sub[3]
		}
		missing = append(missing, name)
		return nil
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("plan references unset environment variables: %v", missing)
	}
	return out, nil
}

func (p *Plan) applyDefaults() {
	if p.Policy == "" {
		p.Policy = string(orchestrator.PolicyOnce)
	}
	if p.Ledger.Backend == "" {
		p.Ledger.Backend = LedgerFile
	}
	if p.Ledger.Path == "" {
		switch p.Ledger.Backend {
		case LedgerFile:
			p.Ledger.Path = defaultLedgerFile
		case LedgerSQLite:
			p.Ledger.Path = defaultLedgerSQLite
		}
	}
	if p.Handoff.Mode == "" {
		p.Handoff.Mode = handoff.ModeNone
	}
	for i := range p.Dependencies {
		d := &p.Dependencies[i]
		if d.Interval == 0 {
			d.Interval = defaultInterval
		}
		if d.Backoff == 0 {
			d.Backoff = 1
		}
		if d.MaxInterval == 0 {
			d.MaxInterval = d.Interval
		}
	}
	for i := range p.Stages {
		if p.Stages[i].Ordinal == 0 {
			p.Stages[i].Ordinal = i + 1
		}
	}
}

// Validate enforces the plan invariants and reports every violation.
func (p *Plan) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if _, err := orchestrator.ParsePolicy(p.Policy); err != nil {
		errs = append(errs, err)
	}

	switch p.Ledger.Backend {
	case LedgerFile, LedgerSQLite:
		if p.Ledger.Path == "" {
			add("ledger.path is required for the %s backend", p.Ledger.Backend)
		}
	case LedgerRedis, LedgerPostgres:
	default:
		add("unknown ledger backend %q", p.Ledger.Backend)
	}

	names := make(map[string]bool, len(p.Dependencies))
	for i, d := range p.Dependencies {
		where := fmt.Sprintf("dependencies[%d]", i)
		if d.Name == "" {
			add("%s: name is required", where)
		} else if names[d.Name] {
			add("%s: duplicate dependency name %q", where, d.Name)
		}
		names[d.Name] = true

		kind := probe.Kind(d.Kind)
		if !kind.Valid() {
			add("%s: unknown kind %q", where, d.Kind)
		}
		if (kind == probe.KindHTTP || kind == probe.KindTCP) && d.Target == "" {
			add("%s: target is required for %s checks", where, d.Kind)
		}
		if d.Interval <= 0 {
			add("%s: interval must be positive", where)
		}
		if d.MaxInterval < d.Interval {
			add("%s: max_interval must be >= interval", where)
		}
		if d.Backoff < 1 {
			add("%s: backoff must be >= 1", where)
		}
		if d.Retries < 0 {
			add("%s: retries must not be negative", where)
		}
		if d.Budget < 0 || d.AttemptTimeout < 0 || d.StartDelay < 0 {
			add("%s: durations must not be negative", where)
		}
	}

	ordinals := make(map[int]bool, len(p.Stages))
	stageNames := make(map[string]bool, len(p.Stages))
	for i, s := range p.Stages {
		where := fmt.Sprintf("stages[%d]", i)
		if s.Name == "" {
			add("%s: name is required", where)
		} else if stageNames[s.Name] {
			add("%s: duplicate stage name %q", where, s.Name)
		}
		stageNames[s.Name] = true
		if ordinals[s.Ordinal] {
			add("%s: duplicate ordinal %d", where, s.Ordinal)
		}
		ordinals[s.Ordinal] = true
		if (s.Action == "") == (len(s.Command) == 0) {
			add("%s: exactly one of action or command is required", where)
		}
		if s.Timeout < 0 {
			add("%s: timeout must not be negative", where)
		}
	}

	switch p.Handoff.Mode {
	case handoff.ModeExec:
		if len(p.Handoff.Command) == 0 || p.Handoff.Command[0] == "" {
			add("handoff.command is required in exec mode")
		}
	case handoff.ModeServe, handoff.ModeNone:
		if len(p.Handoff.Command) > 0 {
			add("handoff.command is only valid in exec mode")
		}
	default:
		add("unknown handoff mode %q", p.Handoff.Mode)
	}

	if p.ReadinessTimeout < 0 {
		add("readiness_timeout must not be negative")
	}
	if p.ETL.BatchSize < 0 || p.ETL.BulkRate < 0 {
		add("etl.batch_size and etl.bulk_rate must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid plan: %w", errors.Join(errs...))
	}
	return nil
}

// Dependency converts the spec into the probe model.
func (d DependencySpec) Dependency() probe.Dependency {
	return probe.Dependency{
		Name:           d.Name,
		Kind:           probe.Kind(d.Kind),
		Target:         d.Target,
		Interval:       d.Interval,
		MaxInterval:    d.MaxInterval,
		Backoff:        d.Backoff,
		Retries:        d.Retries,
		Budget:         d.Budget,
		AttemptTimeout: d.AttemptTimeout,
		StartDelay:     d.StartDelay,
	}
}

// Deployment returns the plan's deployment id, or fallback when the plan
// leaves it to the environment.
func (p *Plan) Deployment(fallback string) string {
	if p.DeploymentID != "" {
		return p.DeploymentID
	}
	return fallback
}

// IsCritical reports whether /infra treats a failure as critical.
func (d DependencySpec) IsCritical() bool {
	return d.Critical == nil || *d.Critical
}

// Uses reports whether the plan needs the service-wide client of kind: for
// the ledger backend, a dependency without its own target or a built-in
// stage action.
func (p *Plan) Uses(kind probe.Kind) bool {
	if string(kind) == p.Ledger.Backend {
		return true
	}
	for _, d := range p.Dependencies {
		if probe.Kind(d.Kind) == kind && d.Target == "" {
			return true
		}
	}
	for _, s := range p.Stages {
		source, index := etl.Needs(s.Action)
		if (source && kind == probe.KindPostgres) || (index && kind == probe.KindElasticsearch) {
			return true
		}
	}
	return false
}

package deps

import (
	"net/http"
	"time"

	"github.com/MrSnakeDoc/bootgate/internal/ledger"
	"github.com/MrSnakeDoc/bootgate/internal/logger"
	"github.com/MrSnakeDoc/bootgate/internal/probe"
)

// Component is one dependency reported by /infra.
type Component struct {
	Name     string
	Kind     probe.Kind
	Checker  probe.Checker
	Critical bool // a failing critical component marks the service "critical" instead of "degraded"
}

type Deps struct {
	Logger       logger.Logger
	StartTime    time.Time
	Version      string
	Commit       string
	BuildDate    string
	GoVersion    string
	TimeNow      func() time.Time // for testing, defaults to time.Now
	AllowedCIDRS []string         // IPs allowed to access the operational endpoints
	TrustProxy   bool             // true if running behind a trusted reverse proxy
	DeploymentID string
	Ledger       ledger.Ledger // source of truth for /readyz and /bootstrap
	Components   []Component   // checked by /infra
	CheckTimeout time.Duration // bound for a single /infra check
	Metrics      http.Handler  // nil disables /metrics
}

// Now returns the injected clock or time.Now.
func (d Deps) Now() time.Time {
	if d.TimeNow != nil {
		return d.TimeNow()
	}
	return time.Now()
}

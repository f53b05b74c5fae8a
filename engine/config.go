package engine

import (
	"time"

	"github.com/tensorbee/waypoint/internal/placeholder"
	"github.com/tensorbee/waypoint/internal/safety"
	"github.com/tensorbee/waypoint/internal/scan"
)

// RequireFailPolicy names how the engine reacts to a failing `require`
// guard (spec.md §4.4).
type RequireFailPolicy string

const (
	OnRequireFailError RequireFailPolicy = "error"
	OnRequireFailWarn  RequireFailPolicy = "warn"
	OnRequireFailSkip  RequireFailPolicy = "skip"
)

// Config is the engine's full configuration, passed as a value per
// spec.md §9 ("Configuration is passed as a value").
type Config struct {
	// Locations are the migration directories to scan.
	Locations []scan.ReadFileFS

	Schema       string
	HistoryTable string
	InstalledBy  string
	Environment  string // empty matches migrations with no env directive only

	URL              string
	ConnectRetries   int
	StatementTimeout time.Duration

	Placeholders          map[string]string
	OnUnknownPlaceholder  placeholder.OnUnknown

	OnRequireFail      RequireFailPolicy
	AllowEscapeSQL     bool
	DependencyOrdering bool
	OutOfOrder         bool
	ValidateOnMigrate  bool

	BatchMode       bool
	BlockOnDanger   bool
	SafetyOverride  bool // caller-supplied override flag
	Thresholds      safety.Thresholds

	CaptureReversal bool

	LockTimeout time.Duration // zero means block indefinitely
}

func (c *Config) thresholds() safety.Thresholds {
	if c.Thresholds == (safety.Thresholds{}) {
		return safety.DefaultThresholds
	}
	return c.Thresholds
}

package dashboard

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/datapulse/datapulse/internal/domain"
)

// SourceChecker verifies that a referenced data source exists.
type SourceChecker interface {
	Get(id string) (domain.DataSource, bool)
}

// validate checks a full dashboard document and reports every violation at
// once, so a client fixing a layout sees all problems in one round trip.
func validate(cfg domain.DashboardConfig, sources SourceChecker) error {
	var problems *multierror.Error

	if cfg.Name == "" {
		problems = multierror.Append(problems, fmt.Errorf("name is required"))
	} else if len(cfg.Name) > domain.DashboardNameMax {
		problems = multierror.Append(problems, fmt.Errorf("name exceeds %d characters", domain.DashboardNameMax))
	}

	if cfg.RefreshInterval != nil {
		if *cfg.RefreshInterval < domain.RefreshIntervalMin || *cfg.RefreshInterval > domain.RefreshIntervalMax {
			problems = multierror.Append(problems,
				fmt.Errorf("refreshInterval %d outside [%d, %d]", *cfg.RefreshInterval, domain.RefreshIntervalMin, domain.RefreshIntervalMax))
		}
	}

	if cfg.DataSourceID != "" && sources != nil {
		if _, ok := sources.Get(cfg.DataSourceID); !ok {
			problems = multierror.Append(problems, fmt.Errorf("data source %s not found", cfg.DataSourceID))
		}
	}

	seen := make(map[string]struct{}, len(cfg.Layout))
	for _, widget := range cfg.Layout {
		if widget.ID == "" {
			problems = multierror.Append(problems, fmt.Errorf("widget has no id"))
			continue
		}
		if _, dup := seen[widget.ID]; dup {
			problems = multierror.Append(problems, fmt.Errorf("duplicate widget id %q", widget.ID))
		}
		seen[widget.ID] = struct{}{}

		if !domain.ValidWidgetType(widget.Type) {
			problems = multierror.Append(problems, fmt.Errorf("widget %q has unknown type %q", widget.ID, widget.Type))
		}
		problems = appendPositionErrors(problems, widget)
	}

	// Pairwise overlap check; every violating pair is named, not just the
	// first one found.
	for i := 0; i < len(cfg.Layout); i++ {
		for j := i + 1; j < len(cfg.Layout); j++ {
			a, b := cfg.Layout[i], cfg.Layout[j]
			if a.Position.Overlaps(b.Position) {
				problems = multierror.Append(problems, fmt.Errorf("widgets %q and %q overlap", a.ID, b.ID))
			}
		}
	}

	if err := problems.ErrorOrNil(); err != nil {
		return &domain.EngineError{Code: domain.CodeValidation, Message: "invalid dashboard config", Err: err}
	}
	return nil
}

func appendPositionErrors(problems *multierror.Error, widget domain.WidgetLayout) *multierror.Error {
	pos := widget.Position
	if pos.W <= 0 || pos.H <= 0 {
		problems = multierror.Append(problems, fmt.Errorf("widget %q has non-positive size %dx%d", widget.ID, pos.W, pos.H))
	}
	if pos.X < 0 || pos.Y < 0 {
		problems = multierror.Append(problems, fmt.Errorf("widget %q has negative position (%d, %d)", widget.ID, pos.X, pos.Y))
	}
	if pos.X+pos.W > domain.GridColumns {
		problems = multierror.Append(problems, fmt.Errorf("widget %q extends past column %d", widget.ID, domain.GridColumns))
	}
	return problems
}

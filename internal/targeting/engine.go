package targeting

import (
	"log/slog"
	"time"
)

// Profile selects which categories run, in order, for one evaluation granularity.
type Profile struct {
	Scope      Scope
	Categories []Category
}

// PageProfile is whole-page targeting: exclusions are honoured. The nested
// schedule runs in full, exactly as for blocks.
func PageProfile() Profile {
	return Profile{
		Scope: ScopePage,
		Categories: []Category{
			CountryCategory{HonourExclusions: true},
			DeviceCategory{},
			BrowserCategory{},
			OSCategory{},
			LanguageCategory{},
			ScheduleCategory{},
		},
	}
}

// BlockProfile is per-block display conditions: exclude_countries is not part
// of the block document. The block's own date gates run before this profile.
func BlockProfile() Profile {
	return Profile{
		Scope: ScopeBlock,
		Categories: []Category{
			CountryCategory{},
			DeviceCategory{},
			BrowserCategory{},
			OSCategory{},
			LanguageCategory{},
			ScheduleCategory{},
		},
	}
}

// Engine is the orchestrator for visibility evaluation.
// It is stateless and safe for concurrent use.
type Engine struct {
	page   Profile
	block  Profile
	logger *slog.Logger
}

// New creates a new Engine.
// If logger is nil, it defaults to slog.Default().
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		page:   PageProfile(),
		block:  BlockProfile(),
		logger: logger,
	}
}

// Evaluate runs the profile's categories in order and returns the first failure.
// An empty RuleSet always allows.
func (e *Engine) Evaluate(profile Profile, rules RuleSet, req RequestContext) Decision {
	if rules.IsEmpty() {
		return Allow()
	}

	for _, category := range profile.Categories {
		ok, reason := category.Check(&rules, &req)
		if ok {
			continue
		}

		e.logger.Debug("visibility denied",
			slog.String("scope", string(profile.Scope)),
			slog.String("category", category.Name()),
			slog.String("reason", string(reason)),
		)
		return Deny(reason)
	}

	return Allow()
}

// EvaluatePage applies whole-page targeting. A deny carries the RuleSet's fallback target.
func (e *Engine) EvaluatePage(rules RuleSet, req RequestContext) Decision {
	decision := e.Evaluate(e.page, rules, req)
	if !decision.Allowed {
		decision.FallbackTarget = rules.FallbackTarget
	}
	return decision
}

// ShouldDisplay decides whether a block is shown.
//
// Two gates run before the block's conditions: the enabled flag and the
// block's own start/end dates. Either one failing short-circuits.
func (e *Engine) ShouldDisplay(block Block, req RequestContext) Decision {
	if !block.Enabled {
		return Deny(ReasonBlockDisabled)
	}

	if !blockInRange(block, req.Now) {
		return Deny(ReasonBlockOutOfRange)
	}

	return e.Evaluate(e.block, block.Conditions, req)
}

// VisibleBlocks returns the blocks that should be displayed, preserving order.
func (e *Engine) VisibleBlocks(blocks []Block, req RequestContext) []Block {
	visible := make([]Block, 0, len(blocks))
	for _, b := range blocks {
		if e.ShouldDisplay(b, req).Allowed {
			visible = append(visible, b)
		}
	}
	return visible
}

func blockInRange(block Block, now time.Time) bool {
	if block.StartDate == nil && block.EndDate == nil {
		return true
	}
	return Schedule{Start: block.StartDate, End: block.EndDate}.InDateRange(now)
}

package dataapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/hostuk/visibility/internal/cache"
	"github.com/hostuk/visibility/internal/logger"
	"github.com/hostuk/visibility/internal/observability"
	"github.com/hostuk/visibility/internal/targeting"
	"github.com/hostuk/visibility/internal/visitor"
)

var errPageNotFound = errors.New("page not found")

// handlePageAccess evaluates whole-page targeting for the calling request.
//
// Flow: L1 (memory) -> L2 (Redis) -> engine -> response. It answers 404 when
// the page has no snapshot and 500 when L2 cannot be read.
func (a *API) handlePageAccess(w http.ResponseWriter, r *http.Request) {
	rules, ok := a.loadRules(w, r)
	if !ok {
		return
	}

	req := a.extractor.Extract(r, targeting.ScopePage)
	decision := a.engine.EvaluatePage(rules.Targeting, req)
	recordDecision(targeting.ScopePage, decision)

	render.Status(r, http.StatusOK)
	render.JSON(w, r, AccessResponse{
		PageID:           rules.PageID,
		Version:          rules.Version,
		DecisionResponse: NewDecisionResponse(decision),
	})
}

// handleVisibleBlocks returns which of the page's blocks the calling request may see.
func (a *API) handleVisibleBlocks(w http.ResponseWriter, r *http.Request) {
	rules, ok := a.loadRules(w, r)
	if !ok {
		return
	}

	req := a.extractor.Extract(r, targeting.ScopeBlock)
	resp := BlocksResponse{
		PageID:  rules.PageID,
		Version: rules.Version,
		Visible: make([]int64, 0, len(rules.Blocks)),
		Hidden:  make([]HiddenBlock, 0),
	}

	for _, block := range rules.Blocks {
		decision := a.engine.ShouldDisplay(block, req)
		recordDecision(targeting.ScopeBlock, decision)

		if decision.Allowed {
			resp.Visible = append(resp.Visible, block.ID)
		} else {
			resp.Hidden = append(resp.Hidden, HiddenBlock{ID: block.ID, Reason: decision.Reason})
		}
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

// handleEvaluate evaluates an inline rule document. Malformed rule keys degrade
// to "no constraint" exactly as stored documents do.
func (a *API) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	if a.maxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, a.maxBodyBytes)
	}

	var in EvaluateRequest
	if err := render.DecodeJSON(r.Body, &in); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, http.StatusRequestEntityTooLarge, codeBodyTooLarge,
				fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		respondError(w, r, http.StatusBadRequest, codeInvalidJSON, "Invalid JSON payload: "+err.Error())
		return
	}

	scope := in.Scope
	if scope == "" {
		scope = targeting.ScopePage
	}
	if scope != targeting.ScopePage && scope != targeting.ScopeBlock {
		respondError(w, r, http.StatusBadRequest, codeInvalidInput, "scope must be \"page\" or \"block\"")
		return
	}

	req := a.requestContext(r, scope, in.Context)
	rules := targeting.ParseRuleSet(in.Rules)

	var decision targeting.Decision
	if scope == targeting.ScopePage {
		decision = a.engine.EvaluatePage(rules, req)
	} else {
		block := targeting.Block{Enabled: true, Conditions: rules}
		if in.Block != nil {
			if in.Block.Enabled != nil {
				block.Enabled = *in.Block.Enabled
			}
			block.StartDate = in.Block.StartDate
			block.EndDate = in.Block.EndDate
		}
		decision = a.engine.ShouldDisplay(block, req)
	}
	recordDecision(scope, decision)

	render.Status(r, http.StatusOK)
	render.JSON(w, r, EvaluateResponse{
		Scope:            scope,
		Context:          req,
		DecisionResponse: NewDecisionResponse(decision),
	})
}

// requestContext uses explicit facts when given, otherwise the request headers.
func (a *API) requestContext(r *http.Request, scope targeting.Scope, in *ContextInput) targeting.RequestContext {
	if in == nil {
		return a.extractor.Extract(r, scope)
	}

	now := a.extractor.Now()
	if in.Now != nil {
		now = in.Now.In(now.Location())
	}

	device, _ := targeting.ParseDeviceType(in.Device)

	return targeting.RequestContext{
		Country:          strings.ToUpper(strings.TrimSpace(in.Country)),
		Device:           device,
		Browser:          strings.TrimSpace(in.Browser),
		OperatingSystem:  strings.TrimSpace(in.OperatingSystem),
		Languages:        visitor.NormaliseLanguages(in.Languages),
		LanguagesPresent: len(in.Languages) > 0,
		Now:              now,
	}
}

// loadRules resolves the page snapshot, writing the error response itself on failure.
func (a *API) loadRules(w http.ResponseWriter, r *http.Request) (*targeting.PageRules, bool) {
	pageID, err := strconv.ParseInt(chi.URLParam(r, "pageID"), 10, 64)
	if err != nil || pageID < 1 {
		respondError(w, r, http.StatusBadRequest, codeInvalidParam, "Parameter 'pageID' must be a positive integer")
		return nil, false
	}

	rules, err := a.lookup(r.Context(), pageID)
	switch {
	case errors.Is(err, errPageNotFound):
		respondError(w, r, http.StatusNotFound, codeNotFound, "Page not found")
		return nil, false
	case err != nil:
		logger.FromContext(r.Context()).Error("failed to fetch page rules from l2",
			slog.Int64("page_id", pageID),
			slog.String("error", err.Error()))
		respondError(w, r, http.StatusInternalServerError, codeInternal, "Failed to retrieve page rules")
		return nil, false
	}
	return rules, true
}

// lookup is the read-through path: L1 hit, or L2 read bounded by l2Timeout and L1 fill.
func (a *API) lookup(ctx context.Context, pageID int64) (*targeting.PageRules, error) {
	if rules, ok := a.l1.Get(pageID); ok {
		return rules, nil
	}
	gen := a.l1.Generation()

	if a.l2Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.l2Timeout)
		defer cancel()
	}

	rules, err := a.l2.GetPageRules(ctx, pageID)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, errPageNotFound
	}
	if err != nil {
		return nil, err
	}

	a.l1.SetIfUnchanged(rules, gen)
	return rules, nil
}

func recordDecision(scope targeting.Scope, d targeting.Decision) {
	reason := "allowed"
	if !d.Allowed {
		reason = string(d.Reason)
	}
	observability.Decisions.WithLabelValues(string(scope), reason).Inc()
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Code: code, Message: message})
}

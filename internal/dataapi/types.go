package dataapi

import (
	"encoding/json"
	"time"

	"github.com/hostuk/visibility/internal/targeting"
)

// Error codes returned in ErrorResponse.Code.
const (
	codeInvalidJSON  = "ERR_INVALID_JSON"
	codeInvalidInput = "ERR_INVALID_INPUT"
	codeInvalidParam = "ERR_INVALID_PARAM"
	codeBodyTooLarge = "ERR_BODY_TOO_LARGE"
	codeNotFound     = "ERR_NOT_FOUND"
	codeInternal     = "ERR_INTERNAL"
)

// DecisionResponse is one evaluation outcome. Message is the user-facing
// catalogue text and is only set on a deny.
type DecisionResponse struct {
	Allowed        bool                 `json:"allowed"`
	Reason         targeting.ReasonCode `json:"reason,omitempty"`
	Message        string               `json:"message,omitempty"`
	FallbackTarget string               `json:"fallback_target,omitempty"`
}

// AccessResponse answers GET /v1/pages/{pageID}/access.
type AccessResponse struct {
	PageID  int64 `json:"page_id"`
	Version int64 `json:"version"`
	DecisionResponse
}

// HiddenBlock is a block that is not displayed and why.
type HiddenBlock struct {
	ID     int64                `json:"id"`
	Reason targeting.ReasonCode `json:"reason"`
}

// BlocksResponse answers GET /v1/pages/{pageID}/blocks. Visible keeps page order.
type BlocksResponse struct {
	PageID  int64         `json:"page_id"`
	Version int64         `json:"version"`
	Visible []int64       `json:"visible"`
	Hidden  []HiddenBlock `json:"hidden"`
}

// BlockInput carries the block gates for a block-scope evaluation.
// Enabled defaults to true.
type BlockInput struct {
	Enabled   *bool           `json:"enabled,omitempty"`
	StartDate *targeting.Date `json:"start_date,omitempty"`
	EndDate   *targeting.Date `json:"end_date,omitempty"`
}

// ContextInput replaces header extraction with explicit facts. Now defaults to
// the current time.
type ContextInput struct {
	Country         string     `json:"country,omitempty"`
	Device          string     `json:"device,omitempty"`
	Browser         string     `json:"browser,omitempty"`
	OperatingSystem string     `json:"operating_system,omitempty"`
	Languages       []string   `json:"languages,omitempty"`
	Now             *time.Time `json:"now,omitempty"`
}

// EvaluateRequest is the body of POST /v1/evaluate: an inline rule document
// evaluated without touching any cache.
type EvaluateRequest struct {
	// Scope is "page" (default) or "block".
	Scope   targeting.Scope `json:"scope,omitempty"`
	Rules   json.RawMessage `json:"rules"`
	Block   *BlockInput     `json:"block,omitempty"`
	Context *ContextInput   `json:"context,omitempty"`
}

// EvaluateResponse echoes the context that was evaluated next to the decision.
type EvaluateResponse struct {
	Scope   targeting.Scope          `json:"scope"`
	Context targeting.RequestContext `json:"context"`
	DecisionResponse
}

// ErrorResponse represents a standard structured API error.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewDecisionResponse attaches the catalogue message to a deny.
func NewDecisionResponse(d targeting.Decision) DecisionResponse {
	resp := DecisionResponse{
		Allowed:        d.Allowed,
		Reason:         d.Reason,
		FallbackTarget: d.FallbackTarget,
	}
	if !d.Allowed {
		resp.Message = targeting.Message(d.Reason)
	}
	return resp
}

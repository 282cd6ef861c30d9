// Package controlapi implements the REST API for authoring page targeting and
// block display conditions. It handles HTTP routing, request decoding,
// validation, and response formatting.
package controlapi

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/hostuk/visibility/internal/store"
	"github.com/hostuk/visibility/internal/targeting"
)

// Error codes returned in ErrorResponse.Code.
const (
	codeInvalidJSON   = "ERR_INVALID_JSON"
	codeInvalidInput  = "ERR_INVALID_INPUT"
	codeInvalidParam  = "ERR_INVALID_PARAM"
	codeBodyTooLarge  = "ERR_BODY_TOO_LARGE"
	codeNotFound      = "ERR_NOT_FOUND"
	codeConflict      = "ERR_CONFLICT"
	codeUnauthorized  = "ERR_UNAUTHORIZED"
	codeInternalError = "ERR_INTERNAL"
)

// ScheduleDocument is the nested date/time/day window of a rule document.
type ScheduleDocument struct {
	Start     string `json:"start,omitempty" validate:"omitempty,datetime=2006-01-02"`
	End       string `json:"end,omitempty" validate:"omitempty,datetime=2006-01-02"`
	TimeStart string `json:"time_start,omitempty" validate:"omitempty,datetime=15:04"`
	TimeEnd   string `json:"time_end,omitempty" validate:"omitempty,datetime=15:04"`
	Days      []int  `json:"days,omitempty" validate:"omitempty,max=7,dive,min=0,max=6"`
}

// RuleDocument is the authoring shape of a page targeting or block conditions document.
// It is stricter than what the evaluator accepts: values the evaluator would
// silently ignore are rejected here.
type RuleDocument struct {
	Countries        []string          `json:"countries,omitempty" validate:"omitempty,max=250,dive,iso3166_1_alpha2"`
	ExcludeCountries []string          `json:"exclude_countries,omitempty" validate:"omitempty,max=250,dive,iso3166_1_alpha2"`
	Devices          []string          `json:"devices,omitempty" validate:"omitempty,dive,oneof=desktop mobile tablet"`
	Browsers         []string          `json:"browsers,omitempty" validate:"omitempty,max=50,dive,required,max=64"`
	OperatingSystems []string          `json:"operating_systems,omitempty" validate:"omitempty,max=50,dive,required,max=64"`
	Languages        []string          `json:"languages,omitempty" validate:"omitempty,max=50,dive,alpha,len=2"`
	Schedule         *ScheduleDocument `json:"schedule,omitempty"`
	FallbackURL      string            `json:"fallback_url,omitempty" validate:"omitempty,url,max=2048"`
}

// Sanitize normalises case and whitespace so equivalent documents are stored identically.
func (d *RuleDocument) Sanitize() {
	d.Countries = normalise(d.Countries, strings.ToUpper)
	d.ExcludeCountries = normalise(d.ExcludeCountries, strings.ToUpper)
	d.Devices = normalise(d.Devices, strings.ToLower)
	d.Browsers = normalise(d.Browsers, nil)
	d.OperatingSystems = normalise(d.OperatingSystems, nil)
	d.Languages = normalise(d.Languages, targeting.PrimarySubtag)
	d.FallbackURL = strings.TrimSpace(d.FallbackURL)

	if d.Schedule != nil {
		d.Schedule.Start = strings.TrimSpace(d.Schedule.Start)
		d.Schedule.End = strings.TrimSpace(d.Schedule.End)
		d.Schedule.TimeStart = strings.TrimSpace(d.Schedule.TimeStart)
		d.Schedule.TimeEnd = strings.TrimSpace(d.Schedule.TimeEnd)
		slices.Sort(d.Schedule.Days)
		d.Schedule.Days = slices.Compact(d.Schedule.Days)
	}
}

// Validate checks the document. block is true for block conditions, which do
// not support exclude_countries.
func (d *RuleDocument) Validate(block bool) *ErrorResponse {
	if errResp := validateStruct(d); errResp != nil {
		return errResp
	}

	var details []ErrorDetail
	if block && len(d.ExcludeCountries) > 0 {
		details = append(details, ErrorDetail{Field: "exclude_countries", Issue: "not supported on block conditions"})
	}
	if s := d.Schedule; s != nil && s.Start != "" && s.End != "" && s.Start > s.End {
		// YYYY-MM-DD compares correctly as a string.
		details = append(details, ErrorDetail{Field: "schedule.end", Issue: "must not be before schedule.start"})
	}
	if len(details) > 0 {
		return &ErrorResponse{Code: codeInvalidInput, Message: "Invalid rule document", Details: details}
	}
	return nil
}

// CreatePageRequest defines the payload for POST /pages.
type CreatePageRequest struct {
	Slug string `json:"slug" validate:"required,min=3,max=255,slug"`
}

// Sanitize trims and lower-cases the slug.
func (r *CreatePageRequest) Sanitize() {
	r.Slug = strings.ToLower(strings.TrimSpace(r.Slug))
}

// Validate checks the request.
func (r *CreatePageRequest) Validate() *ErrorResponse {
	return validateStruct(r)
}

// CreateBlockRequest defines the payload for POST /pages/{pageID}/blocks.
type CreateBlockRequest struct {
	Position int `json:"position" validate:"min=0"`
}

// Validate checks the request.
func (r *CreateBlockRequest) Validate() *ErrorResponse {
	return validateStruct(r)
}

// UpdateBlockRequest defines the payload for PUT /blocks/{blockID}. It replaces
// every mutable field; omitted dates clear the column.
type UpdateBlockRequest struct {
	Enabled    *bool         `json:"enabled" validate:"required"`
	StartDate  string        `json:"start_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate    string        `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Conditions *RuleDocument `json:"conditions,omitempty"`
}

// Sanitize normalises the request in place.
func (r *UpdateBlockRequest) Sanitize() {
	r.StartDate = strings.TrimSpace(r.StartDate)
	r.EndDate = strings.TrimSpace(r.EndDate)
	if r.Conditions != nil {
		r.Conditions.Sanitize()
	}
}

// Validate checks the request, including the nested conditions document.
func (r *UpdateBlockRequest) Validate() *ErrorResponse {
	if errResp := validateStruct(r); errResp != nil {
		return errResp
	}
	if r.StartDate != "" && r.EndDate != "" && r.StartDate > r.EndDate {
		return &ErrorResponse{
			Code:    codeInvalidInput,
			Message: "Invalid block dates",
			Details: []ErrorDetail{{Field: "end_date", Issue: "must not be before start_date"}},
		}
	}
	if r.Conditions != nil {
		return r.Conditions.Validate(true)
	}
	return nil
}

// ToUpdate converts a validated request to the store model.
func (r *UpdateBlockRequest) ToUpdate() (store.BlockUpdate, error) {
	u := store.BlockUpdate{Enabled: *r.Enabled}

	var err error
	if u.StartDate, err = optionalDate(r.StartDate); err != nil {
		return store.BlockUpdate{}, err
	}
	if u.EndDate, err = optionalDate(r.EndDate); err != nil {
		return store.BlockUpdate{}, err
	}

	if r.Conditions != nil {
		if u.Conditions, err = json.Marshal(r.Conditions); err != nil {
			return store.BlockUpdate{}, err
		}
	}
	return u, nil
}

// Page is the page resource returned by POST /pages.
type Page struct {
	ID        int64     `json:"id"`
	Slug      string    `json:"slug"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TargetingResponse is the page targeting resource.
type TargetingResponse struct {
	PageID    int64           `json:"page_id"`
	Slug      string          `json:"slug,omitempty"`
	Version   int64           `json:"version"`
	Targeting json.RawMessage `json:"targeting"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
}

// Block is the block resource.
type Block struct {
	ID         int64           `json:"id"`
	PageID     int64           `json:"page_id"`
	Position   int             `json:"position"`
	Enabled    bool            `json:"enabled"`
	StartDate  *targeting.Date `json:"start_date,omitempty"`
	EndDate    *targeting.Date `json:"end_date,omitempty"`
	Conditions json.RawMessage `json:"conditions"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// ListResponse wraps list endpoints.
type ListResponse struct {
	Data any `json:"data"`
}

// ErrorResponse represents a standard structured API error.
type ErrorResponse struct {
	// Code is a machine-readable error code (e.g., "ERR_INVALID_INPUT").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`

	// Details provides optional granular validation errors.
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail provides context about specific field validation failures.
type ErrorDetail struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

func mapPage(p *store.Page) Page {
	return Page{ID: p.ID, Slug: p.Slug, Version: p.Version, UpdatedAt: p.UpdatedAt}
}

func mapBlock(b *store.BlockRecord) Block {
	return Block{
		ID:         b.ID,
		PageID:     b.PageID,
		Position:   b.Position,
		Enabled:    b.Enabled,
		StartDate:  b.StartDateValue(),
		EndDate:    b.EndDateValue(),
		Conditions: rawDocument(b.Conditions),
		UpdatedAt:  b.UpdatedAt,
	}
}

// rawDocument returns "{}" for an unset document so clients never see null.
func rawDocument(doc []byte) json.RawMessage {
	if len(doc) == 0 || string(doc) == "null" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(doc)
}

func optionalDate(s string) (*targeting.Date, error) {
	if s == "" {
		return nil, nil
	}
	d, err := targeting.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// normalise trims values, applies fn and drops blanks and duplicates, keeping first-seen order.
func normalise(values []string, fn func(string) string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if fn != nil {
			v = fn(v)
		}
		if v == "" || slices.Contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}

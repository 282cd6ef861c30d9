package controlapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/hostuk/visibility/internal/logger"
	"github.com/hostuk/visibility/internal/store"
)

// handleCreatePage processes POST /api/v1/pages.
func (a *API) handleCreatePage(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req CreatePageRequest
	if !decode(w, r, &req) {
		return
	}
	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		respondError(w, r, http.StatusBadRequest, errResp)
		return
	}

	page, err := a.pages.CreatePage(r.Context(), req.Slug)
	if err != nil {
		a.respondStoreError(w, r, err, "A page with this slug already exists")
		return
	}

	a.notifyAsync(log, page.ID, page.Version)

	log.Info("page created", slog.Int64("page_id", page.ID), slog.String("slug", page.Slug))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, mapPage(page))
}

// handleGetTargeting processes GET /api/v1/pages/{pageID}/targeting.
func (a *API) handleGetTargeting(w http.ResponseWriter, r *http.Request) {
	pageID, ok := pathID(w, r, "pageID")
	if !ok {
		return
	}

	page, err := a.pages.GetPage(r.Context(), pageID)
	if err != nil {
		a.respondStoreError(w, r, err, "")
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, TargetingResponse{
		PageID:    page.ID,
		Slug:      page.Slug,
		Version:   page.Version,
		Targeting: rawDocument(page.Targeting),
		UpdatedAt: &page.UpdatedAt,
	})
}

// handlePutTargeting processes PUT /api/v1/pages/{pageID}/targeting.
// The whole document is replaced.
func (a *API) handlePutTargeting(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	pageID, ok := pathID(w, r, "pageID")
	if !ok {
		return
	}

	var doc RuleDocument
	if !decode(w, r, &doc) {
		return
	}
	doc.Sanitize()
	if errResp := doc.Validate(false); errResp != nil {
		respondError(w, r, http.StatusBadRequest, errResp)
		return
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		a.respondInternal(w, r, err)
		return
	}

	version, err := a.pages.UpdatePageTargeting(r.Context(), pageID, raw)
	if err != nil {
		a.respondStoreError(w, r, err, "")
		return
	}

	a.notifyAsync(log, pageID, version)

	log.Info("page targeting updated", slog.Int64("page_id", pageID), slog.Int64("version", version))
	render.Status(r, http.StatusOK)
	render.JSON(w, r, TargetingResponse{PageID: pageID, Version: version, Targeting: raw})
}

// handleListBlocks processes GET /api/v1/pages/{pageID}/blocks.
func (a *API) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	pageID, ok := pathID(w, r, "pageID")
	if !ok {
		return
	}

	records, err := a.pages.ListBlocks(r.Context(), pageID)
	if err != nil {
		a.respondStoreError(w, r, err, "")
		return
	}

	blocks := make([]Block, len(records))
	for i := range records {
		blocks[i] = mapBlock(&records[i])
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, ListResponse{Data: blocks})
}

// handleCreateBlock processes POST /api/v1/pages/{pageID}/blocks.
func (a *API) handleCreateBlock(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	pageID, ok := pathID(w, r, "pageID")
	if !ok {
		return
	}

	var req CreateBlockRequest
	if !decode(w, r, &req) {
		return
	}
	if errResp := req.Validate(); errResp != nil {
		respondError(w, r, http.StatusBadRequest, errResp)
		return
	}

	rec, err := a.pages.CreateBlock(r.Context(), pageID, req.Position)
	if err != nil {
		a.respondStoreError(w, r, err, "")
		return
	}

	a.notifyAsync(log, pageID, rec.PageVersion)

	log.Info("block created", slog.Int64("page_id", pageID), slog.Int64("block_id", rec.ID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, mapBlock(rec))
}

// handleUpdateBlock processes PUT /api/v1/blocks/{blockID}.
func (a *API) handleUpdateBlock(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	blockID, ok := pathID(w, r, "blockID")
	if !ok {
		return
	}

	var req UpdateBlockRequest
	if !decode(w, r, &req) {
		return
	}
	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		respondError(w, r, http.StatusBadRequest, errResp)
		return
	}

	update, err := req.ToUpdate()
	if err != nil {
		respondError(w, r, http.StatusBadRequest, &ErrorResponse{Code: codeInvalidInput, Message: err.Error()})
		return
	}

	rec, err := a.pages.UpdateBlock(r.Context(), blockID, update)
	if err != nil {
		a.respondStoreError(w, r, err, "Block dates are inconsistent")
		return
	}

	a.notifyAsync(log, rec.PageID, rec.PageVersion)

	log.Info("block updated",
		slog.Int64("page_id", rec.PageID),
		slog.Int64("block_id", rec.ID),
		slog.Int64("version", rec.PageVersion),
	)
	render.Status(r, http.StatusOK)
	render.JSON(w, r, mapBlock(rec))
}

// --- Private Helpers ---

// decode reads a JSON body into v, answering 400 or 413 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := render.DecodeJSON(r.Body, v)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		respondError(w, r, http.StatusRequestEntityTooLarge, &ErrorResponse{
			Code:    codeBodyTooLarge,
			Message: fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit),
		})
		return false
	}

	logger.FromContext(r.Context()).Warn("invalid json payload", slog.String("error", err.Error()))
	respondError(w, r, http.StatusBadRequest, &ErrorResponse{
		Code:    codeInvalidJSON,
		Message: "Invalid JSON payload: " + err.Error(),
	})
	return false
}

// pathID parses a positive integer URL parameter.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id < 1 {
		respondError(w, r, http.StatusBadRequest, &ErrorResponse{
			Code:    codeInvalidParam,
			Message: fmt.Sprintf("Parameter '%s' must be a positive integer", name),
		})
		return 0, false
	}
	return id, true
}

func respondError(w http.ResponseWriter, r *http.Request, status int, errResp *ErrorResponse) {
	render.Status(r, status)
	render.JSON(w, r, errResp)
}

// respondStoreError maps repository sentinels to HTTP statuses.
func (a *API) respondStoreError(w http.ResponseWriter, r *http.Request, err error, conflictMsg string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, r, http.StatusNotFound, &ErrorResponse{Code: codeNotFound, Message: "Resource not found"})
	case errors.Is(err, store.ErrConflict):
		if conflictMsg == "" {
			conflictMsg = "The request conflicts with the current state"
		}
		respondError(w, r, http.StatusConflict, &ErrorResponse{Code: codeConflict, Message: conflictMsg})
	default:
		a.respondInternal(w, r, err)
	}
}

func (a *API) respondInternal(w http.ResponseWriter, r *http.Request, err error) {
	logger.FromContext(r.Context()).Error("request failed", slog.String("error", err.Error()))
	respondError(w, r, http.StatusInternalServerError, &ErrorResponse{
		Code:    codeInternalError,
		Message: "Internal server error",
	})
}

// notifyAsync enqueues a page sync outside the request lifecycle, retrying with
// exponential backoff. A lost notification is repaired by the next hydration.
func (a *API) notifyAsync(log *slog.Logger, pageID, version int64) {
	a.notify.Add(1)
	go func() {
		defer a.notify.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		delay := a.notifyDelay
		for attempt := 1; ; attempt++ {
			err := a.queue.EnqueueUpdate(ctx, pageID, version)
			if err == nil {
				return
			}

			if attempt >= a.notifyAttempts {
				log.Error("failed to enqueue page update after retries",
					slog.Int64("page_id", pageID),
					slog.Int("attempts", attempt),
					slog.String("error", err.Error()))
				return
			}

			log.Warn("failed to enqueue page update, retrying",
				slog.Int64("page_id", pageID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
		}
	}()
}

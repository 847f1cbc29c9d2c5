// Package analyst exposes the response normalizer and chart resolver over
// HTTP so clients can classify replies they fetched themselves.
package analyst

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/datachat/backend/internal/analysis/structured"
	"github.com/zhouzirui/datachat/backend/internal/model/analyst"
	"github.com/zhouzirui/datachat/backend/internal/service/chart"
	"github.com/zhouzirui/datachat/backend/pkg/utils"
)

const maxReplyBytes = 4 << 20

// Handler serves the normalize and chart-spec endpoints.
type Handler struct {
	normalizer *structured.Normalizer
}

func New(normalizer *structured.Normalizer) *Handler {
	if normalizer == nil {
		normalizer = structured.New(structured.Options{})
	}
	return &Handler{normalizer: normalizer}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/analyst", func(r chi.Router) {
		r.Post("/normalize", h.handleNormalize)
		r.Post("/chart-spec", h.handleChartSpec)
	})
}

func (h *Handler) handleNormalize(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	resp, err := h.normalizer.Normalize(body)
	if err != nil {
		utils.RespondJSON(w, http.StatusOK, analyst.Classified{
			Response: analyst.TextResponse(string(bytes.TrimSpace(body))),
			Reason:   err.Error(),
		})
		return
	}
	utils.RespondJSON(w, http.StatusOK, analyst.Classified{Response: resp, Structured: true})
}

func (h *Handler) handleChartSpec(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	resp, err := h.normalizer.Normalize(body)
	if err != nil {
		utils.RespondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if !resp.IsChart() {
		utils.RespondError(w, http.StatusUnprocessableEntity, "response is not a chart")
		return
	}

	spec, err := chart.ResolveSpec(resp.Chart)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, chart.ErrNoChartSource) {
			status = http.StatusUnprocessableEntity
		}
		utils.RespondError(w, status, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, spec)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxReplyBytes))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to read body")
		return nil, false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "body is required")
		return nil, false
	}
	return body, true
}

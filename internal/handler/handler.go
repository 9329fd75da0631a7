// Package handler exposes the line assembly service over REST.
package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"lepm/internal/assembly"
	"lepm/internal/model"
	"lepm/internal/service/network"
	"lepm/internal/web"
)

type Handler struct {
	svc *network.Service
	log *slog.Logger
}

// New builds the API router over the service.
func New(svc *network.Service, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{svc: svc, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/lines", h.listLines)
	mux.HandleFunc("POST /v1/lines", h.createLine)
	mux.HandleFunc("GET /v1/lines/{id}", h.getLineGraph)
	mux.HandleFunc("DELETE /v1/lines/{id}", h.deleteLine)
	mux.HandleFunc("POST /v1/lines/{id}/poles", h.addPole)
	mux.HandleFunc("POST /v1/lines/{id}/substation-link", h.linkSubstation)
	mux.HandleFunc("GET /v1/lines/{id}/cim.xml", h.exportCIM(network.ExportXMLName, "application/rdf+xml"))
	mux.HandleFunc("GET /v1/lines/{id}/cim.json", h.exportCIM(network.ExportJSONName, "application/json"))
	mux.HandleFunc("POST /v1/lines/{id}/export", h.publishExports)
	mux.HandleFunc("GET /v1/lines/{id}/export", h.exportManifest)
	mux.HandleFunc("POST /v1/poles/{id}/tap", h.markPoleAsTap)
	mux.HandleFunc("DELETE /v1/poles/{id}", h.deletePole)
	mux.HandleFunc("GET /v1/substations", h.listSubstations)
	mux.HandleFunc("POST /v1/substations", h.createSubstation)
	mux.HandleFunc("GET /v1/sync", h.changes)
	mux.HandleFunc("GET /v1/sync/watch", h.watch)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// --- lines ------------------------------------------------------------------

func (h *Handler) listLines(w http.ResponseWriter, r *http.Request) {
	lines, err := h.svc.Lines(r.Context())
	if err != nil {
		web.RespondError(w, h.log, err)
		return
	}
	web.Respond(w, http.StatusOK, lines)
}

type createLineRequest struct {
	Name      string  `json:"name"`
	VoltageKV float64 `json:"voltage_kv"`
}

func (h *Handler) createLine(w http.ResponseWriter, r *http.Request) {
	req, err := web.Decode[createLineRequest](w, r)
	if err != nil {
		web.RespondError(w, h.log, err)
		return
	}
	line, err := h.svc.CreateLine(r.Context(), req.Name, req.VoltageKV)
	if err != nil {
		web.RespondError(w, h.log, err)
		return
	}
	web.Respond(w, http.StatusCreated, line)
}

func (h *Handler) getLineGraph(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.RespondError(w, h.log, err)
		return
	}
	g, err := h.svc.Graph(r.Context(), id)
	if err != nil {
		web.RespondError(w, h.log, err)
		return
	}
	web.Respond(w, http.StatusOK, g)
}

func (h *Handler) deleteLine(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.RespondError(w, h.log, err)
		return
	}
	if err := h.svc.DeleteLine(r.Context(), id); err != nil {
		web.RespondError(w, h.log, err)
		return
	}
	web.Respond(w, http.StatusNoContent, web.NoBody{})
}

// --- poles ------------------------------------------------------------------

type addPoleRequest struct {
	PoleNumber     string              `json:"pole_number"`
	X              float64             `json:"x_position"`
	Y              float64             `json:"y_position"`
	PoleType       string              `json:"pole_type"`
	IsTap          bool                `json:"is_tap"`
	Conductor      model.ConductorSpec `json:"conductor"`
	SequenceNumber int                 `json:"sequence_number"`
	SharedPoleID   int64               `json:"shared_pole_id"`
}

func (h *Handler) addPole(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.RespondError(w, h.log, err)
		return
	}
	req, err := web.Decode[addPoleRequest](w, r)
	if err != nil {
		web.RespondError(w, h.log, err)
		return
	}
	pole, err := h.svc.AddPole(r.Context(), id, assembly.PoleSpec{
		PoleNumber:     req.PoleNumber,
		X:              req.X,
		Y:              req.Y,
		PoleType:       req.PoleType,
		IsTap:          req.IsTap,
		Conductor:      req.Conductor,
		SequenceNumber: req.SequenceNumber,
		SharedPoleID:   req.SharedPoleID,
	})
	if err != nil {
		web.RespondError(w, h.log, err)
		return
	}
	web.Respond(w, http.StatusCreated, pole)
}

func (h *Handler) markPoleAsTap(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.RespondError(w, h.log, err)
		return
	}
	if err := h.svc.MarkPoleAsTap(r.Context(), id); err != nil {
		web.RespondError(w, h.log, err)
		return
	}
	web.Respond(w, http.StatusNoContent, web.NoBody{})
}

func (h *Handler) deletePole(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.RespondError(w, h.log, err)
		return
	}
	if err := h.svc.DeletePole(r.Context(), id); err != nil {
		web.RespondError(w, h.log, err)
		return
	}
	web.Respond(w, http.StatusNoContent, web.NoBody{})
}

// --- substations ------------------------------------------------------------

func (h *Handler) listSubstations(w http.ResponseWriter, r *http.Request) {
	subs, err := h.svc.Substations(r.Context())
	if err != nil {
		web.RespondError(w, h.log, err)
		return
	}
	web.Respond(w, http.StatusOK, subs)
}

type createSubstationRequest struct {
	Name           string  `json:"name"`
	DispatcherName string  `json:"dispatcher_name"`
	X              float64 `json:"x_position"`
	Y              float64 `json:"y_position"`
}

func (h *Handler) createSubstation(w http.ResponseWriter, r *http.Request) {
	req, err := web.Decode[createSubstationRequest](w, r)
	if err != nil {
		web.RespondError(w, h.log, err)
		return
	}
	sub := &model.Substation{
		Name:           req.Name,
		DispatcherName: req.DispatcherName,
		X:              req.X,
		Y:              req.Y,
	}
	if err := h.svc.CreateSubstation(r.Context(), sub); err != nil {
		web.RespondError(w, h.log, err)
		return
	}
	web.Respond(w, http.StatusCreated, sub)
}

type linkSubstationRequest struct {
	SubstationID int64 `json:"substation_id"`
	FirstPoleID  int64 `json:"first_pole_id"`
}

func (h *Handler) linkSubstation(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.RespondError(w, h.log, err)
		return
	}
	req, err := web.Decode[linkSubstationRequest](w, r)
	if err != nil {
		web.RespondError(w, h.log, err)
		return
	}
	seg, err := h.svc.LinkLineToSubstation(r.Context(), id, req.FirstPoleID, req.SubstationID)
	if err != nil {
		web.RespondError(w, h.log, err)
		return
	}
	web.Respond(w, http.StatusCreated, seg)
}

// --- exports ----------------------------------------------------------------

func (h *Handler) exportCIM(name, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := web.PathID(r, "id")
		if err != nil {
			web.RespondError(w, h.log, err)
			return
		}
		out, err := h.svc.ExportCIM(r.Context(), id, name)
		if err != nil {
			web.RespondError(w, h.log, err)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(out)
	}
}

// publishExports renders both CIM documents into the artifact store and
// returns the resulting manifest.
func (h *Handler) publishExports(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.RespondError(w, h.log, err)
		return
	}
	for _, name := range []string{network.ExportXMLName, network.ExportJSONName} {
		if _, err := h.svc.ExportCIM(r.Context(), id, name); err != nil {
			web.RespondError(w, h.log, err)
			return
		}
	}
	manifest, err := h.svc.ExportManifest(r.Context(), id)
	if err != nil {
		web.RespondError(w, h.log, err)
		return
	}
	web.Respond(w, http.StatusCreated, manifest)
}

func (h *Handler) exportManifest(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.RespondError(w, h.log, err)
		return
	}
	manifest, err := h.svc.ExportManifest(r.Context(), id)
	if err != nil {
		web.RespondError(w, h.log, err)
		return
	}
	web.Respond(w, http.StatusOK, manifest)
}

// --- change feed ------------------------------------------------------------

type changesResponse struct {
	Changes []model.Change `json:"changes"`
	Cursor  int64          `json:"cursor"`
}

// changes serves the catch-up feed: everything committed after ?since=<cursor>.
func (h *Handler) changes(w http.ResponseWriter, r *http.Request) {
	var since int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			web.RespondError(w, h.log, model.InvalidArgumentf("invalid cursor %q", raw))
			return
		}
		since = v
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			web.RespondError(w, h.log, model.InvalidArgumentf("invalid limit %q", raw))
			return
		}
		limit = v
	}

	changes, err := h.svc.Changes(r.Context(), since, limit)
	if err != nil {
		web.RespondError(w, h.log, err)
		return
	}
	cursor := since
	if n := len(changes); n > 0 {
		cursor = changes[n-1].Cursor
	}
	web.Respond(w, http.StatusOK, changesResponse{Changes: changes, Cursor: cursor})
}

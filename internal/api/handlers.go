package api

import (
	"context"
	stdErrors "errors"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/saveenergy/speedgauge/internal/logging"
	"github.com/saveenergy/speedgauge/pkg/diagnostic"
	gaugeerrors "github.com/saveenergy/speedgauge/pkg/errors"
	"github.com/saveenergy/speedgauge/pkg/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const settleTimeout = 2 * time.Second

// Controller is the part of *session.Controller the handlers drive.
type Controller interface {
	Start() bool
	Abort() bool
	Snapshot() session.Snapshot
	Flush(ctx context.Context) error
}

type Handler struct {
	controller Controller
	version    string
	title      string
}

func NewHandler(controller Controller) *Handler {
	return &Handler{controller: controller, version: "dev"}
}

// SetTitle sets the heading the browser front-end shows.
func (h *Handler) SetTitle(title string) {
	h.title = title
}

func (h *Handler) SetVersion(version string) {
	if version == "" {
		version = "dev"
	}
	h.version = version
}

type VersionResponse struct {
	Version string `json:"version"`
	Title   string `json:"title,omitempty"`
}

// DisplayResponse is the display plus, after a natural completion, its
// interpretation.
type DisplayResponse struct {
	Display        session.Display            `json:"display"`
	DownloadText   string                     `json:"download_text"`
	UploadText     string                     `json:"upload_text"`
	ActionLabel    string                     `json:"action_label"`
	SessionID      string                     `json:"session_id,omitempty"`
	Outcome        session.Outcome            `json:"outcome"`
	Samples        int                        `json:"samples"`
	StartedAt      *time.Time                 `json:"started_at,omitempty"`
	EndedAt        *time.Time                 `json:"ended_at,omitempty"`
	Interpretation *diagnostic.Interpretation `json:"interpretation,omitempty"`
}

type SessionResponse struct {
	Started bool `json:"started,omitempty"`
	DisplayResponse
}

func NewDisplayResponse(snap session.Snapshot) DisplayResponse {
	resp := DisplayResponse{
		Display:      snap.Display,
		DownloadText: snap.Display.DownloadRateText(),
		UploadText:   snap.Display.UploadRateText(),
		ActionLabel:  snap.Display.ActionLabel(),
		SessionID:    snap.SessionID,
		Outcome:      snap.Outcome,
		Samples:      snap.Samples,
	}
	if !snap.StartedAt.IsZero() {
		started := snap.StartedAt
		resp.StartedAt = &started
	}
	if !snap.EndedAt.IsZero() {
		ended := snap.EndedAt
		resp.EndedAt = &ended
	}
	if interp, ok := diagnostic.ForSnapshot(snap); ok {
		resp.Interpretation = interp
	}
	return resp
}

// Snapshot converts a response back into the controller snapshot it was
// built from.
func (r DisplayResponse) Snapshot() session.Snapshot {
	snap := session.Snapshot{
		Display:   r.Display,
		SessionID: r.SessionID,
		Outcome:   r.Outcome,
		Samples:   r.Samples,
	}
	if r.StartedAt != nil {
		snap.StartedAt = *r.StartedAt
	}
	if r.EndedAt != nil {
		snap.EndedAt = *r.EndedAt
	}
	return snap
}

func (h *Handler) GetDisplay(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, NewDisplayResponse(h.controller.Snapshot()), http.StatusOK)
}

// StartSession queues a start and waits for it to be applied, so the
// response reflects whether a new session is running.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	before := h.controller.Snapshot()
	if !h.controller.Start() {
		respondError(w, gaugeerrors.ErrEngineNotReady("controller stopped"), http.StatusServiceUnavailable)
		return
	}
	after, ok := h.settle(w, r)
	if !ok {
		return
	}

	// A fast engine may already have finished the new session.
	started := after.SessionID != "" && after.SessionID != before.SessionID &&
		(after.Display.Running() || after.Outcome == session.OutcomeCompleted)
	switch {
	case started:
		respondJSON(w, SessionResponse{Started: true, DisplayResponse: NewDisplayResponse(after)}, http.StatusAccepted)
	case after.Display.Running():
		respondJSON(w, SessionResponse{DisplayResponse: NewDisplayResponse(after)}, http.StatusConflict)
	default:
		respondError(w, gaugeerrors.ErrEngineNotReady("engine did not start"), http.StatusServiceUnavailable)
	}
}

func (h *Handler) AbortSession(w http.ResponseWriter, r *http.Request) {
	if !h.controller.Abort() {
		respondError(w, gaugeerrors.ErrEngineNotReady("controller stopped"), http.StatusServiceUnavailable)
		return
	}
	after, ok := h.settle(w, r)
	if !ok {
		return
	}
	respondJSON(w, SessionResponse{DisplayResponse: NewDisplayResponse(after)}, http.StatusOK)
}

func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, VersionResponse{Version: h.version, Title: h.title}, http.StatusOK)
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
		logging.Warn("health: write response", logging.Field{Key: "error", Value: err})
	}
}

func (h *Handler) settle(w http.ResponseWriter, r *http.Request) (session.Snapshot, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), settleTimeout)
	defer cancel()
	if err := h.controller.Flush(ctx); err != nil {
		status := http.StatusServiceUnavailable
		if gaugeerrors.IsContextError(err) {
			status = http.StatusGatewayTimeout
		}
		respondError(w, err, status)
		return session.Snapshot{}, false
	}
	return h.controller.Snapshot(), true
}

func respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Warn("JSON response encode failed",
			logging.Field{Key: "error", Value: err})
	}
}

func respondError(w http.ResponseWriter, err error, statusCode int) {
	body := map[string]string{"error": err.Error()}
	var gaugeErr *gaugeerrors.GaugeError
	if stdErrors.As(err, &gaugeErr) {
		body["error"] = gaugeErr.Message
		body["code"] = gaugeErr.Code
	}
	respondJSON(w, body, statusCode)
}

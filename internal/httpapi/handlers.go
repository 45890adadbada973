package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/DoyleJ11/live-chess-backend/internal/clock"
	"github.com/DoyleJ11/live-chess-backend/internal/dispatch"
	"github.com/DoyleJ11/live-chess-backend/internal/engine"
	"github.com/DoyleJ11/live-chess-backend/internal/ws"
	"github.com/DoyleJ11/live-chess-backend/pkg/types"
)

const maxBody = 64 << 10

// StatusOf maps a wire error code to an HTTP status.
func StatusOf(code engine.Code) int {
	switch code {
	case "":
		return http.StatusOK
	case engine.CodeBadRequest:
		return http.StatusBadRequest
	case engine.CodeUnauthorized:
		return http.StatusForbidden
	case engine.CodeSessionNotFound:
		return http.StatusNotFound
	case engine.CodeInternal:
		return http.StatusInternalServerError
	case engine.CodePersistenceUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusConflict
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := engine.CodeOf(err)
	writeJSON(w, StatusOf(code), types.Response{ErrorCode: string(code), Message: err.Error()})
}

// writeResponse sends a command outcome. A transition that applied but could
// not be saved is still a success for the caller.
func writeResponse(w http.ResponseWriter, resp types.Response) {
	status := http.StatusOK
	if !resp.Success {
		status = StatusOf(engine.Code(resp.ErrorCode))
	}
	writeJSON(w, status, resp)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, types.Response{ErrorCode: string(engine.CodeBadRequest), Message: "invalid json body"})
		return false
	}
	return true
}

func revisionParam(r *http.Request, name string) (int64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	return n, err == nil && n >= 0
}

func CreateSession(d *dispatch.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.CreateSession
		if !decode(w, r, &req) {
			return
		}
		s, err := d.CreateSession(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, types.CreateSessionResponse{SessionID: s.ID, State: dispatch.Snapshot(s)})
	}
}

func BindSeat(d *dispatch.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.BindSeat
		if !decode(w, r, &req) {
			return
		}
		writeResponse(w, d.BindSeat(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "side"), req))
	}
}

// GetSession returns the full snapshot. With ?since=N it answers 304 when
// the caller already holds revision N or newer.
func GetSession(d *dispatch.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		since, ok := revisionParam(r, "since")
		if !ok {
			writeJSON(w, http.StatusBadRequest, types.Response{ErrorCode: string(engine.CodeBadRequest), Message: "invalid since"})
			return
		}
		s, err := d.Snapshot(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		if r.URL.Query().Has("since") && !clock.NewTracker(since).Accept(s.Clock.Revision) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		writeJSON(w, http.StatusOK, dispatch.Snapshot(s))
	}
}

// ListEvents returns retained events after ?after=N. Complete is false when
// the history no longer reaches back that far and the caller should refetch
// the snapshot instead.
func ListEvents(d *dispatch.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		after, ok := revisionParam(r, "after")
		if !ok {
			writeJSON(w, http.StatusBadRequest, types.Response{ErrorCode: string(engine.CodeBadRequest), Message: "invalid after"})
			return
		}
		id := chi.URLParam(r, "id")
		v, err := d.Events(r.Context(), id, after)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types.Events{
			SessionID: id,
			Revision:  v.Session.Clock.Revision,
			Complete:  v.Complete,
			Events:    dispatch.Visible(v.Events, ws.Principal(r)),
		})
	}
}

func SubmitCommand(d *dispatch.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var env types.CommandEnvelope
		if !decode(w, r, &env) {
			return
		}
		env.SessionID = chi.URLParam(r, "id")
		env.Principal = ws.Principal(r)
		writeResponse(w, d.Dispatch(r.Context(), env))
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

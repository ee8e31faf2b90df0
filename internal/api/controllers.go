package api

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/nerrad567/scada-hub/internal/audit"
	"github.com/nerrad567/scada-hub/internal/controller"
)

// Registry is the controller state the handlers read and mutate.
// *controller.Registry satisfies it; tests may substitute a fake.
type Registry interface {
	Snapshot() controller.Snapshot
	Update(name string, mutate func(*controller.State)) (controller.Snapshot, error)
	Len() int
}

// SnapshotSaver queues the snapshot taken after an accepted mutation for
// persistence without waiting on storage. *controller.Persister satisfies it.
type SnapshotSaver interface {
	Submit(snap controller.Snapshot)
}

// handleListAll returns every controller keyed by name.
func (s *Server) handleListAll(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Snapshot().Views())
}

// handleSetValues overwrites temperature and level of one controller.
//
// Form fields: id, temperature, level. A missing or empty numeric field is
// taken as 0.
func (s *Server) handleSetValues(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeBadRequest(w, "invalid form body")
		return
	}

	temperature, err := formFloat(r.Form, "temperature")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	level, err := formFloat(r.Form, "level")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	id := r.Form.Get("id")
	snap, err := s.registry.Update(id, func(st *controller.State) {
		st.Temperature = temperature
		st.Level = level
	})
	if err != nil {
		s.writeUpdateError(w, r, id, err)
		return
	}

	s.logger.Info("controller values set",
		"controller", id,
		"temperature", temperature,
		"level", level,
		"request_id", requestIDFrom(r.Context()),
	)
	s.persist(r, snap)
	s.auditLog(r, audit.ActionSetValues, id, map[string]any{
		"temperature": temperature,
		"level":       level,
	})
	writeOK(w)
}

// handleSetEnabled overwrites the enabled flag of one controller.
//
// Form fields: id, enable. A missing or empty enable is taken as false.
func (s *Server) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeBadRequest(w, "invalid form body")
		return
	}

	enable, err := formBool(r.Form, "enable")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	id := r.Form.Get("id")
	snap, err := s.registry.Update(id, func(st *controller.State) {
		st.Enabled = enable
	})
	if err != nil {
		s.writeUpdateError(w, r, id, err)
		return
	}

	s.logger.Info("controller state set",
		"controller", id,
		"enabled", enable,
		"request_id", requestIDFrom(r.Context()),
	)
	s.persist(r, snap)
	s.auditLog(r, audit.ActionSetState, id, map[string]any{
		"enabled": enable,
	})
	writeOK(w)
}

func (s *Server) writeUpdateError(w http.ResponseWriter, r *http.Request, id string, err error) {
	if errors.Is(err, controller.ErrNotFound) {
		s.logger.Debug("unknown controller", "controller", id, "request_id", requestIDFrom(r.Context()))
		writeNotFound(w)
		return
	}
	s.logger.Error("controller update failed", "controller", id, "error", err)
	writeInternalError(w)
}

// persist hands snap to the saver. The write happens in the background, so
// neither a slow store nor a failed write changes the response.
func (s *Server) persist(r *http.Request, snap controller.Snapshot) {
	if s.persister == nil {
		return
	}

	s.persister.Submit(snap)
	s.logger.Debug("snapshot queued for persistence",
		"version", snap.Version,
		"request_id", requestIDFrom(r.Context()),
	)
}

// formFloat parses a finite float field. Absent or empty yields 0.
func formFloat(form url.Values, key string) (float64, error) {
	raw := strings.TrimSpace(form.Get(key))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number", key)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s must be finite", key)
	}
	return v, nil
}

// formBool parses a boolean field. Absent or empty yields false.
func formBool(form url.Values, key string) (bool, error) {
	raw := strings.TrimSpace(form.Get(key))
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be true or false", key)
	}
	return v, nil
}

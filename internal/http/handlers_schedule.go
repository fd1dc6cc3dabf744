package http

import (
	"errors"
	"net/http"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/recurrence"
)

const defaultPreviewCount = 5

var errMissingEnabled = errors.New("enabled is required")

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var sch core.ScheduledTransaction
	if err := decodeJSON(w, r, &sch); err != nil {
		writeError(w, r, err)
		return
	}
	created, err := s.scheduler.CreateSchedule(r.Context(), sch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/schedules/"+created.ID).
		JSON(created).
		Write(w)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sch, err := s.scheduler.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sch)
}

type enabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req enabledRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Enabled == nil {
		writeError(w, r, core.Invalid("enabled", errMissingEnabled))
		return
	}
	sch, err := s.scheduler.SetEnabled(r.Context(), id, *req.Enabled)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sch)
}

// handlePost materializes the pending occurrence and advances the schedule.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.scheduler.Post(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sch, err := s.scheduler.Skip(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sch)
}

type dueResponse struct {
	AsOf      time.Time                   `json:"asOf"`
	Horizon   string                      `json:"horizon"`
	Schedules []core.ScheduledTransaction `json:"schedules"`
}

func (s *Server) handleDue(w http.ResponseWriter, r *http.Request) {
	horizon, err := queryDuration(r.URL.Query(), "horizon", s.dueHorizon)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := dueResponse{
		AsOf:      s.clock.Now(),
		Horizon:   horizon.String(),
		Schedules: []core.ScheduledTransaction{},
	}
	for sch, err := range s.scheduler.DuePending(r.Context(), resp.AsOf, horizon) {
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp.Schedules = append(resp.Schedules, sch)
	}
	writeJSON(w, http.StatusOK, resp)
}

type previewResponse struct {
	Pattern     core.RecurrencePattern `json:"recurrencePattern"`
	Value       int                    `json:"recurrenceValue"`
	From        time.Time              `json:"from"`
	Occurrences []time.Time            `json:"occurrences"`
}

func (s *Server) handleSchedulePreview(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := queryCount(r.URL.Query(), "n", defaultPreviewCount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sch, err := s.scheduler.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	dates, err := s.scheduler.Preview(r.Context(), id, n)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, previewResponse{
		Pattern:     sch.Pattern,
		Value:       sch.Interval(),
		From:        sch.NextOccurrence,
		Occurrences: dates,
	})
}

// handleRecurrencePreview evaluates a rule without any stored schedule. The
// occurrences start strictly after from.
func (s *Server) handleRecurrencePreview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rule := core.ScheduledTransaction{Pattern: core.RecurrencePattern(q.Get("pattern"))}

	var err error
	if rule.Value, err = queryInt(q, "value", 0); err != nil {
		writeError(w, r, err)
		return
	}
	from, err := queryTime(q, "from", s.clock.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := queryCount(q, "n", defaultPreviewCount)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if !rule.Pattern.IsValid() || !rule.Pattern.ValidValue(rule.Value) {
		writeError(w, r, &core.InvalidRuleError{Pattern: rule.Pattern, Value: rule.Value})
		return
	}
	dates, err := recurrence.Occurrences(rule.Pattern, rule.Interval(), from, n)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, previewResponse{
		Pattern:     rule.Pattern,
		Value:       rule.Interval(),
		From:        from,
		Occurrences: dates,
	})
}

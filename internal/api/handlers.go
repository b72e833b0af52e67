package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/officefloor/officefloor/internal/auth"
	"github.com/officefloor/officefloor/internal/execute"
	"github.com/officefloor/officefloor/internal/journal"
	"github.com/officefloor/officefloor/internal/meta"
	"github.com/officefloor/officefloor/internal/officefloor"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:          "ok",
		UptimeSeconds:   int64(time.Since(s.startedAt).Seconds()),
		Offices:         len(s.floor.Offices()),
		ActiveProcesses: s.floor.Active(),
	})
}

// handleListOffices handles GET /offices. Only offices the token may read
// are listed.
func (s *Server) handleListOffices(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	out := []OfficeResponse{}
	for _, office := range s.floor.Offices() {
		if auth.CanAccessOffice(principal, office.Name, false) {
			out = append(out, describeOffice(office))
		}
	}
	respondJSON(w, http.StatusOK, out)
}

// handleGetOffice handles GET /offices/{office}
func (s *Server) handleGetOffice(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "office")
	principal, _ := auth.PrincipalFromContext(r.Context())
	if !auth.CanAccessOffice(principal, name, false) {
		s.writeError(w, http.StatusForbidden, "insufficient scope")
		return
	}
	office, ok := s.office(name)
	if !ok {
		s.writeError(w, http.StatusNotFound, "office not found")
		return
	}
	respondJSON(w, http.StatusOK, describeOffice(office))
}

func (s *Server) office(name string) (*meta.Office, bool) {
	for _, o := range s.floor.Offices() {
		if o.Name == name {
			return o, true
		}
	}
	return nil, false
}

func describeOffice(o *meta.Office) OfficeResponse {
	resp := OfficeResponse{Name: o.Name, Fingerprint: o.Fingerprint, Functions: []FunctionResponse{}}
	for _, fn := range o.Functions {
		f := FunctionResponse{Name: fn.Name}
		if fn.Team != nil {
			f.Team = fn.Team.Name
		}
		if fn.Next != meta.None && fn.Next < len(o.Functions) {
			f.Next = o.Functions[fn.Next].Name
		}
		for key := range fn.Flows {
			f.Flows = append(f.Flows, key)
		}
		sort.Strings(f.Flows)
		resp.Functions = append(resp.Functions, f)
	}
	for _, mo := range o.ManagedObjects {
		resp.ManagedObjects = append(resp.ManagedObjects, mo.Name)
	}
	for _, g := range o.Governances {
		resp.Governances = append(resp.Governances, g.Name)
	}
	return resp
}

// handleInvoke handles POST /offices/{office}/inputs/{function}. The process
// runs detached from the request; with ?wait=true the response carries the
// outcome unless the wait times out first.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	officeName := chi.URLParam(r, "office")
	functionName := chi.URLParam(r, "function")

	principal, _ := auth.PrincipalFromContext(r.Context())
	if !auth.CanAccessOffice(principal, officeName, true) {
		s.writeError(w, http.StatusForbidden, "insufficient scope")
		return
	}

	var req InvokeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	var parameter any
	if len(req.Parameter) > 0 {
		if err := json.Unmarshal(req.Parameter, &parameter); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid parameter")
			return
		}
	}

	wait := r.URL.Query().Get("wait") == "true"
	waitTimeout := s.config.MaxInvokeTimeout
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid timeout")
			return
		}
		if waitTimeout <= 0 || d < waitTimeout {
			waitTimeout = d
		}
	}
	if wait {
		select {
		case s.syncSemaphore <- struct{}{}:
			defer func() { <-s.syncSemaphore }()
		default:
			s.logger.Warn("too many concurrent synchronous requests", "office", officeName, "function", functionName)
			s.writeError(w, http.StatusServiceUnavailable, "too many concurrent synchronous requests, please try again later or invoke without wait")
			return
		}
	}

	outcomes := make(chan execute.Outcome, 1)
	ctx := officefloor.WithSubmitter(context.WithoutCancel(r.Context()), "api:"+principal.Name())
	startTime := time.Now()
	processID, err := s.floor.Invoke(ctx, officeName, functionName, parameter, func(o execute.Outcome) { outcomes <- o })
	if err != nil {
		switch {
		case errors.Is(err, officefloor.ErrUnknownInput):
			s.writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, officefloor.ErrClosed):
			s.writeError(w, http.StatusServiceUnavailable, "office floor is closing")
		default:
			s.logger.Error("failed to invoke", "office", officeName, "function", functionName, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to invoke")
		}
		return
	}
	s.logger.Info("process invoked via API", "process_id", processID, "office", officeName, "function", functionName)

	resp := InvokeResponse{
		ProcessID: processID,
		Status:    "running",
		Office:    officeName,
		Function:  functionName,
	}
	if !wait {
		respondJSON(w, http.StatusAccepted, resp)
		return
	}

	var timeout <-chan time.Time
	if waitTimeout > 0 {
		timer := time.NewTimer(waitTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case out := <-outcomes:
		resp.DurationMs = time.Since(startTime).Milliseconds()
		resp.Status = string(journal.StatusCompleted)
		if out.Err != nil {
			resp.Status = string(journal.StatusFailed)
			resp.Error = out.Err.Error()
		} else {
			resp.Result = jsonSafe(out.Result)
		}
		respondJSON(w, http.StatusOK, resp)
	case <-timeout:
		resp.TimeoutExceeded = true
		respondJSON(w, http.StatusAccepted, resp)
	case <-r.Context().Done():
	}
}

// jsonSafe returns v when it encodes as JSON, else its printed form.
func jsonSafe(v any) any {
	if _, err := json.Marshal(v); err != nil {
		return fmt.Sprint(v)
	}
	return v
}

// parseLimit reads ?limit=N, defaulting to 50 and capped at 500.
func parseLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 50, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return min(n, 500), true
}

// handleListProcesses handles GET /processes?limit=N
func (s *Server) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	if s.processes == nil {
		s.writeError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	limit, ok := parseLimit(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	entries, err := s.processes.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list processes", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list processes")
		return
	}
	out := make([]ProcessResponse, 0, len(entries))
	for i := range entries {
		out = append(out, processResponse(&entries[i]))
	}
	respondJSON(w, http.StatusOK, out)
}

// handleGetProcess handles GET /processes/{processID}
func (s *Server) handleGetProcess(w http.ResponseWriter, r *http.Request) {
	if s.processes == nil {
		s.writeError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	processID := chi.URLParam(r, "processID")

	entry, err := s.processes.Get(r.Context(), processID)
	if err != nil {
		if errors.Is(err, journal.ErrProcessNotFound) {
			s.writeError(w, http.StatusNotFound, "process not found")
			return
		}
		s.logger.Error("failed to retrieve process", "process_id", processID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve process")
		return
	}
	respondJSON(w, http.StatusOK, processResponse(entry))
}

func processResponse(e *journal.Entry) ProcessResponse {
	return ProcessResponse{
		ProcessID:   e.ID,
		Status:      string(e.Status),
		Office:      e.Office,
		Function:    e.Function,
		Parameter:   e.Parameter,
		Result:      e.Result,
		Error:       e.LastError,
		SubmittedBy: e.SubmittedBy,
		StartedAt:   e.StartedAt,
		CompletedAt: e.CompletedAt,
		DurationMs:  e.Duration.Milliseconds(),
	}
}

// handleListEscalations handles GET /escalations?limit=N, newest first.
func (s *Server) handleListEscalations(w http.ResponseWriter, r *http.Request) {
	if s.processes == nil {
		s.writeError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	limit, ok := parseLimit(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	list, err := s.processes.Escalations(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list escalations", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list escalations")
		return
	}
	out := make([]EscalationResponse, 0, len(list))
	for _, e := range list {
		out = append(out, EscalationResponse{
			Office:     e.Office,
			Function:   e.Function,
			Kind:       e.Kind,
			Handler:    e.Handler,
			Level:      e.Level,
			RecordedAt: e.RecordedAt,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// handleMetrics handles GET /metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		s.writeError(w, http.StatusServiceUnavailable, "metrics disabled")
		return
	}
	s.metrics.ServeHTTP(w, r)
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

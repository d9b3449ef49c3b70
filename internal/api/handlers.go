package api

import (
	"net/http"

	"churn-calc/internal/calculator"
	"churn-calc/internal/common/metrics"
	"churn-calc/internal/narrative"
	"churn-calc/internal/session"

	"github.com/google/uuid"
)

type calculationResponse struct {
	Results   calculator.CalculatorResults `json:"results"`
	Profile   calculator.StoreProfile      `json:"profile"`
	Narrative *narrative.Analysis          `json:"narrative,omitempty"`
}

type sessionCalculationResponse struct {
	Session         *session.State               `json:"session"`
	Results         calculator.CalculatorResults `json:"results"`
	Profile         calculator.StoreProfile      `json:"profile"`
	NarrativeStatus session.NarrativeStatus      `json:"narrativeStatus"`
}

type narrativeResponse struct {
	Status   session.NarrativeStatus `json:"status"`
	Analysis *narrative.Analysis     `json:"analysis,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	state, err := s.store.Create(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	metrics.SessionsCreated.Inc()
	writeJSON(w, http.StatusCreated, state)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	state, err := s.store.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleResetSession is "start over". With ?purge=true the session is removed.
func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if r.URL.Query().Get("purge") == "true" {
		if err := s.store.Delete(r.Context(), id); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.update(w, r, id, session.Reset{})
}

func (s *Server) handleSetMetrics(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	inputs, err := decodeMetrics(data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.update(w, r, r.PathValue("id"), session.SetBusinessMetrics{Inputs: inputs})
}

func (s *Server) handleSetContact(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	contact, err := decodeContact(data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.update(w, r, r.PathValue("id"), session.SetContact{Contact: contact})
}

func (s *Server) handleGoToStep(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req stepRequest
	if err := decode(stepSchema, data, &req); err != nil {
		s.writeError(w, err)
		return
	}
	s.update(w, r, r.PathValue("id"), session.GoToStep{Step: req.Step})
}

func (s *Server) update(w http.ResponseWriter, r *http.Request, id string, actions ...session.Action) {
	state, err := s.store.Update(r.Context(), id, actions...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleCalculateSession answers with the results straight away. The
// narrative and the lead delivery continue in the background.
func (s *Server) handleCalculateSession(w http.ResponseWriter, r *http.Request) {
	state, err := s.store.Update(r.Context(), r.PathValue("id"), session.Calculate{
		CalculationID: uuid.NewString(),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	results, profile := *state.Results, *state.Profile
	metrics.CalculationsTotal.WithLabelValues("session", string(profile.ChurnSeverity)).Inc()

	s.startBackground(r.Context(), state)

	writeJSON(w, http.StatusOK, sessionCalculationResponse{
		Session:         state,
		Results:         results,
		Profile:         profile,
		NarrativeStatus: state.NarrativeStatus,
	})
}

func (s *Server) handleGetNarrative(w http.ResponseWriter, r *http.Request) {
	state, err := s.store.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, narrativeResponse{
		Status:   state.NarrativeStatus,
		Analysis: state.Narrative,
	})
}

// handleCalculate is the stateless projection. The narrative is only
// produced on request, synchronously.
func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req calculateRequest
	if err := decode(calculateSchema, data, &req); err != nil {
		s.writeError(w, err)
		return
	}
	inputs, err := decodeMetrics(req.Metrics)
	if err != nil {
		s.writeError(w, err)
		return
	}

	nreq := narrative.NewRequest(req.CompanyName, inputs)
	metrics.CalculationsTotal.WithLabelValues("api", string(nreq.Profile.ChurnSeverity)).Inc()

	resp := calculationResponse{Results: nreq.Results, Profile: nreq.Profile}
	if req.IncludeNarrative && s.narrator != nil {
		resp.Narrative = s.narrator.Generate(r.Context(), nreq)
	}
	writeJSON(w, http.StatusOK, resp)
}

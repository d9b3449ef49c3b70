package api

import (
	"context"

	"churn-calc/internal/common/errors"
	"churn-calc/internal/lead"
	"churn-calc/internal/narrative"
	"churn-calc/internal/session"

	"golang.org/x/sync/errgroup"
)

// startBackground generates the narrative and delivers the lead for the
// calculation recorded in state. The work outlives the request; results
// are written back only while the session still holds the same calculation.
func (s *Server) startBackground(ctx context.Context, state *session.State) {
	req, ok := state.NarrativeRequest()
	if !ok {
		return
	}
	snapshot := *state

	s.background.Add(1)
	go func() {
		defer s.background.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.bgTimeout)
		defer cancel()

		var (
			analysis *narrative.Analysis
			captured *lead.Lead
			g        errgroup.Group
		)
		g.Go(func() error {
			analysis = s.generateNarrative(ctx, &snapshot, req)
			return nil
		})
		g.Go(func() error {
			captured = s.syncLead(ctx, &snapshot)
			return nil
		})
		_ = g.Wait()

		s.notify(ctx, captured, analysis)
	}()
}

func (s *Server) generateNarrative(ctx context.Context, state *session.State, req narrative.Request) *narrative.Analysis {
	if s.narrator == nil {
		s.apply(ctx, state, session.SetNarrativeStatus{
			CalculationID: state.CalculationID,
			Status:        session.NarrativeIdle,
		})
		return nil
	}

	analysis := s.narrator.Generate(ctx, req)
	s.apply(ctx, state, session.SetNarrative{
		CalculationID: state.CalculationID,
		Analysis:      analysis,
	})
	return analysis
}

// syncLead returns the captured lead even when delivery fails so the
// report can still be emailed. It returns nil for an invalid lead.
func (s *Server) syncLead(ctx context.Context, state *session.State) *lead.Lead {
	l, err := lead.FromSession(state, s.now())
	if err != nil {
		return nil
	}
	if err := l.Validate(); err != nil {
		s.logger.Warn("Skipping invalid lead", map[string]interface{}{
			"sessionId": state.ID,
			"error":     err.Error(),
		})
		return nil
	}
	if s.sink == nil {
		return l
	}

	receipt, err := s.sink.Submit(ctx, l)
	if err != nil {
		s.logger.Error("Lead sync failed", map[string]interface{}{
			"sessionId": state.ID,
			"leadId":    l.ID,
			"sink":      s.sink.Name(),
			"error":     err.Error(),
		})
		return l
	}

	s.logger.Info("Lead synced", map[string]interface{}{
		"sessionId":  state.ID,
		"leadId":     l.ID,
		"sink":       receipt.Sink,
		"externalId": receipt.ExternalID,
		"created":    receipt.Created,
	})
	s.apply(ctx, state, session.MarkLeadSynced{CalculationID: state.CalculationID})
	return l
}

func (s *Server) notify(ctx context.Context, l *lead.Lead, analysis *narrative.Analysis) {
	if s.notifier == nil || l == nil {
		return
	}
	if _, err := s.notifier.Notify(ctx, l, analysis); err != nil {
		s.logger.Warn("Lead notification failed", map[string]interface{}{
			"leadId": l.ID,
			"error":  err.Error(),
		})
	}
}

// apply writes a background result back to the session. A recalculated
// or reset session rejects it, which is expected.
func (s *Server) apply(ctx context.Context, state *session.State, action session.Action) {
	_, err := s.store.Update(ctx, state.ID, action)
	switch {
	case err == nil:
	case errors.HasCode(err, errors.ErrCodeSessionStepInvalid), errors.HasCode(err, errors.ErrCodeSessionNotFound):
		s.logger.Debug("Discarding stale background result", map[string]interface{}{
			"sessionId":     state.ID,
			"calculationId": state.CalculationID,
			"reason":        err.Error(),
		})
	default:
		s.logger.Error("Failed to store background result", map[string]interface{}{
			"sessionId": state.ID,
			"error":     err.Error(),
		})
	}
}

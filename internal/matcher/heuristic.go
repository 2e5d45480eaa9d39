package matcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/enforcement-sync/internal/metrics"
	"github.com/sells-group/enforcement-sync/internal/model"
	"github.com/sells-group/enforcement-sync/pkg/anthropic"
	"github.com/sells-group/enforcement-sync/pkg/geocode"
	"github.com/sells-group/enforcement-sync/pkg/ticketing"
)

const classifierMaxTokens = 512

// heuristic geocodes the violation, gathers nearby open tickets and asks the
// classifier to pick one. Every attempt writes one match log row.
func (m *Matcher) heuristic(ctx context.Context, rec *model.Record) (*model.MatchResult, error) {
	key := rec.Key()
	start := m.now()
	entry := model.MatchLogEntry{Key: key, Method: model.MatchHeuristic, Model: m.cfg.Model}

	finish := func(reason model.ReviewReason, cands []model.Candidate, errMsg string) (*model.MatchResult, error) {
		entry.DurationMs = m.now().Sub(start).Milliseconds()
		if errMsg != "" {
			entry.Error = errMsg
		}
		m.logMatch(ctx, entry)
		if reason == "" {
			return nil, nil
		}
		return m.review(ctx, rec, reason, cands)
	}

	geo, err := m.geo.Geocode(ctx, geocode.AddressInput{
		Street: rec.Field(model.FieldAddress),
		City:   m.cfg.City,
		State:  m.cfg.State,
	})
	if err != nil {
		return finish(model.ReasonGeocodeFailed, nil, err.Error())
	}
	if !geo.Matched {
		return finish(model.ReasonGeocodeFailed, nil, "address did not geocode")
	}

	tickets, err := m.tickets.NearbyTickets(ctx, ticketing.NearbyQuery{
		Lat:          geo.Latitude,
		Lng:          geo.Longitude,
		RadiusMeters: m.cfg.RadiusMeters,
		CreatedAfter: start.AddDate(0, 0, -m.cfg.LookbackDays),
	})
	if err != nil {
		return finish(model.ReasonAPIError, nil, err.Error())
	}

	cands := rankCandidates(point(geo.Latitude, geo.Longitude), tickets, m.cfg.RadiusMeters, m.cfg.MaxCandidates)
	entry.CandidateCount = len(cands)
	if len(cands) == 0 {
		return finish(model.ReasonNoCandidates, nil, "")
	}

	prompt, err := buildPrompt(rec, cands)
	if err != nil {
		return finish(model.ReasonParseError, cands, err.Error())
	}

	temp := 0.0
	resp, err := m.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       m.cfg.Model,
		MaxTokens:   classifierMaxTokens,
		System:      systemPrompt,
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	})
	if err != nil {
		return finish(model.ReasonAPIError, cands, err.Error())
	}

	entry.InputTokens = resp.Usage.InputTokens
	entry.OutputTokens = resp.Usage.OutputTokens
	entry.CostUSD = resp.Usage.EstimateCost(m.cfg.Model)
	metrics.MatchCost.Add(entry.CostUSD)

	cls, err := parseClassification(m.schema, resp.Text(), cands)
	if err != nil {
		return finish(model.ReasonParseError, cands, err.Error())
	}
	entry.Confidence = cls.Confidence
	entry.Reasoning = cls.Reasoning
	if cls.TicketID != nil {
		entry.SelectedTicket = *cls.TicketID
	}

	if cls.TicketID == nil || !cls.Confidence.Accepted() {
		return finish(model.ReasonLowConfidence, cands, "")
	}

	ticketID := *cls.TicketID
	if err := m.link(ctx, key, ticketID, model.MatchHeuristic, cls.Confidence); err != nil {
		return nil, err
	}
	m.stamp(ctx, key, ticketID)
	if _, err := finish("", nil, ""); err != nil {
		return nil, err
	}

	m.log.Info("matched by heuristic",
		zap.String("key", key),
		zap.Int64("ticket_id", ticketID),
		zap.String("confidence", string(cls.Confidence)),
		zap.Int("candidates", len(cands)),
		zap.Duration("elapsed", time.Duration(entry.DurationMs)*time.Millisecond),
	)
	return &model.MatchResult{
		TicketID:   ticketID,
		Method:     model.MatchHeuristic,
		Confidence: cls.Confidence,
	}, nil
}

// logMatch writes the audit row. A failed write is logged, not returned.
func (m *Matcher) logMatch(ctx context.Context, entry model.MatchLogEntry) {
	if err := m.store.LogMatch(ctx, entry); err != nil {
		m.log.Warn("failed to write match log", zap.String("key", entry.Key), zap.Error(err))
	}
}

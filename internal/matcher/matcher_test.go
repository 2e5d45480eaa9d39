package matcher

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enforcement-sync/internal/config"
	"github.com/sells-group/enforcement-sync/internal/model"
	"github.com/sells-group/enforcement-sync/internal/store"
	"github.com/sells-group/enforcement-sync/pkg/geocode"
	"github.com/sells-group/enforcement-sync/pkg/ticketing"
	"github.com/sells-group/enforcement-sync/pkg/ticketing/mocks"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	m       *Matcher
	st      *store.SQLiteStore
	tickets *mocks.MockClient
	geo     *mockGeocoder
	llm     *mockLLM
}

func newHarness(t *testing.T, enabled bool) *harness {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "match.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	h := &harness{st: st, tickets: new(mocks.MockClient), geo: new(mockGeocoder), llm: new(mockLLM)}
	cfg := config.MatchingConfig{
		Enabled:       enabled,
		Model:         "claude-haiku-4-5-20251001",
		RadiusMeters:  150,
		LookbackDays:  90,
		MaxCandidates: 10,
		City:          "Austin",
		State:         "TX",
	}
	h.m, err = New(st, h.tickets, cfg, WithHeuristic(h.geo, h.llm), WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	return h
}

func violation() *model.Record {
	rec := &model.Record{
		Type: model.RecordViolation,
		Identity: model.IdentityKey{
			Type: model.RecordViolation, CaseNumber: "CC24-1", Kind: "WEEDS", Date: "2024-01-01",
		},
		Fields: map[string]string{
			model.FieldCaseNumber:    "CC24-1",
			model.FieldViolationType: "WEEDS",
			model.FieldViolationDate: "2024-01-01",
			model.FieldStatus:        "OPEN",
			model.FieldAddress:       "100 Main St",
		},
	}
	return rec
}

func (h *harness) seedState(t *testing.T, rec *model.Record) {
	t.Helper()
	require.NoError(t, h.st.UpsertStates(context.Background(), model.RecordViolation, []model.StateUpsert{{
		Key: rec.Key(), Signature: "OPEN", ContentHash: "h", Payload: []byte(`{}`), SeenAt: testNow,
	}}))
}

func (h *harness) geocodes() {
	h.geo.On("Geocode", mock.Anything, geocode.AddressInput{Street: "100 Main St", City: "Austin", State: "TX"}).
		Return(&geocode.Result{Latitude: 30.2672, Longitude: -97.7431, Matched: true}, nil)
}

func (h *harness) nearby(tickets ...ticketing.Ticket) {
	h.tickets.On("NearbyTickets", mock.Anything, mock.MatchedBy(func(q ticketing.NearbyQuery) bool {
		return q.RadiusMeters == 150 && q.CreatedAfter.Equal(testNow.AddDate(0, 0, -90))
	})).Return(tickets, nil)
}

func closeTicket(id int64) ticketing.Ticket {
	return ticketing.Ticket{ID: id, Summary: "Overgrown yard", Lat: 30.2673, Lng: -97.7431, Status: "open", CreatedAt: testNow.AddDate(0, 0, -10)}
}

func pending(t *testing.T, h *harness) []model.ReviewItem {
	t.Helper()
	items, err := h.st.ListReviews(context.Background(), model.ReviewPending, 10)
	require.NoError(t, err)
	return items
}

func TestMatch_CachedSkipsExternalCalls(t *testing.T) {
	h := newHarness(t, true)
	rec := violation()
	h.seedState(t, rec)
	require.NoError(t, h.st.SetTicketLink(context.Background(), model.TicketLink{
		Key: rec.Key(), TicketID: 55, Method: model.MatchHeuristic, Confidence: model.ConfidenceHigh, MatchedAt: testNow,
	}))

	res, err := h.m.Match(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, int64(55), res.TicketID)
	assert.Equal(t, model.MatchCached, res.Method)
	h.tickets.AssertNotCalled(t, "FindTicketByExternalID", mock.Anything, mock.Anything)
	h.geo.AssertNotCalled(t, "Geocode", mock.Anything, mock.Anything)
	h.llm.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestMatch_ExternalIDSkipsHeuristic(t *testing.T) {
	h := newHarness(t, true)
	rec := violation()
	h.seedState(t, rec)
	h.tickets.On("FindTicketByExternalID", mock.Anything, rec.Key()).Return(&ticketing.Ticket{ID: 77, ExternalID: rec.Key()}, nil)

	res, err := h.m.Match(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, int64(77), res.TicketID)
	assert.Equal(t, model.MatchExternalID, res.Method)
	h.geo.AssertNotCalled(t, "Geocode", mock.Anything, mock.Anything)
	h.llm.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)

	states, err := h.st.GetStates(context.Background(), model.RecordViolation, []string{rec.Key()})
	require.NoError(t, err)
	assert.Equal(t, int64(77), states[rec.Key()].TicketID)
	assert.Equal(t, string(model.MatchExternalID), states[rec.Key()].MatchMethod)
}

func TestMatch_HeuristicDisabledReturnsNoMatchWithoutReview(t *testing.T) {
	h := newHarness(t, false)
	rec := violation()
	h.tickets.On("FindTicketByExternalID", mock.Anything, rec.Key()).Return(nil, nil)

	res, err := h.m.Match(context.Background(), rec)
	require.NoError(t, err)
	assert.False(t, res.Matched())
	assert.False(t, res.NeedsReview)
	assert.Equal(t, model.MatchNone, res.Method)
	assert.Empty(t, pending(t, h))
}

func TestMatch_NoCandidatesQueuesReview(t *testing.T) {
	h := newHarness(t, true)
	rec := violation()
	h.tickets.On("FindTicketByExternalID", mock.Anything, rec.Key()).Return(nil, nil)
	h.geocodes()
	h.nearby()

	res, err := h.m.Match(context.Background(), rec)
	require.NoError(t, err)
	assert.Zero(t, res.TicketID)
	assert.True(t, res.NeedsReview)
	assert.Equal(t, model.ReasonNoCandidates, res.Reason)

	items := pending(t, h)
	require.Len(t, items, 1)
	assert.Equal(t, model.ReasonNoCandidates, items[0].Reason)

	logs, err := h.st.MatchLogs(context.Background(), rec.Key())
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 0, logs[0].CandidateCount)
	h.llm.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestMatch_ReviewNotDuplicatedWhilePending(t *testing.T) {
	h := newHarness(t, true)
	rec := violation()
	h.tickets.On("FindTicketByExternalID", mock.Anything, rec.Key()).Return(nil, nil)
	h.geocodes()
	h.nearby()

	for range 2 {
		res, err := h.m.Match(context.Background(), rec)
		require.NoError(t, err)
		assert.True(t, res.NeedsReview)
	}
	assert.Len(t, pending(t, h), 1)
}

func TestMatch_HighConfidenceCachesAndStamps(t *testing.T) {
	h := newHarness(t, true)
	rec := violation()
	h.seedState(t, rec)
	h.tickets.On("FindTicketByExternalID", mock.Anything, rec.Key()).Return(nil, nil)
	h.geocodes()
	h.nearby(closeTicket(10), closeTicket(11))
	h.llm.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("```json\n{\"ticket_id\": 11, \"confidence\": \"high\", \"reasoning\": \"same yard\"}\n```"), nil)
	h.tickets.On("SetExternalID", mock.Anything, int64(11), rec.Key()).Return(nil)

	res, err := h.m.Match(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, int64(11), res.TicketID)
	assert.Equal(t, model.MatchHeuristic, res.Method)
	assert.Equal(t, model.ConfidenceHigh, res.Confidence)
	assert.False(t, res.NeedsReview)
	h.tickets.AssertExpectations(t)

	states, err := h.st.GetStates(context.Background(), model.RecordViolation, []string{rec.Key()})
	require.NoError(t, err)
	assert.Equal(t, int64(11), states[rec.Key()].TicketID)
	assert.Equal(t, "high", states[rec.Key()].MatchConfidence)

	logs, err := h.st.MatchLogs(context.Background(), rec.Key())
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 2, logs[0].CandidateCount)
	assert.Equal(t, int64(11), logs[0].SelectedTicket)
	assert.Equal(t, int64(900), logs[0].InputTokens)
	assert.Positive(t, logs[0].CostUSD)
	assert.Empty(t, pending(t, h))
}

func TestMatch_StampFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, true)
	rec := violation()
	h.seedState(t, rec)
	h.tickets.On("FindTicketByExternalID", mock.Anything, rec.Key()).Return(nil, nil)
	h.geocodes()
	h.nearby(closeTicket(10))
	h.llm.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"ticket_id": 10, "confidence": "medium", "reasoning": "likely"}`), nil)
	h.tickets.On("SetExternalID", mock.Anything, int64(10), rec.Key()).Return(errors.New("503"))

	res, err := h.m.Match(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.TicketID)
}

func TestMatch_LowConfidenceNeverCached(t *testing.T) {
	h := newHarness(t, true)
	rec := violation()
	h.seedState(t, rec)
	h.tickets.On("FindTicketByExternalID", mock.Anything, rec.Key()).Return(nil, nil)
	h.geocodes()
	h.nearby(closeTicket(10))
	h.llm.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"ticket_id": 10, "confidence": "low", "reasoning": "unsure"}`), nil)

	res, err := h.m.Match(context.Background(), rec)
	require.NoError(t, err)
	assert.Zero(t, res.TicketID)
	assert.True(t, res.NeedsReview)
	assert.Equal(t, model.ReasonLowConfidence, res.Reason)

	states, err := h.st.GetStates(context.Background(), model.RecordViolation, []string{rec.Key()})
	require.NoError(t, err)
	assert.False(t, states[rec.Key()].HasTicket())
	h.tickets.AssertNotCalled(t, "SetExternalID", mock.Anything, mock.Anything, mock.Anything)

	items := pending(t, h)
	require.Len(t, items, 1)
	assert.Len(t, items[0].Candidates, 1)
}

func TestMatch_NullSelectionIsLowConfidence(t *testing.T) {
	h := newHarness(t, true)
	rec := violation()
	h.tickets.On("FindTicketByExternalID", mock.Anything, rec.Key()).Return(nil, nil)
	h.geocodes()
	h.nearby(closeTicket(10))
	h.llm.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"ticket_id": null, "confidence": "high", "reasoning": "different issue"}`), nil)

	res, err := h.m.Match(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, model.ReasonLowConfidence, res.Reason)
}

func TestMatch_OutOfSetSelectionIsParseError(t *testing.T) {
	h := newHarness(t, true)
	rec := violation()
	h.tickets.On("FindTicketByExternalID", mock.Anything, rec.Key()).Return(nil, nil)
	h.geocodes()
	h.nearby(closeTicket(10))
	h.llm.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"ticket_id": 999, "confidence": "high", "reasoning": "?"}`), nil)

	res, err := h.m.Match(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, model.ReasonParseError, res.Reason)
	assert.Zero(t, res.TicketID)
}

func TestMatch_MalformedResponseIsParseError(t *testing.T) {
	h := newHarness(t, true)
	rec := violation()
	h.tickets.On("FindTicketByExternalID", mock.Anything, rec.Key()).Return(nil, nil)
	h.geocodes()
	h.nearby(closeTicket(10))
	h.llm.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"ticket_id": 10, "confidence": "certain"}`), nil)

	res, err := h.m.Match(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, model.ReasonParseError, res.Reason)
}

func TestMatch_ClassifierFailureIsAPIError(t *testing.T) {
	h := newHarness(t, true)
	rec := violation()
	h.tickets.On("FindTicketByExternalID", mock.Anything, rec.Key()).Return(nil, nil)
	h.geocodes()
	h.nearby(closeTicket(10))
	h.llm.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("overloaded"))

	res, err := h.m.Match(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, model.ReasonAPIError, res.Reason)

	logs, err := h.st.MatchLogs(context.Background(), rec.Key())
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0].Error, "overloaded")
}

func TestMatch_GeocodeMissQueuesReview(t *testing.T) {
	h := newHarness(t, true)
	rec := violation()
	h.tickets.On("FindTicketByExternalID", mock.Anything, rec.Key()).Return(nil, nil)
	h.geo.On("Geocode", mock.Anything, mock.Anything).Return(&geocode.Result{}, nil)

	res, err := h.m.Match(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, model.ReasonGeocodeFailed, res.Reason)
	h.tickets.AssertNotCalled(t, "NearbyTickets", mock.Anything, mock.Anything)
}

func TestMatch_ExternalLookupErrorPropagates(t *testing.T) {
	h := newHarness(t, true)
	rec := violation()
	h.tickets.On("FindTicketByExternalID", mock.Anything, rec.Key()).Return(nil, errors.New("502 after retries"))

	_, err := h.m.Match(context.Background(), rec)
	require.Error(t, err)
	assert.Empty(t, pending(t, h))
}

func TestMatch_RejectsNonViolation(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.m.Match(context.Background(), &model.Record{Type: model.RecordPermit})
	assert.Error(t, err)
}

func TestResolve_WritesManualLinkAndStamps(t *testing.T) {
	h := newHarness(t, true)
	rec := violation()
	h.seedState(t, rec)
	h.tickets.On("FindTicketByExternalID", mock.Anything, rec.Key()).Return(nil, nil)
	h.geocodes()
	h.nearby()

	_, err := h.m.Match(context.Background(), rec)
	require.NoError(t, err)
	items := pending(t, h)
	require.Len(t, items, 1)

	h.tickets.On("SetExternalID", mock.Anything, int64(300), rec.Key()).Return(nil)
	item, err := h.m.Resolve(context.Background(), items[0].ID, 300, "matched by hand")
	require.NoError(t, err)
	assert.Equal(t, model.ReviewResolved, item.Status)

	states, err := h.st.GetStates(context.Background(), model.RecordViolation, []string{rec.Key()})
	require.NoError(t, err)
	assert.Equal(t, int64(300), states[rec.Key()].TicketID)
	assert.Equal(t, string(model.MatchManual), states[rec.Key()].MatchMethod)
	assert.Empty(t, pending(t, h))

	_, err = h.m.Resolve(context.Background(), items[0].ID, 300, "again")
	assert.ErrorIs(t, err, ErrReviewClosed)
}

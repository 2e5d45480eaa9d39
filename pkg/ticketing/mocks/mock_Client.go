// Package mocks provides test doubles for the ticketing client.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	ticketing "github.com/sells-group/enforcement-sync/pkg/ticketing"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

var _ ticketing.Client = (*MockClient)(nil)

// FindTicketByExternalID provides a mock function with given fields: ctx, externalID
func (_m *MockClient) FindTicketByExternalID(ctx context.Context, externalID string) (*ticketing.Ticket, error) {
	ret := _m.Called(ctx, externalID)
	var r0 *ticketing.Ticket
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*ticketing.Ticket)
	}
	return r0, ret.Error(1)
}

// FindTicketsByExternalIDPrefix provides a mock function with given fields: ctx, prefix
func (_m *MockClient) FindTicketsByExternalIDPrefix(ctx context.Context, prefix string) ([]ticketing.Ticket, error) {
	ret := _m.Called(ctx, prefix)
	var r0 []ticketing.Ticket
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]ticketing.Ticket)
	}
	return r0, ret.Error(1)
}

// ChangeTicketStatus provides a mock function with given fields: ctx, ticketID, stepID, comment
func (_m *MockClient) ChangeTicketStatus(ctx context.Context, ticketID, stepID int64, comment string) error {
	return _m.Called(ctx, ticketID, stepID, comment).Error(0)
}

// AddComment provides a mock function with given fields: ctx, ticketID, comment
func (_m *MockClient) AddComment(ctx context.Context, ticketID int64, comment string) error {
	return _m.Called(ctx, ticketID, comment).Error(0)
}

// SetExternalID provides a mock function with given fields: ctx, ticketID, externalID
func (_m *MockClient) SetExternalID(ctx context.Context, ticketID int64, externalID string) error {
	return _m.Called(ctx, ticketID, externalID).Error(0)
}

// ClearExternalID provides a mock function with given fields: ctx, ticketID
func (_m *MockClient) ClearExternalID(ctx context.Context, ticketID int64) error {
	return _m.Called(ctx, ticketID).Error(0)
}

// NearbyTickets provides a mock function with given fields: ctx, q
func (_m *MockClient) NearbyTickets(ctx context.Context, q ticketing.NearbyQuery) ([]ticketing.Ticket, error) {
	ret := _m.Called(ctx, q)
	var r0 []ticketing.Ticket
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]ticketing.Ticket)
	}
	return r0, ret.Error(1)
}

// GetPermit provides a mock function with given fields: ctx, number
func (_m *MockClient) GetPermit(ctx context.Context, number string) (*ticketing.Permit, error) {
	ret := _m.Called(ctx, number)
	var r0 *ticketing.Permit
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*ticketing.Permit)
	}
	return r0, ret.Error(1)
}

// CreatePermit provides a mock function with given fields: ctx, p
func (_m *MockClient) CreatePermit(ctx context.Context, p ticketing.Permit) (int64, error) {
	ret := _m.Called(ctx, p)
	return ret.Get(0).(int64), ret.Error(1)
}

// UpdatePermit provides a mock function with given fields: ctx, id, p
func (_m *MockClient) UpdatePermit(ctx context.Context, id int64, p ticketing.Permit) error {
	return _m.Called(ctx, id, p).Error(0)
}

// BulkCreatePermits provides a mock function with given fields: ctx, permits
func (_m *MockClient) BulkCreatePermits(ctx context.Context, permits []ticketing.Permit) ([]ticketing.BulkResult, error) {
	ret := _m.Called(ctx, permits)
	if rf, ok := ret.Get(0).(func(context.Context, []ticketing.Permit) []ticketing.BulkResult); ok {
		return rf(ctx, permits), ret.Error(1)
	}
	var r0 []ticketing.BulkResult
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]ticketing.BulkResult)
	}
	return r0, ret.Error(1)
}

// ListPermitTypes provides a mock function with given fields: ctx
func (_m *MockClient) ListPermitTypes(ctx context.Context) ([]ticketing.PermitType, error) {
	ret := _m.Called(ctx)
	var r0 []ticketing.PermitType
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]ticketing.PermitType)
	}
	return r0, ret.Error(1)
}

// CreatePermitType provides a mock function with given fields: ctx, name, parentID
func (_m *MockClient) CreatePermitType(ctx context.Context, name string, parentID int64) (*ticketing.PermitType, error) {
	ret := _m.Called(ctx, name, parentID)
	var r0 *ticketing.PermitType
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*ticketing.PermitType)
	}
	return r0, ret.Error(1)
}

// ListPermitStatuses provides a mock function with given fields: ctx
func (_m *MockClient) ListPermitStatuses(ctx context.Context) ([]ticketing.PermitStatus, error) {
	ret := _m.Called(ctx)
	var r0 []ticketing.PermitStatus
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]ticketing.PermitStatus)
	}
	return r0, ret.Error(1)
}

// CreatePermitStatus provides a mock function with given fields: ctx, name
func (_m *MockClient) CreatePermitStatus(ctx context.Context, name string) (*ticketing.PermitStatus, error) {
	ret := _m.Called(ctx, name)
	var r0 *ticketing.PermitStatus
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*ticketing.PermitStatus)
	}
	return r0, ret.Error(1)
}

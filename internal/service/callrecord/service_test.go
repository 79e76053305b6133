package callrecord

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"emphealth-backend/internal/domain"
	"emphealth-backend/internal/repository/cockroach"
	apperrors "emphealth-backend/pkg/errors"
)

// MockCallStore is a mock implementation of CallStore
type MockCallStore struct {
	mock.Mock
}

func (m *MockCallStore) Upsert(ctx context.Context, rec domain.CallRecord) (bool, error) {
	args := m.Called(ctx, rec)
	return args.Bool(0), args.Error(1)
}

func (m *MockCallStore) GetByID(ctx context.Context, callID uuid.UUID) (*domain.CallRecord, error) {
	args := m.Called(ctx, callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallRecord), args.Error(1)
}

func (m *MockCallStore) List(ctx context.Context, filter cockroach.CallFilter) ([]*domain.CallRecord, int64, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*domain.CallRecord), args.Get(1).(int64), args.Error(2)
}

// MockEventJournal is a mock implementation of EventJournal
type MockEventJournal struct {
	mock.Mock
}

func (m *MockEventJournal) Append(ctx context.Context, ev domain.CallEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func (m *MockEventJournal) ListByCall(ctx context.Context, callID uuid.UUID) ([]domain.CallEvent, error) {
	args := m.Called(ctx, callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.CallEvent), args.Error(1)
}

func endedRecord() domain.CallRecord {
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	accepted := started.Add(5 * time.Second)
	ended := accepted.Add(90 * time.Second)
	duration := 90
	return domain.CallRecord{
		CallID:          uuid.New(),
		CallerID:        uuid.New(),
		CallerName:      "Dr. Lee",
		CalleeID:        uuid.New(),
		CalleeName:      "Sam",
		Status:          domain.CallStatusEnded,
		EndReason:       domain.EndReasonHangup,
		Revision:        3,
		StartedAt:       started,
		AcceptedAt:      &accepted,
		EndedAt:         &ended,
		DurationSeconds: &duration,
	}
}

func TestRecord_FansOutToBothStores(t *testing.T) {
	calls := new(MockCallStore)
	journal := new(MockEventJournal)
	svc := NewService(calls, journal, nil)
	rec := endedRecord()

	calls.On("Upsert", mock.Anything, rec).Return(true, nil)
	journal.On("Append", mock.Anything, mock.MatchedBy(func(ev domain.CallEvent) bool {
		return ev.CallID == rec.CallID &&
			ev.Revision == 3 &&
			ev.Status == domain.CallStatusEnded &&
			ev.OccurredAt.Equal(*rec.EndedAt) &&
			*ev.DurationSeconds == 90
	})).Return(nil)

	require.NoError(t, svc.Record(context.Background(), rec))

	calls.AssertExpectations(t)
	journal.AssertExpectations(t)
}

func TestRecord_StaleSnapshotIsNotAnError(t *testing.T) {
	calls := new(MockCallStore)
	svc := NewService(calls, nil, nil)
	rec := endedRecord()

	calls.On("Upsert", mock.Anything, rec).Return(false, nil)

	assert.NoError(t, svc.Record(context.Background(), rec))
	calls.AssertExpectations(t)
}

func TestRecord_JoinsFailures(t *testing.T) {
	calls := new(MockCallStore)
	journal := new(MockEventJournal)
	svc := NewService(calls, journal, nil)
	rec := endedRecord()

	errCockroach := errors.New("cockroach down")
	errCassandra := errors.New("cassandra down")
	calls.On("Upsert", mock.Anything, rec).Return(false, errCockroach)
	journal.On("Append", mock.Anything, mock.Anything).Return(errCassandra)

	err := svc.Record(context.Background(), rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, errCockroach)
	assert.ErrorIs(t, err, errCassandra)
}

func TestRecord_JournalStillWrittenWhenHistoryFails(t *testing.T) {
	calls := new(MockCallStore)
	journal := new(MockEventJournal)
	svc := NewService(calls, journal, nil)
	rec := endedRecord()

	calls.On("Upsert", mock.Anything, rec).Return(false, errors.New("timeout"))
	journal.On("Append", mock.Anything, mock.Anything).Return(nil)

	assert.Error(t, svc.Record(context.Background(), rec))
	journal.AssertCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestRecord_NoStores(t *testing.T) {
	svc := NewService(nil, nil, nil)
	assert.NoError(t, svc.Record(context.Background(), endedRecord()))
}

func TestHistory(t *testing.T) {
	userID := uuid.New()
	rec := endedRecord()

	t.Run("participant sees own calls", func(t *testing.T) {
		calls := new(MockCallStore)
		svc := NewService(calls, nil, nil)

		calls.On("List", mock.Anything, cockroach.CallFilter{UserID: &userID, Limit: 20, Offset: 40}).
			Return([]*domain.CallRecord{&rec}, int64(41), nil)

		got, total, err := svc.History(context.Background(), Requester{UserID: userID, Role: domain.RoleEmployee}, 20, 40)
		require.NoError(t, err)
		assert.Equal(t, int64(41), total)
		assert.Len(t, got, 1)
	})

	t.Run("admin sees every call", func(t *testing.T) {
		calls := new(MockCallStore)
		svc := NewService(calls, nil, nil)

		calls.On("List", mock.Anything, cockroach.CallFilter{Limit: 10}).
			Return([]*domain.CallRecord{}, int64(0), nil)

		_, _, err := svc.History(context.Background(), Requester{UserID: userID, Role: domain.RoleAdmin}, 10, 0)
		require.NoError(t, err)
		calls.AssertExpectations(t)
	})

	t.Run("store failure", func(t *testing.T) {
		calls := new(MockCallStore)
		svc := NewService(calls, nil, nil)

		calls.On("List", mock.Anything, mock.Anything).Return(nil, int64(0), errors.New("boom"))

		_, _, err := svc.History(context.Background(), Requester{UserID: userID, Role: domain.RoleDoctor}, 10, 0)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDatabase))
	})

	t.Run("no store", func(t *testing.T) {
		svc := NewService(nil, nil, nil)
		_, _, err := svc.History(context.Background(), Requester{UserID: userID}, 10, 0)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeServiceUnavail))
	})
}

func TestTimeline(t *testing.T) {
	rec := endedRecord()
	events := []domain.CallEvent{
		{CallID: rec.CallID, Revision: 1, Status: domain.CallStatusInitiated},
		{CallID: rec.CallID, Revision: 2, Status: domain.CallStatusAccepted},
		{CallID: rec.CallID, Revision: 3, Status: domain.CallStatusEnded},
	}

	t.Run("party", func(t *testing.T) {
		calls := new(MockCallStore)
		journal := new(MockEventJournal)
		svc := NewService(calls, journal, nil)

		calls.On("GetByID", mock.Anything, rec.CallID).Return(&rec, nil)
		journal.On("ListByCall", mock.Anything, rec.CallID).Return(events, nil)

		got, err := svc.Timeline(context.Background(), Requester{UserID: rec.CalleeID, Role: domain.RoleEmployee}, rec.CallID)
		require.NoError(t, err)
		assert.Equal(t, events, got)
	})

	t.Run("stranger", func(t *testing.T) {
		calls := new(MockCallStore)
		journal := new(MockEventJournal)
		svc := NewService(calls, journal, nil)

		calls.On("GetByID", mock.Anything, rec.CallID).Return(&rec, nil)

		_, err := svc.Timeline(context.Background(), Requester{UserID: uuid.New(), Role: domain.RoleDoctor}, rec.CallID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCallNotFound))
		journal.AssertNotCalled(t, "ListByCall", mock.Anything, mock.Anything)
	})

	t.Run("admin with empty journal", func(t *testing.T) {
		calls := new(MockCallStore)
		journal := new(MockEventJournal)
		svc := NewService(calls, journal, nil)

		calls.On("GetByID", mock.Anything, rec.CallID).Return(&rec, nil)
		journal.On("ListByCall", mock.Anything, rec.CallID).Return(nil, nil)

		got, err := svc.Timeline(context.Background(), Requester{UserID: uuid.New(), Role: domain.RoleAdmin}, rec.CallID)
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("unknown call", func(t *testing.T) {
		calls := new(MockCallStore)
		svc := NewService(calls, new(MockEventJournal), nil)

		calls.On("GetByID", mock.Anything, rec.CallID).Return(nil, apperrors.CallNotFoundError())

		_, err := svc.Timeline(context.Background(), Requester{UserID: rec.CallerID}, rec.CallID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCallNotFound))
	})
}

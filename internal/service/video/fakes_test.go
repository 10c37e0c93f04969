package video

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/luli-tech/taskPadi-be/internal/domain"
	"github.com/luli-tech/taskPadi-be/internal/signaling"
)

// memoryCallStore applies the same conditional transitions as the
// CockroachDB repository so concurrency can be exercised without a database
type memoryCallStore struct {
	mu           sync.Mutex
	calls        map[uuid.UUID]domain.Call
	participants map[uuid.UUID][]domain.CallParticipant
	err          error
}

func newMemoryCallStore() *memoryCallStore {
	return &memoryCallStore{
		calls:        make(map[uuid.UUID]domain.Call),
		participants: make(map[uuid.UUID][]domain.CallParticipant),
	}
}

func (m *memoryCallStore) failWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *memoryCallStore) CreateCall(_ context.Context, call *domain.Call, participants []domain.CallParticipant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.calls[call.CallID] = *call
	m.participants[call.CallID] = append([]domain.CallParticipant(nil), participants...)
	return nil
}

func (m *memoryCallStore) transition(callID uuid.UUID, from []domain.CallStatus, apply func(*domain.Call)) error {
	if m.err != nil {
		return m.err
	}
	call, ok := m.calls[callID]
	if !ok {
		return domain.ErrStaleCallState
	}
	for _, s := range from {
		if call.Status == s {
			apply(&call)
			m.calls[callID] = call
			return nil
		}
	}
	return domain.ErrStaleCallState
}

func (m *memoryCallStore) MarkRinging(_ context.Context, callID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.transition(callID, []domain.CallStatus{domain.CallStatusInitiating}, func(c *domain.Call) {
		c.Status = domain.CallStatusRinging
	})
	if err == domain.ErrStaleCallState {
		return false, nil
	}
	return err == nil, err
}

func (m *memoryCallStore) StartCall(_ context.Context, callID, userID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.transition(callID, []domain.CallStatus{domain.CallStatusInitiating, domain.CallStatusRinging}, func(c *domain.Call) {
		c.Status = domain.CallStatusActive
		c.StartedAt = &at
	})
	if err != nil {
		return err
	}
	for i, p := range m.participants[callID] {
		if p.UserID == userID {
			m.participants[callID][i].Status = domain.ParticipantStatusJoined
			m.participants[callID][i].JoinedAt = &at
			m.participants[callID][i].LeftAt = nil
		}
	}
	return nil
}

func (m *memoryCallStore) RejectCall(_ context.Context, callID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transition(callID, []domain.CallStatus{domain.CallStatusInitiating, domain.CallStatusRinging}, func(c *domain.Call) {
		c.Status = domain.CallStatusRejected
		c.EndedAt = &at
	})
}

func (m *memoryCallStore) EndCall(_ context.Context, callID uuid.UUID, endedAt time.Time, durationSeconds *int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	live := []domain.CallStatus{domain.CallStatusInitiating, domain.CallStatusRinging, domain.CallStatusActive}
	err := m.transition(callID, live, func(c *domain.Call) {
		c.Status = domain.CallStatusEnded
		c.EndedAt = &endedAt
		c.DurationSeconds = durationSeconds
	})
	if err != nil {
		return err
	}
	for i, p := range m.participants[callID] {
		if p.Status == domain.ParticipantStatusJoined {
			m.participants[callID][i].Status = domain.ParticipantStatusLeft
			m.participants[callID][i].LeftAt = &endedAt
		}
	}
	return nil
}

func (m *memoryCallStore) AddParticipant(_ context.Context, callID, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for i, p := range m.participants[callID] {
		if p.UserID == userID {
			if p.Status != domain.ParticipantStatusLeft {
				return domain.ErrStaleCallState
			}
			m.participants[callID][i] = domain.CallParticipant{
				CallID: callID, UserID: userID,
				Role: domain.ParticipantRoleInvitee, Status: domain.ParticipantStatusInvited,
			}
			return nil
		}
	}
	m.participants[callID] = append(m.participants[callID], domain.CallParticipant{
		CallID: callID, UserID: userID,
		Role: domain.ParticipantRoleInvitee, Status: domain.ParticipantStatusInvited,
	})
	return nil
}

func (m *memoryCallStore) GetByID(_ context.Context, callID uuid.UUID) (*domain.Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	call, ok := m.calls[callID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &call, nil
}

func (m *memoryCallStore) GetParticipants(_ context.Context, callID uuid.UUID) ([]domain.CallParticipant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]domain.CallParticipant(nil), m.participants[callID]...), nil
}

func (m *memoryCallStore) GetParticipantsForCalls(ctx context.Context, callIDs []uuid.UUID) (map[uuid.UUID][]domain.CallParticipant, error) {
	out := make(map[uuid.UUID][]domain.CallParticipant, len(callIDs))
	for _, id := range callIDs {
		p, err := m.GetParticipants(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = p
	}
	return out, nil
}

func (m *memoryCallStore) FindActiveDirectCall(_ context.Context, a, b uuid.UUID) (*domain.Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.calls {
		if c.ReceiverID == nil || c.Status.IsTerminal() {
			continue
		}
		if (c.CallerID == a && *c.ReceiverID == b) || (c.CallerID == b && *c.ReceiverID == a) {
			found := c
			return &found, nil
		}
	}
	return nil, nil
}

func (m *memoryCallStore) userCalls(userID uuid.UUID, onlyLive bool) []domain.Call {
	var out []domain.Call
	for id, ps := range m.participants {
		for _, p := range ps {
			if p.UserID != userID {
				continue
			}
			c := m.calls[id]
			if !onlyLive || !c.Status.IsTerminal() {
				out = append(out, c)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *memoryCallStore) GetUserCalls(_ context.Context, userID uuid.UUID, limit, offset int) ([]domain.Call, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.userCalls(userID, false)
	total := int64(len(all))
	if offset >= len(all) {
		return []domain.Call{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (m *memoryCallStore) GetUserActiveCalls(_ context.Context, userID uuid.UUID) ([]domain.Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userCalls(userID, true), nil
}

func (m *memoryCallStore) status(callID uuid.UUID) domain.CallStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[callID].Status
}

// MockUserRepository is a mock implementation of UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Exists(ctx context.Context, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

// MockGroupRepository is a mock implementation of GroupRepository
type MockGroupRepository struct {
	mock.Mock
}

func (m *MockGroupRepository) Exists(ctx context.Context, groupID uuid.UUID) (bool, error) {
	args := m.Called(ctx, groupID)
	return args.Bool(0), args.Error(1)
}

func (m *MockGroupRepository) GetMemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

// MockNotificationRepository is a mock implementation of NotificationRepository
type MockNotificationRepository struct {
	mock.Mock
}

func (m *MockNotificationRepository) Create(ctx context.Context, n *domain.NotificationCreate) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

type delivery struct {
	to  uuid.UUID
	msg signaling.Message
}

// recordingNotifier captures every message the service emits
type recordingNotifier struct {
	mu   sync.Mutex
	sent []delivery
}

func (n *recordingNotifier) SendToUser(userID uuid.UUID, msg signaling.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, delivery{to: userID, msg: msg})
}

func (n *recordingNotifier) SendToUsers(userIDs []uuid.UUID, msg signaling.Message) {
	for _, id := range userIDs {
		n.SendToUser(id, msg)
	}
}

func (n *recordingNotifier) to(userID uuid.UUID) []signaling.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []signaling.Message
	for _, d := range n.sent {
		if d.to == userID {
			out = append(out, d.msg)
		}
	}
	return out
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

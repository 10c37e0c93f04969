package video

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luli-tech/taskPadi-be/internal/domain"
	"github.com/luli-tech/taskPadi-be/internal/signaling"
	apperrors "github.com/luli-tech/taskPadi-be/pkg/errors"
	"github.com/luli-tech/taskPadi-be/pkg/logger"
	"github.com/luli-tech/taskPadi-be/pkg/metrics"
	"github.com/luli-tech/taskPadi-be/pkg/pagination"
)

// DefaultRingingDelay is how long a new call stays initiating before it flips to ringing
const DefaultRingingDelay = 100 * time.Millisecond

// notificationTimeout bounds the best-effort notification writes
const notificationTimeout = 5 * time.Second

// CallRepository defines call persistence. Transitions return
// domain.ErrStaleCallState when the call is no longer in the expected status.
type CallRepository interface {
	CreateCall(ctx context.Context, call *domain.Call, participants []domain.CallParticipant) error
	MarkRinging(ctx context.Context, callID uuid.UUID) (bool, error)
	StartCall(ctx context.Context, callID, userID uuid.UUID, at time.Time) error
	RejectCall(ctx context.Context, callID uuid.UUID, at time.Time) error
	EndCall(ctx context.Context, callID uuid.UUID, endedAt time.Time, durationSeconds *int) error
	AddParticipant(ctx context.Context, callID, userID uuid.UUID) error
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	GetParticipants(ctx context.Context, callID uuid.UUID) ([]domain.CallParticipant, error)
	GetParticipantsForCalls(ctx context.Context, callIDs []uuid.UUID) (map[uuid.UUID][]domain.CallParticipant, error)
	FindActiveDirectCall(ctx context.Context, a, b uuid.UUID) (*domain.Call, error)
	GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Call, int64, error)
	GetUserActiveCalls(ctx context.Context, userID uuid.UUID) ([]domain.Call, error)
}

// UserRepository defines the user lookups the service needs
type UserRepository interface {
	Exists(ctx context.Context, userID uuid.UUID) (bool, error)
}

// GroupRepository defines the group lookups the service needs
type GroupRepository interface {
	Exists(ctx context.Context, groupID uuid.UUID) (bool, error)
	GetMemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
}

// NotificationRepository stores notification records
type NotificationRepository interface {
	Create(ctx context.Context, notification *domain.NotificationCreate) error
}

// Notifier delivers signaling messages to connected users
type Notifier interface {
	SendToUser(userID uuid.UUID, msg signaling.Message)
	SendToUsers(userIDs []uuid.UUID, msg signaling.Message)
}

// Service drives the call state machine
type Service struct {
	calls         CallRepository
	users         UserRepository
	groups        GroupRepository
	notifications NotificationRepository
	notifier      Notifier
	metrics       *metrics.Metrics

	ringingDelay time.Duration
	locks        *keyedMutex
	now          func() time.Time

	// tracks ringing flips and notification writes
	background sync.WaitGroup
}

// NewService creates a new video service. notifications and m may be nil.
func NewService(
	calls CallRepository,
	users UserRepository,
	groups GroupRepository,
	notifications NotificationRepository,
	notifier Notifier,
	m *metrics.Metrics,
	ringingDelay time.Duration,
) *Service {
	if ringingDelay <= 0 {
		ringingDelay = DefaultRingingDelay
	}
	return &Service{
		calls:         calls,
		users:         users,
		groups:        groups,
		notifications: notifications,
		notifier:      notifier,
		metrics:       m,
		ringingDelay:  ringingDelay,
		locks:         newKeyedMutex(),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Wait blocks until background ringing flips and notification writes finish
func (s *Service) Wait() {
	s.background.Wait()
}

// InitiateCallInput contains call initiation data. Exactly one of
// ReceiverID and GroupID must be set.
type InitiateCallInput struct {
	CallerID   uuid.UUID
	ReceiverID *uuid.UUID
	GroupID    *uuid.UUID
	CallType   string
}

// Initiate creates a call and invites the receiver or the group's members
func (s *Service) Initiate(ctx context.Context, input *InitiateCallInput) (*domain.CallDetails, error) {
	details, err := s.initiate(ctx, input)
	return details, s.observe("initiate", err)
}

func (s *Service) initiate(ctx context.Context, input *InitiateCallInput) (*domain.CallDetails, error) {
	if (input.ReceiverID == nil) == (input.GroupID == nil) {
		return nil, apperrors.BadRequestError("Either receiver_id or group_id must be provided")
	}
	if input.ReceiverID != nil && *input.ReceiverID == input.CallerID {
		return nil, apperrors.BadRequestError("Cannot call yourself")
	}
	callType, ok := domain.ParseCallType(input.CallType)
	if !ok {
		return nil, apperrors.BadRequestError("Invalid call_type. Must be 'video' or 'voice'")
	}

	var invitees []uuid.UUID
	if input.ReceiverID != nil {
		receiverID := *input.ReceiverID
		if err := s.requireUser(ctx, receiverID); err != nil {
			return nil, err
		}

		// the pair lock covers the uniqueness check and the insert
		unlock := s.locks.Lock("pair:" + domain.ConversationKey(input.CallerID, receiverID))
		defer unlock()

		active, err := s.calls.FindActiveDirectCall(ctx, input.CallerID, receiverID)
		if err != nil {
			return nil, apperrors.DatabaseError(err)
		}
		if active != nil {
			return nil, apperrors.BadRequestError(fmt.Sprintf(
				"There is already an active call in progress (call ID: %s)", active.CallID))
		}
		invitees = []uuid.UUID{receiverID}
	} else {
		members, err := s.groupMembers(ctx, *input.GroupID, input.CallerID)
		if err != nil {
			return nil, err
		}
		invitees = members
	}

	now := s.now()
	call := domain.Call{
		CallID:     uuid.New(),
		CallerID:   input.CallerID,
		ReceiverID: input.ReceiverID,
		GroupID:    input.GroupID,
		CallType:   callType,
		Status:     domain.CallStatusInitiating,
		CreatedAt:  now,
	}

	participants := make([]domain.CallParticipant, 0, len(invitees)+1)
	participants = append(participants, domain.CallParticipant{
		CallID:   call.CallID,
		UserID:   call.CallerID,
		Role:     domain.ParticipantRoleInitiator,
		Status:   domain.ParticipantStatusJoined,
		JoinedAt: &now,
	})
	for _, id := range invitees {
		participants = append(participants, domain.CallParticipant{
			CallID: call.CallID,
			UserID: id,
			Role:   domain.ParticipantRoleInvitee,
			Status: domain.ParticipantStatusInvited,
		})
	}

	if err := s.calls.CreateCall(ctx, &call, participants); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	logger.Info("Call initiated",
		zap.String("call_id", call.CallID.String()),
		zap.String("caller_id", call.CallerID.String()),
		zap.String("call_type", string(call.CallType)),
		zap.Int("invitees", len(invitees)))

	for _, id := range invitees {
		s.notifier.SendToUser(id, signaling.CallInitiated{
			CallID:     call.CallID,
			CallerID:   call.CallerID,
			ReceiverID: id,
			CallType:   string(call.CallType),
			WSURL:      signaling.RelayPath(call.CallID),
		})
	}

	s.scheduleRinging(call.CallID)
	s.notifyAsync(invitees, "Incoming call", fmt.Sprintf("Incoming %s call", call.CallType), call.CallID)
	s.recordCall(call.CallType, domain.CallStatusInitiating)

	return &domain.CallDetails{Call: call, Participants: participants}, nil
}

// Accept answers a call on behalf of an invitee and makes it active
func (s *Service) Accept(ctx context.Context, callID, userID uuid.UUID) (*domain.CallDetails, error) {
	details, err := s.accept(ctx, callID, userID)
	return details, s.observe("accept", err)
}

func (s *Service) accept(ctx context.Context, callID, userID uuid.UUID) (*domain.CallDetails, error) {
	unlock := s.locks.Lock(callID.String())
	defer unlock()

	details, err := s.loadCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !canAnswer(details, userID) {
		return nil, apperrors.ForbiddenError("Only the receiver can accept the call")
	}
	if !details.Status.IsAnswerable() {
		return nil, apperrors.BadRequestError(fmt.Sprintf("Cannot accept call with status: %s", details.Status))
	}

	now := s.now()
	if err := s.calls.StartCall(ctx, callID, userID, now); err != nil {
		return nil, transitionError(err)
	}

	details.Status = domain.CallStatusActive
	details.StartedAt = &now
	if p, ok := details.Participant(userID); ok {
		p.Status = domain.ParticipantStatusJoined
		p.JoinedAt = &now
		p.LeftAt = nil
	}

	s.notifier.SendToUser(details.CallerID, signaling.CallAccepted{
		CallID:     callID,
		CallerID:   details.CallerID,
		ReceiverID: userID,
		CallType:   string(details.CallType),
		WSURL:      signaling.RelayPath(callID),
	})

	logger.Info("Call accepted",
		zap.String("call_id", callID.String()),
		zap.String("user_id", userID.String()))
	s.recordCall(details.CallType, domain.CallStatusActive)
	if s.metrics != nil {
		s.metrics.IncActiveCalls()
	}

	return details, nil
}

// Reject declines an unanswered call on behalf of an invitee
func (s *Service) Reject(ctx context.Context, callID, userID uuid.UUID) (*domain.CallDetails, error) {
	details, err := s.reject(ctx, callID, userID)
	return details, s.observe("reject", err)
}

func (s *Service) reject(ctx context.Context, callID, userID uuid.UUID) (*domain.CallDetails, error) {
	unlock := s.locks.Lock(callID.String())
	defer unlock()

	details, err := s.loadCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !canAnswer(details, userID) {
		return nil, apperrors.ForbiddenError("Only the receiver can reject the call")
	}
	if !details.Status.IsAnswerable() {
		return nil, apperrors.BadRequestError(fmt.Sprintf("Cannot reject call with status: %s", details.Status))
	}

	now := s.now()
	if err := s.calls.RejectCall(ctx, callID, now); err != nil {
		return nil, transitionError(err)
	}

	details.Status = domain.CallStatusRejected
	details.EndedAt = &now

	s.notifier.SendToUser(details.CallerID, signaling.CallRejected{
		CallID:     callID,
		CallerID:   details.CallerID,
		ReceiverID: userID,
		CallType:   string(details.CallType),
	})

	logger.Info("Call rejected",
		zap.String("call_id", callID.String()),
		zap.String("user_id", userID.String()))
	s.recordCall(details.CallType, domain.CallStatusRejected)

	return details, nil
}

// End terminates a call. The caller may end it from any live status; anyone
// else must have joined an active call.
func (s *Service) End(ctx context.Context, callID, userID uuid.UUID) (*domain.CallDetails, error) {
	details, err := s.end(ctx, callID, userID)
	return details, s.observe("end", err)
}

func (s *Service) end(ctx context.Context, callID, userID uuid.UUID) (*domain.CallDetails, error) {
	unlock := s.locks.Lock(callID.String())
	defer unlock()

	details, err := s.loadCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	participant, ok := details.Participant(userID)
	if !ok {
		return nil, apperrors.ForbiddenError("You are not part of this call")
	}
	if details.Status.IsTerminal() {
		return nil, apperrors.BadRequestError(fmt.Sprintf("Call has already finished with status: %s", details.Status))
	}
	if userID != details.CallerID {
		if participant.Status != domain.ParticipantStatusJoined || details.Status != domain.CallStatusActive {
			return nil, apperrors.ForbiddenError("Only joined participants can end an active call")
		}
	}

	wasActive := details.Status == domain.CallStatusActive
	now := s.now()
	duration := details.DurationUntil(now)
	if err := s.calls.EndCall(ctx, callID, now, duration); err != nil {
		return nil, transitionError(err)
	}

	details.Status = domain.CallStatusEnded
	details.EndedAt = &now
	details.DurationSeconds = duration
	for i := range details.Participants {
		if details.Participants[i].Status == domain.ParticipantStatusJoined {
			details.Participants[i].Status = domain.ParticipantStatusLeft
			details.Participants[i].LeftAt = &now
		}
	}

	s.notifier.SendToUsers(details.OtherParticipantIDs(userID), signaling.CallEnded{
		CallID:  callID,
		EndedBy: userID,
	})

	fields := []zap.Field{
		zap.String("call_id", callID.String()),
		zap.String("ended_by", userID.String()),
	}
	if duration != nil {
		fields = append(fields, zap.Int("duration_seconds", *duration))
	}
	logger.Info("Call ended", fields...)

	s.recordCall(details.CallType, domain.CallStatusEnded)
	if s.metrics != nil {
		if wasActive {
			s.metrics.DecActiveCalls()
		}
		if duration != nil {
			s.metrics.RecordCallDuration(string(details.CallType), time.Duration(*duration)*time.Second)
		}
	}

	return details, nil
}

// AddParticipant invites newUserID into a live call on behalf of a joined participant
func (s *Service) AddParticipant(ctx context.Context, callID, inviterID, newUserID uuid.UUID) (*domain.CallDetails, error) {
	details, err := s.addParticipant(ctx, callID, inviterID, newUserID)
	return details, s.observe("add_participant", err)
}

func (s *Service) addParticipant(ctx context.Context, callID, inviterID, newUserID uuid.UUID) (*domain.CallDetails, error) {
	unlock := s.locks.Lock(callID.String())
	defer unlock()

	details, err := s.loadCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if err := s.requireUser(ctx, newUserID); err != nil {
		return nil, err
	}
	if details.Status.IsTerminal() {
		return nil, apperrors.BadRequestError(fmt.Sprintf("Cannot add participants to a call with status: %s", details.Status))
	}
	inviter, ok := details.Participant(inviterID)
	if !ok || inviter.Status != domain.ParticipantStatusJoined {
		return nil, apperrors.ForbiddenError("Only active participants can add others")
	}
	if existing, ok := details.Participant(newUserID); ok && existing.Status != domain.ParticipantStatusLeft {
		return nil, apperrors.BadRequestError("User is already in this call")
	}

	if err := s.calls.AddParticipant(ctx, callID, newUserID); err != nil {
		if errors.Is(err, domain.ErrStaleCallState) {
			return nil, apperrors.BadRequestError("User is already in this call")
		}
		return nil, apperrors.DatabaseError(err)
	}

	invited := domain.CallParticipant{
		CallID: callID,
		UserID: newUserID,
		Role:   domain.ParticipantRoleInvitee,
		Status: domain.ParticipantStatusInvited,
	}
	if p, ok := details.Participant(newUserID); ok {
		*p = invited
	} else {
		details.Participants = append(details.Participants, invited)
	}

	s.notifier.SendToUser(newUserID, signaling.CallInitiated{
		CallID:     callID,
		CallerID:   inviterID,
		ReceiverID: newUserID,
		CallType:   string(details.CallType),
		WSURL:      signaling.RelayPath(callID),
	})
	s.notifyAsync([]uuid.UUID{newUserID}, "Call invitation", fmt.Sprintf("You were invited to a %s call", details.CallType), callID)

	logger.Info("Participant added to call",
		zap.String("call_id", callID.String()),
		zap.String("inviter_id", inviterID.String()),
		zap.String("user_id", newUserID.String()))

	return details, nil
}

// GetCall returns a call with its roster. Only participants may read it.
func (s *Service) GetCall(ctx context.Context, callID, userID uuid.UUID) (*domain.CallDetails, error) {
	details, err := s.loadCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if _, ok := details.Participant(userID); !ok {
		return nil, apperrors.ForbiddenError("You are not part of this call")
	}
	return details, nil
}

// History returns one page of the calls userID took part in, newest first
func (s *Service) History(ctx context.Context, userID uuid.UUID, limit, offset int) (*domain.CallHistoryPage, error) {
	p := pagination.Clamp(limit, offset)

	calls, total, err := s.calls.GetUserCalls(ctx, userID, p.Limit, p.Offset)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	data, err := s.withParticipants(ctx, calls)
	if err != nil {
		return nil, err
	}

	return &domain.CallHistoryPage{
		Data:       data,
		Total:      total,
		Limit:      p.Limit,
		Offset:     p.Offset,
		TotalPages: pagination.TotalPages(total, p.Limit),
	}, nil
}

// ActiveCalls returns the live calls userID takes part in
func (s *Service) ActiveCalls(ctx context.Context, userID uuid.UUID) ([]domain.CallDetails, error) {
	calls, err := s.calls.GetUserActiveCalls(ctx, userID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return s.withParticipants(ctx, calls)
}

// AuthorizeRelay checks that userID may open a relay session for callID
func (s *Service) AuthorizeRelay(ctx context.Context, callID, userID uuid.UUID) error {
	details, err := s.loadCall(ctx, callID)
	if err != nil {
		return err
	}
	if _, ok := details.Participant(userID); !ok {
		return apperrors.ForbiddenError("You are not part of this call")
	}
	if !details.Status.IsJoinable() {
		return apperrors.BadRequestError("Call is not joinable")
	}
	return nil
}

// AuthorizeSignal checks that from may send offer/answer/ICE payloads to to
// within callID
func (s *Service) AuthorizeSignal(ctx context.Context, callID, from, to uuid.UUID) error {
	details, err := s.loadCall(ctx, callID)
	if err != nil {
		return err
	}
	if details.Status.IsTerminal() {
		return apperrors.BadRequestError("Call is not active")
	}
	if _, ok := details.Participant(from); !ok {
		return apperrors.ForbiddenError("You are not part of this call")
	}
	if _, ok := details.Participant(to); !ok {
		return apperrors.ForbiddenError("Target user is not part of this call")
	}
	return nil
}

func (s *Service) loadCall(ctx context.Context, callID uuid.UUID) (*domain.CallDetails, error) {
	call, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, apperrors.DatabaseError(err)
	}
	participants, err := s.calls.GetParticipants(ctx, callID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return &domain.CallDetails{Call: *call, Participants: participants}, nil
}

func (s *Service) withParticipants(ctx context.Context, calls []domain.Call) ([]domain.CallDetails, error) {
	ids := make([]uuid.UUID, len(calls))
	for i, c := range calls {
		ids[i] = c.CallID
	}
	rosters, err := s.calls.GetParticipantsForCalls(ctx, ids)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	out := make([]domain.CallDetails, len(calls))
	for i, c := range calls {
		participants := rosters[c.CallID]
		if participants == nil {
			participants = []domain.CallParticipant{}
		}
		out[i] = domain.CallDetails{Call: c, Participants: participants}
	}
	return out, nil
}

func (s *Service) requireUser(ctx context.Context, userID uuid.UUID) error {
	exists, err := s.users.Exists(ctx, userID)
	if err != nil {
		return apperrors.DatabaseError(err)
	}
	if !exists {
		return apperrors.UserNotFoundError()
	}
	return nil
}

// groupMembers returns the members to invite, excluding the caller
func (s *Service) groupMembers(ctx context.Context, groupID, callerID uuid.UUID) ([]uuid.UUID, error) {
	exists, err := s.groups.Exists(ctx, groupID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if !exists {
		return nil, apperrors.NotFoundError("Group")
	}

	members, err := s.groups.GetMemberIDs(ctx, groupID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	invitees := make([]uuid.UUID, 0, len(members))
	isMember := false
	for _, id := range members {
		if id == callerID {
			isMember = true
			continue
		}
		invitees = append(invitees, id)
	}
	if !isMember {
		return nil, apperrors.ForbiddenError("You are not a member of this group")
	}
	if len(invitees) == 0 {
		return nil, apperrors.BadRequestError("Group has no other members to call")
	}
	return invitees, nil
}

// scheduleRinging flips the call to ringing after the ringing delay unless it
// has already moved on
func (s *Service) scheduleRinging(callID uuid.UUID) {
	s.background.Add(1)
	time.AfterFunc(s.ringingDelay, func() {
		defer s.background.Done()

		unlock := s.locks.Lock(callID.String())
		defer unlock()

		ctx, cancel := context.WithTimeout(context.Background(), notificationTimeout)
		defer cancel()

		flipped, err := s.calls.MarkRinging(ctx, callID)
		if err != nil {
			logger.Warn("Failed to mark call ringing",
				zap.String("call_id", callID.String()),
				zap.Error(err))
			return
		}
		if flipped {
			logger.Debug("Call ringing", zap.String("call_id", callID.String()))
		}
	})
}

// notifyAsync writes notification records without blocking the caller.
// Failures are logged only.
func (s *Service) notifyAsync(userIDs []uuid.UUID, title, body string, callID uuid.UUID) {
	if s.notifications == nil || len(userIDs) == 0 {
		return
	}

	s.background.Add(1)
	go func() {
		defer s.background.Done()

		ctx, cancel := context.WithTimeout(context.Background(), notificationTimeout)
		defer cancel()

		for _, id := range userIDs {
			err := s.notifications.Create(ctx, &domain.NotificationCreate{
				UserID: id,
				Type:   domain.NotificationTypeCall,
				Title:  title,
				Body:   body,
				Data:   map[string]interface{}{"call_id": callID.String()},
			})
			if err != nil {
				logger.Warn("Failed to create call notification",
					zap.String("call_id", callID.String()),
					zap.String("user_id", id.String()),
					zap.Error(err))
			}
		}
	}()
}

func (s *Service) recordCall(callType domain.CallType, status domain.CallStatus) {
	if s.metrics != nil {
		s.metrics.RecordCall(string(callType), string(status))
	}
}

// observe counts a failed operation by error code and passes err through
func (s *Service) observe(operation string, err error) error {
	if err != nil && s.metrics != nil {
		s.metrics.RecordCallFailure(operation, string(apperrors.GetAppError(err).Code))
	}
	return err
}

// canAnswer reports whether userID is the direct receiver or an invitee
func canAnswer(details *domain.CallDetails, userID uuid.UUID) bool {
	if details.ReceiverID != nil && *details.ReceiverID == userID {
		return true
	}
	p, ok := details.Participant(userID)
	return ok && p.Role == domain.ParticipantRoleInvitee
}

func transitionError(err error) error {
	if errors.Is(err, domain.ErrStaleCallState) {
		return apperrors.BadRequestError("Call state changed, please retry")
	}
	return apperrors.DatabaseError(err)
}

package cockroach

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/luli-tech/taskPadi-be/internal/domain"
)

const callColumns = `call_id, caller_id, receiver_id, group_id, call_type, status,
	created_at, started_at, ended_at, duration_seconds`

// CallRepository handles call data operations. Every transition is a
// conditional UPDATE on the current status so concurrent writers on any
// instance cannot both win.
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

// CreateCall inserts the call and its roster in one transaction
func (r *CallRepository) CreateCall(ctx context.Context, call *domain.Call, participants []domain.CallParticipant) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO calls (call_id, caller_id, receiver_id, group_id, call_type, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, call.CallID, call.CallerID, call.ReceiverID, call.GroupID, call.CallType, call.Status, call.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create call: %w", err)
	}

	batch := &pgx.Batch{}
	for _, p := range participants {
		batch.Queue(`
			INSERT INTO call_participants (call_id, user_id, role, status, joined_at)
			VALUES ($1, $2, $3, $4, $5)
		`, p.CallID, p.UserID, p.Role, p.Status, p.JoinedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to add call participants: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit call: %w", err)
	}
	return nil
}

// MarkRinging flips an initiating call to ringing. It reports whether the
// flip happened; a call that moved on in the meantime is left untouched.
func (r *CallRepository) MarkRinging(ctx context.Context, callID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE calls SET status = 'ringing'
		WHERE call_id = $1 AND status = 'initiating'
	`, callID)
	if err != nil {
		return false, fmt.Errorf("failed to mark call ringing: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// StartCall activates an unanswered call and joins the acceptor
func (r *CallRepository) StartCall(ctx context.Context, callID, userID uuid.UUID, at time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE calls SET status = 'active', started_at = $2
		WHERE call_id = $1 AND status IN ('initiating', 'ringing')
	`, callID, at)
	if err != nil {
		return fmt.Errorf("failed to start call: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleCallState
	}

	_, err = tx.Exec(ctx, `
		UPDATE call_participants SET status = 'joined', joined_at = $3, left_at = NULL
		WHERE call_id = $1 AND user_id = $2
	`, callID, userID, at)
	if err != nil {
		return fmt.Errorf("failed to join participant: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit call start: %w", err)
	}
	return nil
}

// RejectCall moves an unanswered call to rejected
func (r *CallRepository) RejectCall(ctx context.Context, callID uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE calls SET status = 'rejected', ended_at = $2
		WHERE call_id = $1 AND status IN ('initiating', 'ringing')
	`, callID, at)
	if err != nil {
		return fmt.Errorf("failed to reject call: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleCallState
	}
	return nil
}

// EndCall ends a live call and moves every joined participant to left
func (r *CallRepository) EndCall(ctx context.Context, callID uuid.UUID, endedAt time.Time, durationSeconds *int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE calls SET status = 'ended', ended_at = $2, duration_seconds = $3
		WHERE call_id = $1 AND status IN ('initiating', 'ringing', 'active')
	`, callID, endedAt, durationSeconds)
	if err != nil {
		return fmt.Errorf("failed to end call: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleCallState
	}

	_, err = tx.Exec(ctx, `
		UPDATE call_participants SET status = 'left', left_at = $2
		WHERE call_id = $1 AND status = 'joined'
	`, callID, endedAt)
	if err != nil {
		return fmt.Errorf("failed to release participants: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit call end: %w", err)
	}
	return nil
}

// AddParticipant invites userID, or re-invites a participant who left.
// An already invited or joined participant yields ErrStaleCallState.
func (r *CallRepository) AddParticipant(ctx context.Context, callID, userID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO call_participants (call_id, user_id, role, status)
		VALUES ($1, $2, 'invitee', 'invited')
		ON CONFLICT (call_id, user_id) DO UPDATE
		SET status = 'invited', joined_at = NULL, left_at = NULL
		WHERE call_participants.status = 'left'
	`, callID, userID)
	if err != nil {
		return fmt.Errorf("failed to add participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleCallState
	}
	return nil
}

// GetByID retrieves a call by ID
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+callColumns+` FROM calls WHERE call_id = $1`, callID)
	call, err := scanCall(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}
	return call, nil
}

// GetParticipants retrieves the roster of a call, initiator first
func (r *CallRepository) GetParticipants(ctx context.Context, callID uuid.UUID) ([]domain.CallParticipant, error) {
	byCall, err := r.GetParticipantsForCalls(ctx, []uuid.UUID{callID})
	if err != nil {
		return nil, err
	}
	return byCall[callID], nil
}

// GetParticipantsForCalls retrieves the rosters of several calls in one query
func (r *CallRepository) GetParticipantsForCalls(ctx context.Context, callIDs []uuid.UUID) (map[uuid.UUID][]domain.CallParticipant, error) {
	result := make(map[uuid.UUID][]domain.CallParticipant, len(callIDs))
	if len(callIDs) == 0 {
		return result, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT call_id, user_id, role, status, joined_at, left_at
		FROM call_participants
		WHERE call_id = ANY($1)
		ORDER BY call_id, role = 'invitee', user_id
	`, callIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.CallParticipant
		if err := rows.Scan(&p.CallID, &p.UserID, &p.Role, &p.Status, &p.JoinedAt, &p.LeftAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		result[p.CallID] = append(result[p.CallID], p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read participants: %w", err)
	}
	return result, nil
}

// FindActiveDirectCall returns the non-terminal direct call between a and b
// in either direction, or nil when there is none
func (r *CallRepository) FindActiveDirectCall(ctx context.Context, a, b uuid.UUID) (*domain.Call, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+callColumns+` FROM calls
		WHERE group_id IS NULL
		  AND ((caller_id = $1 AND receiver_id = $2) OR (caller_id = $2 AND receiver_id = $1))
		  AND status IN ('initiating', 'ringing', 'active')
		ORDER BY created_at DESC
		LIMIT 1
	`, a, b)
	call, err := scanCall(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find active call: %w", err)
	}
	return call, nil
}

// GetUserCalls retrieves a page of the calls userID participates in, newest
// first, together with the total count
func (r *CallRepository) GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Call, int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM call_participants WHERE user_id = $1
	`, userID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count user calls: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+prefixed("c.", callColumns)+`
		FROM calls c
		JOIN call_participants cp ON c.call_id = cp.call_id
		WHERE cp.user_id = $1
		ORDER BY c.created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get user calls: %w", err)
	}
	defer rows.Close()

	calls, err := scanCalls(rows)
	if err != nil {
		return nil, 0, err
	}
	return calls, total, nil
}

// GetUserActiveCalls retrieves the non-terminal calls userID participates in
func (r *CallRepository) GetUserActiveCalls(ctx context.Context, userID uuid.UUID) ([]domain.Call, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+prefixed("c.", callColumns)+`
		FROM calls c
		JOIN call_participants cp ON c.call_id = cp.call_id
		WHERE cp.user_id = $1 AND c.status IN ('initiating', 'ringing', 'active')
		ORDER BY c.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get active calls: %w", err)
	}
	defer rows.Close()

	return scanCalls(rows)
}

func scanCall(row pgx.Row) (*domain.Call, error) {
	call := &domain.Call{}
	err := row.Scan(
		&call.CallID,
		&call.CallerID,
		&call.ReceiverID,
		&call.GroupID,
		&call.CallType,
		&call.Status,
		&call.CreatedAt,
		&call.StartedAt,
		&call.EndedAt,
		&call.DurationSeconds,
	)
	if err != nil {
		return nil, err
	}
	return call, nil
}

func scanCalls(rows pgx.Rows) ([]domain.Call, error) {
	calls := []domain.Call{}
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, *call)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read calls: %w", err)
	}
	return calls, nil
}

// prefixed qualifies every column in a comma separated list with alias
func prefixed(alias, columns string) string {
	cols := strings.Split(columns, ",")
	for i, col := range cols {
		cols[i] = alias + strings.TrimSpace(col)
	}
	return strings.Join(cols, ", ")
}

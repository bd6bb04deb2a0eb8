package auth

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/uptrace/bun"
)

// MinBlockReasonLength is the shortest accepted block reason.
const MinBlockReasonLength = 5

const defaultOperationTimeout = 10 * time.Second

// Transition names used in metrics, hooks and error metadata.
const (
	TransitionActivate   = "activate"
	TransitionDeactivate = "deactivate"
	TransitionBlock      = "block"
	TransitionUnblock    = "unblock"
	TransitionDelete     = "delete"
)

// TransitionContext is passed into hooks for additional processing.
type TransitionContext struct {
	Actor      ActorRef
	Account    *Account
	Transition string
	From       AccountState
	To         AccountState
}

// TransitionHook runs inside the transaction, after the guards pass and
// before the change is persisted. Returning an error aborts the transition.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// AccountStateMachine drives the two independent lifecycle axes of an account.
type AccountStateMachine interface {
	SetActive(ctx context.Context, actor ActorRef, id int64, active bool) (AccountState, error)
	SetBlocked(ctx context.Context, actor ActorRef, id int64, blocked bool, reason string) (AccountState, error)
	Activate(ctx context.Context, actor ActorRef, id int64) (AccountState, error)
	Deactivate(ctx context.Context, actor ActorRef, id int64) (AccountState, error)
	Block(ctx context.Context, actor ActorRef, id int64, reason string) (AccountState, error)
	Unblock(ctx context.Context, actor ActorRef, id int64) (AccountState, error)
	Delete(ctx context.Context, actor ActorRef, id int64) error
	Current(ctx context.Context, id int64) (AccountState, error)
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*accountStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *accountStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish lifecycle events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *accountStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *accountStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

func WithStateMachineMetrics(m *Metrics) StateMachineOption {
	return func(sm *accountStateMachine) {
		sm.metrics = m
	}
}

// WithStateMachineTimeout bounds every operation.
func WithStateMachineTimeout(d time.Duration) StateMachineOption {
	return func(sm *accountStateMachine) {
		if d > 0 {
			sm.timeout = d
		}
	}
}

// WithBeforeTransitionHook adds a hook executed before the state update.
func WithBeforeTransitionHook(h TransitionHook) StateMachineOption {
	return func(sm *accountStateMachine) {
		if h != nil {
			sm.beforeHooks = append(sm.beforeHooks, h)
		}
	}
}

// NewAccountStateMachine returns the default implementation backed by the provided repositories.
func NewAccountStateMachine(repo RepositoryManager, opts ...StateMachineOption) AccountStateMachine {
	sm := &accountStateMachine{
		repo:         repo,
		now:          time.Now,
		timeout:      defaultOperationTimeout,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type accountStateMachine struct {
	repo         RepositoryManager
	now          func() time.Time
	timeout      time.Duration
	activitySink ActivitySink
	logger       Logger
	metrics      *Metrics
	beforeHooks  []TransitionHook
}

func (sm *accountStateMachine) SetActive(ctx context.Context, actor ActorRef, id int64, active bool) (AccountState, error) {
	transition := TransitionDeactivate
	if active {
		transition = TransitionActivate
	}

	return sm.mutate(ctx, actor, id, transition, func(account *Account) error {
		account.Active = active
		return nil
	})
}

func (sm *accountStateMachine) SetBlocked(ctx context.Context, actor ActorRef, id int64, blocked bool, reason string) (AccountState, error) {
	if !blocked {
		return sm.mutate(ctx, actor, id, TransitionUnblock, func(account *Account) error {
			account.Blocked = false
			account.BlockedReason = ""
			return nil
		})
	}

	reason = strings.TrimSpace(reason)
	return sm.mutate(ctx, actor, id, TransitionBlock, func(account *Account) error {
		// checked after the protected guard in mutate
		if reason != "" && utf8.RuneCountInString(reason) < MinBlockReasonLength {
			return ErrValidation.Clone().WithMetadata(map[string]any{
				"razon": fmt.Sprintf("the length must be at least %d characters", MinBlockReasonLength),
			})
		}
		account.Blocked = true
		account.BlockedReason = reason
		return nil
	})
}

func (sm *accountStateMachine) Activate(ctx context.Context, actor ActorRef, id int64) (AccountState, error) {
	return sm.SetActive(ctx, actor, id, true)
}

func (sm *accountStateMachine) Deactivate(ctx context.Context, actor ActorRef, id int64) (AccountState, error) {
	return sm.SetActive(ctx, actor, id, false)
}

func (sm *accountStateMachine) Block(ctx context.Context, actor ActorRef, id int64, reason string) (AccountState, error) {
	return sm.SetBlocked(ctx, actor, id, true, reason)
}

func (sm *accountStateMachine) Unblock(ctx context.Context, actor ActorRef, id int64) (AccountState, error) {
	return sm.SetBlocked(ctx, actor, id, false, "")
}

// Delete removes a non protected account together with its permission links.
func (sm *accountStateMachine) Delete(ctx context.Context, actor ActorRef, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, sm.timeout)
	defer cancel()

	unlock, err := sm.repo.LockAccount(ctx, id)
	if err != nil {
		err = normalizeError(err, TransitionDelete+" account")
		sm.metrics.observeTransition(TransitionDelete, err)
		return err
	}
	defer unlock()

	var before AccountState
	err = sm.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		account, err := sm.repo.Accounts().LockByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}

		if account.Protected {
			return protectedAccount(id, TransitionDelete)
		}

		before = account.State()
		if err := sm.runHooks(ctx, TransitionContext{
			Actor:      actor,
			Account:    account,
			Transition: TransitionDelete,
			From:       before,
		}); err != nil {
			return err
		}

		return sm.repo.Accounts().DeleteTx(ctx, tx, id)
	})

	err = normalizeError(err, TransitionDelete+" account")
	sm.metrics.observeTransition(TransitionDelete, err)
	if err != nil {
		return err
	}

	recordActivity(ctx, sm.activitySink, sm.logger, sm.now, ActivityEvent{
		EventType: ActivityEventAccountDeleted,
		Actor:     actor,
		AccountID: id,
		Before:    &before,
	})

	return nil
}

func (sm *accountStateMachine) Current(ctx context.Context, id int64) (AccountState, error) {
	ctx, cancel := context.WithTimeout(ctx, sm.timeout)
	defer cancel()

	account, err := sm.repo.Accounts().GetByID(ctx, id)
	if err != nil {
		return AccountState{}, normalizeError(err, "load account state")
	}
	return account.State(), nil
}

// mutate loads, guards, applies and persists one single-axis change while
// holding the account lock and a transaction.
func (sm *accountStateMachine) mutate(ctx context.Context, actor ActorRef, id int64, transition string, apply func(*Account) error) (AccountState, error) {
	ctx, cancel := context.WithTimeout(ctx, sm.timeout)
	defer cancel()

	unlock, err := sm.repo.LockAccount(ctx, id)
	if err != nil {
		err = normalizeError(err, transition+" account")
		sm.metrics.observeTransition(transition, err)
		return AccountState{}, err
	}
	defer unlock()

	var before, after AccountState
	err = sm.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		account, err := sm.repo.Accounts().LockByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}

		if account.Protected {
			return protectedAccount(id, transition)
		}

		before = account.State()
		if err := apply(account); err != nil {
			return err
		}
		now := sm.now().UTC()
		account.UpdatedAt = &now

		if err := sm.runHooks(ctx, TransitionContext{
			Actor:      actor,
			Account:    account,
			Transition: transition,
			From:       before,
			To:         account.State(),
		}); err != nil {
			return err
		}

		if err := sm.repo.Accounts().UpdateStateTx(ctx, tx, account); err != nil {
			return err
		}

		after = account.State()
		return nil
	})

	err = normalizeError(err, transition+" account")
	sm.metrics.observeTransition(transition, err)
	if err != nil {
		return AccountState{}, err
	}

	sm.logger.Debug("account %d %s: active=%t blocked=%t", id, transition, after.Active, after.Blocked)

	recordActivity(ctx, sm.activitySink, sm.logger, sm.now, ActivityEvent{
		EventType: transitionEvent(transition),
		Actor:     actor,
		AccountID: id,
		Before:    &before,
		After:     &after,
		Metadata:  transitionMetadata(transition, after),
	})

	return after, nil
}

func (sm *accountStateMachine) runHooks(ctx context.Context, tc TransitionContext) error {
	for _, hook := range sm.beforeHooks {
		if err := hook(ctx, tc); err != nil {
			return err
		}
	}
	return nil
}

func transitionEvent(transition string) ActivityEventType {
	switch transition {
	case TransitionActivate:
		return ActivityEventAccountActivated
	case TransitionDeactivate:
		return ActivityEventAccountDeactivated
	case TransitionBlock:
		return ActivityEventAccountBlocked
	case TransitionUnblock:
		return ActivityEventAccountUnblocked
	default:
		return ActivityEventAccountDeleted
	}
}

func transitionMetadata(transition string, after AccountState) map[string]any {
	meta := map[string]any{"transition": transition}
	if transition == TransitionBlock && after.Reason != "" {
		meta["reason"] = after.Reason
	}
	return meta
}

func protectedAccount(id int64, transition string) error {
	return ErrProtectedAccount.Clone().WithMetadata(map[string]any{
		"account_id": id,
		"operation":  transition,
	})
}

// Package memstore is an in-memory ledger.Store. Transactions are serialized
// and applied only when the callback succeeds.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"onehunt_rewards/internal/catalog"
	"onehunt_rewards/internal/ledger"
	"onehunt_rewards/internal/model"

	"github.com/google/uuid"
)

type Store struct {
	mu sync.Mutex

	users       map[int64]*model.User
	codes       map[string]int64
	events      []model.RewardEvent
	completions map[uuid.UUID]*model.TaskCompletion
	withdrawals map[uuid.UUID]*model.Withdrawal

	// catalogMu guards the definitions so the catalog can be loaded while a
	// transaction holds mu. Lock order is mu, then catalogMu.
	catalogMu    sync.RWMutex
	tasks        map[uuid.UUID]*model.Task
	achievements map[uuid.UUID]*model.Achievement
}

func New() *Store {
	return &Store{
		users:        make(map[int64]*model.User),
		codes:        make(map[string]int64),
		completions:  make(map[uuid.UUID]*model.TaskCompletion),
		withdrawals:  make(map[uuid.UUID]*model.Withdrawal),
		tasks:        make(map[uuid.UUID]*model.Task),
		achievements: make(map[uuid.UUID]*model.Achievement),
	}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{
		store:       s,
		users:       make(map[int64]*model.User),
		completions: make(map[uuid.UUID]*model.TaskCompletion),
		withdrawals: make(map[uuid.UUID]*model.Withdrawal),
		taskDeltas:  make(map[uuid.UUID]int),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx.commit()
	return nil
}

type memTx struct {
	store *Store

	users       map[int64]*model.User
	created     []int64
	events      []model.RewardEvent
	completions map[uuid.UUID]*model.TaskCompletion
	withdrawals map[uuid.UUID]*model.Withdrawal
	taskDeltas  map[uuid.UUID]int
}

func (t *memTx) user(id int64) (*model.User, bool) {
	if u, ok := t.users[id]; ok {
		return u, true
	}
	u, ok := t.store.users[id]
	if !ok {
		return nil, false
	}
	staged := u.Clone()
	t.users[id] = staged
	return staged, true
}

func (t *memTx) GetUser(_ context.Context, telegramID int64) (*model.User, error) {
	u, ok := t.user(telegramID)
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return u.Clone(), nil
}

func (t *memTx) GetUserByReferralCode(ctx context.Context, code string) (*model.User, error) {
	for id, u := range t.users {
		if u.ReferralCode == code {
			return t.GetUser(ctx, id)
		}
	}
	id, ok := t.store.codes[code]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return t.GetUser(ctx, id)
}

func (t *memTx) CreateUser(_ context.Context, user *model.User) error {
	if _, exists := t.user(user.TelegramID); exists {
		return ledger.ErrDuplicate
	}
	if _, taken := t.store.codes[user.ReferralCode]; taken {
		return ledger.ErrDuplicate
	}
	for _, u := range t.users {
		if u.ReferralCode == user.ReferralCode {
			return ledger.ErrDuplicate
		}
	}
	t.users[user.TelegramID] = user.Clone()
	t.created = append(t.created, user.TelegramID)
	return nil
}

func (t *memTx) SaveUser(_ context.Context, user *model.User) error {
	if _, ok := t.user(user.TelegramID); !ok {
		return ledger.ErrNotFound
	}
	t.users[user.TelegramID] = user.Clone()
	return nil
}

func (t *memTx) AppendEvent(_ context.Context, event *model.RewardEvent) error {
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	t.events = append(t.events, *event)
	return nil
}

func (t *memTx) completion(id uuid.UUID) (*model.TaskCompletion, bool) {
	if c, ok := t.completions[id]; ok {
		return c, true
	}
	c, ok := t.store.completions[id]
	if !ok {
		return nil, false
	}
	staged := *c
	t.completions[id] = &staged
	return &staged, true
}

func (t *memTx) CountCompletions(_ context.Context, telegramID int64, taskID uuid.UUID, statuses ...model.CompletionStatus) (int, error) {
	want := make(map[model.CompletionStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	match := func(c *model.TaskCompletion) bool {
		return c.UserID == telegramID && c.TaskID == taskID && (len(want) == 0 || want[c.Status])
	}

	n := 0
	for id, c := range t.store.completions {
		if _, staged := t.completions[id]; staged {
			continue
		}
		if match(c) {
			n++
		}
	}
	for _, c := range t.completions {
		if match(c) {
			n++
		}
	}
	return n, nil
}

func (t *memTx) CreateCompletion(_ context.Context, completion *model.TaskCompletion) error {
	if completion.CompletionID == uuid.Nil {
		completion.CompletionID = uuid.New()
	}
	if _, exists := t.completion(completion.CompletionID); exists {
		return ledger.ErrDuplicate
	}
	c := *completion
	t.completions[c.CompletionID] = &c
	return nil
}

func (t *memTx) GetCompletion(_ context.Context, completionID uuid.UUID) (*model.TaskCompletion, error) {
	c, ok := t.completion(completionID)
	if !ok {
		return nil, ledger.ErrNotFound
	}
	out := *c
	return &out, nil
}

func (t *memTx) UpdateCompletion(_ context.Context, completion *model.TaskCompletion) error {
	if _, ok := t.completion(completion.CompletionID); !ok {
		return ledger.ErrNotFound
	}
	c := *completion
	t.completions[c.CompletionID] = &c
	return nil
}

func (t *memTx) IncrementTaskCompletions(_ context.Context, taskID uuid.UUID, limit *int) error {
	t.store.catalogMu.RLock()
	defer t.store.catalogMu.RUnlock()

	task, ok := t.store.tasks[taskID]
	if !ok {
		return ledger.ErrNotFound
	}
	current := task.CurrentCompletions + t.taskDeltas[taskID]
	if limit != nil && current >= *limit {
		return ledger.ErrLimitReached
	}
	t.taskDeltas[taskID]++
	return nil
}

func (t *memTx) withdrawal(id uuid.UUID) (*model.Withdrawal, bool) {
	if w, ok := t.withdrawals[id]; ok {
		return w, true
	}
	w, ok := t.store.withdrawals[id]
	if !ok {
		return nil, false
	}
	staged := *w
	t.withdrawals[id] = &staged
	return &staged, true
}

func (t *memTx) CreateWithdrawal(_ context.Context, withdrawal *model.Withdrawal) error {
	if withdrawal.WithdrawalID == uuid.Nil {
		withdrawal.WithdrawalID = uuid.New()
	}
	if _, exists := t.withdrawal(withdrawal.WithdrawalID); exists {
		return ledger.ErrDuplicate
	}
	w := *withdrawal
	t.withdrawals[w.WithdrawalID] = &w
	return nil
}

func (t *memTx) GetWithdrawal(_ context.Context, withdrawalID uuid.UUID) (*model.Withdrawal, error) {
	w, ok := t.withdrawal(withdrawalID)
	if !ok {
		return nil, ledger.ErrNotFound
	}
	out := *w
	return &out, nil
}

func (t *memTx) UpdateWithdrawal(_ context.Context, withdrawal *model.Withdrawal) error {
	if _, ok := t.withdrawal(withdrawal.WithdrawalID); !ok {
		return ledger.ErrNotFound
	}
	w := *withdrawal
	t.withdrawals[w.WithdrawalID] = &w
	return nil
}

func (t *memTx) commit() {
	s := t.store
	for id, u := range t.users {
		s.users[id] = u
		s.codes[u.ReferralCode] = id
	}
	for id, c := range t.completions {
		s.completions[id] = c
	}
	for id, w := range t.withdrawals {
		s.withdrawals[id] = w
	}
	s.catalogMu.Lock()
	for id, d := range t.taskDeltas {
		s.tasks[id].CurrentCompletions += d
	}
	s.catalogMu.Unlock()
	s.events = append(s.events, t.events...)
}

// PutTask stores or replaces a task definition.
func (s *Store) PutTask(task *model.Task) {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	c := *task
	s.tasks[task.TaskID] = &c
}

func (s *Store) PutAchievement(a *model.Achievement) {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	c := *a
	s.achievements[a.AchievementID] = &c
}

// PutUser stores a user directly, bypassing the engine.
func (s *Store) PutUser(u *model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.TelegramID] = u.Clone()
	s.codes[u.ReferralCode] = u.TelegramID
}

func (s *Store) User(telegramID int64) (*model.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[telegramID]
	if !ok {
		return nil, false
	}
	return u.Clone(), true
}

func (s *Store) Task(taskID uuid.UUID) (*model.Task, bool) {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, false
	}
	c := *t
	return &c, true
}

func (s *Store) Withdrawal(withdrawalID uuid.UUID) (*model.Withdrawal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.withdrawals[withdrawalID]
	if !ok {
		return nil, false
	}
	c := *w
	return &c, true
}

// Events returns the user's events in append order.
func (s *Store) Events(telegramID int64) []model.RewardEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.RewardEvent
	for _, e := range s.events {
		if e.UserID == telegramID {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) Completions(telegramID int64, taskID uuid.UUID) []model.TaskCompletion {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.TaskCompletion
	for _, c := range s.completions {
		if c.UserID == telegramID && c.TaskID == taskID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.Before(out[j].CompletedAt) })
	return out
}

// BalanceDrift lists users whose balance differs from the sum of their events.
func (s *Store) BalanceDrift() []model.BalanceDrift {
	s.mu.Lock()
	defer s.mu.Unlock()

	sums := make(map[int64]int64)
	for _, e := range s.events {
		sums[e.UserID] += e.Amount
	}
	var out []model.BalanceDrift
	for id, u := range s.users {
		if u.Balance != sums[id] {
			out = append(out, model.BalanceDrift{TelegramID: id, Balance: u.Balance, LedgerBalance: sums[id]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TelegramID < out[j].TelegramID })
	return out
}

// LoadCatalog does not take mu, so it may be called from inside WithinTx.
func (s *Store) LoadCatalog(context.Context) (*catalog.Snapshot, error) {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()

	tasks := make([]*model.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	achievements := make([]*model.Achievement, 0, len(s.achievements))
	for _, a := range s.achievements {
		achievements = append(achievements, a)
	}
	sort.Slice(achievements, func(i, j int) bool {
		return achievements[i].Name < achievements[j].Name
	})
	return catalog.NewSnapshot(tasks, achievements, time.Now()), nil
}

// Package memory implements every storage port of the achievement engine in
// process. It backs the unit tests and the "memory" storage driver used for
// local runs without Postgres.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/classvest/achievement-engine/internal/domain/achievement"
	"github.com/classvest/achievement-engine/internal/domain/investment"
	"github.com/classvest/achievement-engine/internal/domain/shared"
)

type pairKey struct {
	studentID     string
	achievementID int64
}

// Store is a concurrency-safe in-memory implementation of
// achievement.Repository, UnlockStore, ProgressStore, RevocationStore,
// investment.Ledger and student.Roster.
type Store struct {
	mu sync.RWMutex

	achievements map[int64]*achievement.Achievement
	nextID       int64

	unlocks     map[pairKey]achievement.Unlock
	progress    map[pairKey]achievement.Progress
	revocations map[pairKey]achievement.Revocation

	students    []string
	studentSet  map[string]struct{}
	investments map[string][]investment.Investment

	now func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		achievements: make(map[int64]*achievement.Achievement),
		unlocks:      make(map[pairKey]achievement.Unlock),
		progress:     make(map[pairKey]achievement.Progress),
		revocations:  make(map[pairKey]achievement.Revocation),
		studentSet:   make(map[string]struct{}),
		investments:  make(map[string][]investment.Investment),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the timestamp source for created rows.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURES
// ══════════════════════════════════════════════════════════════════════════════

// AddStudent registers a student in the roster. Duplicates are ignored.
func (s *Store) AddStudent(studentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addStudentLocked(studentID)
}

func (s *Store) addStudentLocked(studentID string) {
	if _, ok := s.studentSet[studentID]; ok {
		return
	}
	s.studentSet[studentID] = struct{}{}
	s.students = append(s.students, studentID)
}

// AddInvestment appends a ledger entry and registers its student.
func (s *Store) AddInvestment(inv investment.Investment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addStudentLocked(inv.StudentID)
	if inv.ID == "" {
		inv.ID = fmt.Sprintf("inv-%d", len(s.investments[inv.StudentID])+1)
	}
	s.investments[inv.StudentID] = append(s.investments[inv.StudentID], inv)
}

// ══════════════════════════════════════════════════════════════════════════════
// ROSTER AND LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// ListStudentIDs implements student.Roster in insertion order.
func (s *Store) ListStudentIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.students))
	copy(out, s.students)
	return out, nil
}

// Ping implements student.Roster.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// History implements investment.Ledger, ordered by date ascending.
func (s *Store) History(ctx context.Context, studentID string) ([]investment.Investment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.investments[studentID]
	out := make([]investment.Investment, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

func cloneAchievement(a *achievement.Achievement) *achievement.Achievement {
	c := *a
	if a.TriggerConfig != nil {
		tc := *a.TriggerConfig
		if tc.CategoryID != nil {
			id := *tc.CategoryID
			tc.CategoryID = &id
		}
		c.TriggerConfig = &tc
	}
	return &c
}

func (s *Store) listSorted(keep func(*achievement.Achievement) bool) []*achievement.Achievement {
	out := make([]*achievement.Achievement, 0, len(s.achievements))
	for _, a := range s.achievements {
		if keep(a) {
			out = append(out, cloneAchievement(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListActiveAutomatic implements achievement.Repository.
func (s *Store) ListActiveAutomatic(ctx context.Context) ([]*achievement.Achievement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listSorted(func(a *achievement.Achievement) bool {
		return a.IsActive && a.IsAutomatic()
	}), nil
}

// ListActive implements achievement.Repository.
func (s *Store) ListActive(ctx context.Context) ([]*achievement.Achievement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listSorted(func(a *achievement.Achievement) bool { return a.IsActive }), nil
}

// GetByID implements achievement.Repository.
func (s *Store) GetByID(ctx context.Context, id int64) (*achievement.Achievement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.achievements[id]
	if !ok {
		return nil, shared.ErrAchievementNotFound
	}
	return cloneAchievement(a), nil
}

// GetByName implements achievement.Repository.
func (s *Store) GetByName(ctx context.Context, name string) (*achievement.Achievement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.achievements {
		if a.Name == name {
			return cloneAchievement(a), nil
		}
	}
	return nil, shared.ErrAchievementNotFound
}

// Save implements achievement.Repository. Names are unique.
func (s *Store) Save(ctx context.Context, a *achievement.Achievement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.achievements {
		if existing.Name == a.Name && id != a.ID {
			return shared.WrapError("achievement", "Save", shared.ErrAlreadyExists,
				"achievement name already taken", fmt.Errorf("name %q", a.Name))
		}
	}

	now := s.now()
	if a.ID == 0 {
		s.nextID++
		a.ID = s.nextID
		a.CreatedAt = now
	} else {
		existing, ok := s.achievements[a.ID]
		if !ok {
			return shared.ErrAchievementNotFound
		}
		a.CreatedAt = existing.CreatedAt
		if a.ID > s.nextID {
			s.nextID = a.ID
		}
	}
	a.UpdatedAt = now
	s.achievements[a.ID] = cloneAchievement(a)
	return nil
}

// Delete implements achievement.Repository and refuses to cascade.
func (s *Store) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.achievements[id]; !ok {
		return shared.ErrAchievementNotFound
	}
	for k := range s.unlocks {
		if k.achievementID == id {
			return shared.ErrAchievementInUse
		}
	}
	delete(s.achievements, id)
	for k := range s.progress {
		if k.achievementID == id {
			delete(s.progress, k)
		}
	}
	for k := range s.revocations {
		if k.achievementID == id {
			delete(s.revocations, k)
		}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// UNLOCK STORE
// ══════════════════════════════════════════════════════════════════════════════

// TryInsertUnlock implements achievement.UnlockStore. The map key gives the
// same at-most-one guarantee as the unique constraint in Postgres.
func (s *Store) TryInsertUnlock(ctx context.Context, u achievement.Unlock) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.achievements[u.AchievementID]; !ok {
		return false, shared.ErrAchievementNotFound
	}
	k := pairKey{u.StudentID, u.AchievementID}
	if _, exists := s.unlocks[k]; exists {
		return false, nil
	}
	if u.UnlockedAt.IsZero() {
		u.UnlockedAt = s.now()
	}
	s.unlocks[k] = u
	return true, nil
}

// GetUnlock implements achievement.UnlockStore.
func (s *Store) GetUnlock(ctx context.Context, studentID string, achievementID int64) (*achievement.Unlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.unlocks[pairKey{studentID, achievementID}]
	if !ok {
		return nil, shared.ErrUnlockNotFound
	}
	return &u, nil
}

// ListUnlocks implements achievement.UnlockStore, newest first.
func (s *Store) ListUnlocks(ctx context.Context, studentID string) ([]achievement.Unlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []achievement.Unlock
	for k, u := range s.unlocks {
		if k.studentID == studentID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UnlockedAt.Equal(out[j].UnlockedAt) {
			return out[i].AchievementID < out[j].AchievementID
		}
		return out[i].UnlockedAt.After(out[j].UnlockedAt)
	})
	return out, nil
}

// DeleteUnlock implements achievement.UnlockStore.
func (s *Store) DeleteUnlock(ctx context.Context, studentID string, achievementID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey{studentID, achievementID}
	if _, ok := s.unlocks[k]; !ok {
		return false, nil
	}
	delete(s.unlocks, k)
	return true, nil
}

// MarkAcknowledged implements achievement.UnlockStore.
func (s *Store) MarkAcknowledged(ctx context.Context, studentID string, achievementID int64, seen, celebrationShown bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey{studentID, achievementID}
	u, ok := s.unlocks[k]
	if !ok {
		return shared.ErrUnlockNotFound
	}
	u.Seen = u.Seen || seen
	u.CelebrationShown = u.CelebrationShown || celebrationShown
	s.unlocks[k] = u
	return nil
}

// CountByAchievement implements achievement.UnlockStore.
func (s *Store) CountByAchievement(ctx context.Context, achievementID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k := range s.unlocks {
		if k.achievementID == achievementID {
			n++
		}
	}
	return n, nil
}

// CountUnlockedSince implements achievement.UnlockStore.
func (s *Store) CountUnlockedSince(ctx context.Context, since time.Time) (map[int64]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]int)
	for k, u := range s.unlocks {
		if !u.UnlockedAt.Before(since) {
			out[k.achievementID]++
		}
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS AND REVOCATIONS
// ══════════════════════════════════════════════════════════════════════════════

// UpsertProgress implements achievement.ProgressStore.
func (s *Store) UpsertProgress(ctx context.Context, p achievement.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.achievements[p.AchievementID]; !ok {
		return shared.ErrAchievementNotFound
	}
	if p.LastUpdated.IsZero() {
		p.LastUpdated = s.now()
	}
	s.progress[pairKey{p.StudentID, p.AchievementID}] = p
	return nil
}

// ListProgress implements achievement.ProgressStore, ordered by achievement.
func (s *Store) ListProgress(ctx context.Context, studentID string) ([]achievement.Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []achievement.Progress
	for k, p := range s.progress {
		if k.studentID == studentID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AchievementID < out[j].AchievementID })
	return out, nil
}

// SaveRevocation implements achievement.RevocationStore.
func (s *Store) SaveRevocation(ctx context.Context, r achievement.Revocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.RevokedAt.IsZero() {
		r.RevokedAt = s.now()
	}
	s.revocations[pairKey{r.StudentID, r.AchievementID}] = r
	return nil
}

// RevokedAchievements implements achievement.RevocationStore.
func (s *Store) RevokedAchievements(ctx context.Context, studentID string) (map[int64]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]bool)
	for k := range s.revocations {
		if k.studentID == studentID {
			out[k.achievementID] = true
		}
	}
	return out, nil
}

// DeleteRevocation implements achievement.RevocationStore.
func (s *Store) DeleteRevocation(ctx context.Context, studentID string, achievementID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey{studentID, achievementID}
	if _, ok := s.revocations[k]; !ok {
		return false, nil
	}
	delete(s.revocations, k)
	return true, nil
}

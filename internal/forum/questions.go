package forum

import (
	"slices"
	"sync"
	"time"

	"github.com/pscheid92/askpulse/internal/domain"
)

type QuestionStore struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]domain.Question
	order  []int64 // insertion order; listed newest first
}

func NewQuestionStore() *QuestionStore {
	return &QuestionStore{
		nextID: 1,
		byID:   make(map[int64]domain.Question),
	}
}

// Create allocates the next id and stores the question.
func (s *QuestionStore) Create(draft domain.QuestionDraft, now time.Time) domain.Question {
	s.mu.Lock()
	defer s.mu.Unlock()

	tags := slices.Clone(draft.Tags)
	if tags == nil {
		tags = []string{}
	}

	q := domain.Question{
		ID:          s.nextID,
		Title:       draft.Title,
		Description: draft.Description,
		Tags:        tags,
		Author:      draft.Author,
		CreatedAt:   now,
	}
	s.nextID++
	s.byID[q.ID] = q
	s.order = append(s.order, q.ID)
	return q
}

func (s *QuestionStore) Get(id int64) (domain.Question, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.byID[id]
	return q, ok
}

func (s *QuestionStore) Exists(id int64) bool {
	_, ok := s.Get(id)
	return ok
}

// List returns up to limit questions, newest first, skipping offset.
func (s *QuestionStore) List(offset, limit int) []domain.Question {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if offset < 0 {
		offset = 0
	}
	out := make([]domain.Question, 0, min(max(limit, 0), len(s.order)))
	for i := len(s.order) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.byID[s.order[i]])
	}
	return out
}

func (s *QuestionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

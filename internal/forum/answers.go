package forum

import (
	"sync"
	"time"

	"github.com/pscheid92/askpulse/internal/domain"
)

type AnswerStore struct {
	mu         sync.RWMutex
	nextID     int64
	byID       map[int64]domain.Answer
	byQuestion map[int64][]int64
}

func NewAnswerStore() *AnswerStore {
	return &AnswerStore{
		nextID:     1,
		byID:       make(map[int64]domain.Answer),
		byQuestion: make(map[int64][]int64),
	}
}

// Create allocates the next answer id (unique across all questions) and appends
// the answer to its question.
func (s *AnswerStore) Create(questionID int64, draft domain.AnswerDraft, fingerprint string, now time.Time) domain.Answer {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := domain.Answer{
		ID:          s.nextID,
		QuestionID:  questionID,
		Content:     draft.Content,
		Author:      draft.Author,
		Comments:    []domain.Comment{},
		Fingerprint: fingerprint,
		CreatedAt:   now,
	}
	s.nextID++
	s.byID[a.ID] = a
	s.byQuestion[questionID] = append(s.byQuestion[questionID], a.ID)
	return a
}

func (s *AnswerStore) Get(id int64) (domain.Answer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	return a, ok
}

func (s *AnswerStore) Exists(id int64) bool {
	_, ok := s.Get(id)
	return ok
}

// ForQuestion returns the answers of a question in posting order.
func (s *AnswerStore) ForQuestion(questionID int64) []domain.Answer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byQuestion[questionID]
	out := make([]domain.Answer, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.byID[id])
	}
	return out
}

func (s *AnswerStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

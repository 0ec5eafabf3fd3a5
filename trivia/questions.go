package trivia

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"sort"
	"sync"
)

// QuestionRepository supplies the questions for a game. It is read once per
// game, when the host starts it.
type QuestionRepository interface {
	// Questions returns the questions of the given sets in a stable order.
	// An empty setIDs means every known set.
	Questions(ctx context.Context, setIDs []string) ([]Question, error)
}

// QuestionSet is the on-disk shape of a set of questions.
type QuestionSet struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

type MemoryQuestions struct {
	mu   sync.RWMutex
	sets map[string]QuestionSet
}

func NewMemoryQuestions(sets ...QuestionSet) *MemoryQuestions {
	m := &MemoryQuestions{sets: make(map[string]QuestionSet, len(sets))}
	for _, s := range sets {
		m.sets[s.ID] = s
	}
	return m
}

// LoadQuestionSets decodes a JSON array of question sets.
func LoadQuestionSets(r io.Reader) ([]QuestionSet, error) {
	var sets []QuestionSet
	if err := json.NewDecoder(r).Decode(&sets); err != nil {
		return nil, fmt.Errorf("decoding question sets: %w", err)
	}

	for _, s := range sets {
		if s.ID == "" {
			return nil, fmt.Errorf("question set %q has no id", s.Title)
		}
		for _, q := range s.Questions {
			if err := ValidateQuestion(q); err != nil {
				return nil, fmt.Errorf("set %s: %w", s.ID, err)
			}
		}
	}

	return sets, nil
}

func ValidateQuestion(q Question) error {
	switch {
	case q.ID == "":
		return fmt.Errorf("question %q has no id", q.Text)
	case len(q.Options) < 2:
		return fmt.Errorf("question %s needs at least 2 options", q.ID)
	case len(q.Correct) == 0:
		return fmt.Errorf("question %s has no correct answer", q.ID)
	}
	for _, c := range q.Correct {
		if c < 0 || c >= len(q.Options) {
			return fmt.Errorf("question %s: correct answer %d out of range", q.ID, c)
		}
	}
	return nil
}

func (m *MemoryQuestions) Questions(ctx context.Context, setIDs []string) ([]Question, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(setIDs) == 0 {
		for id := range m.sets {
			setIDs = append(setIDs, id)
		}
		sort.Strings(setIDs)
	}

	var out []Question
	for _, id := range setIDs {
		s, ok := m.sets[id]
		if !ok {
			return nil, fmt.Errorf("%w: question set %s", ErrNotFound, id)
		}
		for _, q := range s.Questions {
			q.Options = slices.Clone(q.Options)
			q.Correct = slices.Clone(q.Correct)
			out = append(out, q)
		}
	}

	return out, nil
}

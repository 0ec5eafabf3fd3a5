package main

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"log/slog"

	"github.com/Seednode/quizbox/store"
	"github.com/Seednode/quizbox/trivia"
)

//go:embed questions/default.json
var defaultQuestions []byte

func builtinQuestionSets() ([]trivia.QuestionSet, error) {
	return trivia.LoadQuestionSets(bytes.NewReader(defaultQuestions))
}

// openQuestions picks the question repository: a sqlite database when
// --questions-db is set (seeded with the built-in sets if empty), otherwise
// the built-in sets held in memory.
func openQuestions(ctx context.Context, cfg *Config, logger *slog.Logger) (trivia.QuestionRepository, func(), error) {
	sets, err := builtinQuestionSets()
	if err != nil {
		return nil, nil, fmt.Errorf("built-in questions: %w", err)
	}

	if cfg.questionsDB == "" {
		logger.Info("QUESTIONS: Using built-in sets", "sets", len(sets))
		return trivia.NewMemoryQuestions(sets...), func() {}, nil
	}

	db, err := store.Open(cfg.questionsDB)
	if err != nil {
		return nil, nil, err
	}

	ids, err := db.SetIDs(ctx)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	if len(ids) == 0 {
		if err := db.ImportSets(ctx, sets); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		logger.Info("QUESTIONS: Seeded database with built-in sets", "path", cfg.questionsDB, "sets", len(sets))
	} else {
		logger.Info("QUESTIONS: Using database", "path", cfg.questionsDB, "sets", len(ids))
	}

	return db, func() {
		if err := db.Close(); err != nil {
			logger.Warn("QUESTIONS: Closing database failed", "error", err)
		}
	}, nil
}

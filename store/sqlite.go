// Package store provides a SQLite-backed question repository.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Seednode/quizbox/trivia"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// Store reads question sets from SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens (creating if needed) a SQLite question database.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// ImportSets replaces the given sets, leaving any others untouched.
func (s *Store) ImportSets(ctx context.Context, sets []trivia.QuestionSet) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, set := range sets {
		if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE set_id = ?`, set.ID); err != nil {
			return fmt.Errorf("clear set %s: %w", set.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO question_sets (id, title) VALUES (?, ?)
			 ON CONFLICT(id) DO UPDATE SET title = excluded.title`,
			set.ID, set.Title,
		); err != nil {
			return fmt.Errorf("upsert set %s: %w", set.ID, err)
		}

		for i, q := range set.Questions {
			if err := trivia.ValidateQuestion(q); err != nil {
				return fmt.Errorf("set %s: %w", set.ID, err)
			}

			options, err := json.Marshal(q.Options)
			if err != nil {
				return fmt.Errorf("encode options for %s: %w", q.ID, err)
			}
			correct, err := json.Marshal(q.Correct)
			if err != nil {
				return fmt.Errorf("encode answers for %s: %w", q.ID, err)
			}

			if _, err := tx.ExecContext(ctx,
				`INSERT INTO questions (set_id, id, position, text, options, correct, difficulty)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				set.ID, q.ID, i, q.Text, string(options), string(correct), q.Difficulty,
			); err != nil {
				return fmt.Errorf("insert question %s: %w", q.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	return nil
}

// SetIDs lists every stored set in id order.
func (s *Store) SetIDs(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT id FROM question_sets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list sets: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan set id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Questions implements trivia.QuestionRepository.
func (s *Store) Questions(ctx context.Context, setIDs []string) ([]trivia.Question, error) {
	if len(setIDs) == 0 {
		ids, err := s.SetIDs(ctx)
		if err != nil {
			return nil, err
		}
		setIDs = ids
	}

	var out []trivia.Question
	for _, id := range setIDs {
		var exists int
		err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(1) FROM question_sets WHERE id = ?`, id).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("look up set %s: %w", id, err)
		}
		if exists == 0 {
			return nil, fmt.Errorf("%w: question set %s", trivia.ErrNotFound, id)
		}

		qs, err := s.setQuestions(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, qs...)
	}

	return out, nil
}

func (s *Store) setQuestions(ctx context.Context, setID string) ([]trivia.Question, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, text, options, correct, difficulty FROM questions
		 WHERE set_id = ? ORDER BY position`,
		setID,
	)
	if err != nil {
		return nil, fmt.Errorf("query set %s: %w", setID, err)
	}
	defer rows.Close()

	var out []trivia.Question
	for rows.Next() {
		var (
			q                trivia.Question
			options, correct string
		)
		if err := rows.Scan(&q.ID, &q.Text, &options, &correct, &q.Difficulty); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if err := json.Unmarshal([]byte(options), &q.Options); err != nil {
			return nil, fmt.Errorf("decode options for %s: %w", q.ID, err)
		}
		if err := json.Unmarshal([]byte(correct), &q.Correct); err != nil {
			return nil, fmt.Errorf("decode answers for %s: %w", q.ID, err)
		}
		out = append(out, q)
	}

	return out, rows.Err()
}

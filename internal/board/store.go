package board

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

var (
	// ErrNotFound は投稿が存在しないことを表す。
	ErrNotFound = errors.New("投稿が見つかりません")
	// ErrForbidden は作成者以外による変更を表す。
	ErrForbidden = errors.New("投稿の作成者ではありません")
)

// Board は掲示板の投稿。
type Board struct {
	// ID は投稿の一意識別子。
	ID string
	// Title は投稿のタイトル。
	Title string
	// Content は投稿の本文。
	Content string
	// AuthorID は作成者のメンバーID。
	AuthorID string
	// AuthorName は作成時点の作成者の表示名。
	AuthorName string
	// CreatedAt は作成日時。
	CreatedAt time.Time
	// UpdatedAt は最終更新日時。
	UpdatedAt time.Time
}

// Store は投稿をSQLiteに保存する。
// 日時はUTCのRFC3339形式の文字列で保存する。
type Store struct {
	db    *sql.DB
	clock clock.Clock
}

// NewStore は新しいStoreを生成する。
func NewStore(db *sql.DB, clk clock.Clock) *Store {
	return &Store{db: db, clock: clk}
}

const selectBoard = `SELECT id, title, content, author_id, author_name, created_at, updated_at FROM boards`

// List は作成順に全投稿を返す。
func (s *Store) List(ctx context.Context) ([]Board, error) {
	rows, err := s.db.QueryContext(ctx, selectBoard+" ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("投稿一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	list := make([]Board, 0)
	for rows.Next() {
		b, err := scanBoard(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("投稿一覧の取得に失敗: %w", err)
	}
	return list, nil
}

// Get は指定IDの投稿を返す。
func (s *Store) Get(ctx context.Context, id string) (Board, error) {
	b, err := scanBoard(s.db.QueryRowContext(ctx, selectBoard+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return Board{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return b, err
}

// Create はIDと日時を採番して投稿を保存する。
func (s *Store) Create(ctx context.Context, b Board) (Board, error) {
	now := s.now()
	b.ID = uuid.NewString()
	b.CreatedAt = now
	b.UpdatedAt = now

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO boards (id, title, content, author_id, author_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.Title, b.Content, b.AuthorID, b.AuthorName, formatTime(now), formatTime(now)); err != nil {
		return Board{}, fmt.Errorf("投稿の保存に失敗: %w", err)
	}
	return b, nil
}

// Update はauthorIDが作成者である場合に限りタイトルと本文を更新する。
// 投稿が無ければErrNotFound、作成者でなければErrForbiddenを返す。
func (s *Store) Update(ctx context.Context, id, authorID, title, content string) (Board, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE boards SET title = ?, content = ?, updated_at = ?
		WHERE id = ? AND author_id = ?
	`, title, content, formatTime(s.now()), id, authorID)
	if err != nil {
		return Board{}, fmt.Errorf("投稿の更新に失敗: %w", err)
	}
	if err := s.checkOwned(ctx, res, id); err != nil {
		return Board{}, err
	}
	return s.Get(ctx, id)
}

// Delete はauthorIDが作成者である場合に限り投稿を削除する。
// 投稿が無ければErrNotFound、作成者でなければErrForbiddenを返す。
func (s *Store) Delete(ctx context.Context, id, authorID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM boards WHERE id = ? AND author_id = ?", id, authorID)
	if err != nil {
		return fmt.Errorf("投稿の削除に失敗: %w", err)
	}
	return s.checkOwned(ctx, res, id)
}

// checkOwned は作成者条件付きの更新が1件も反映されなかった理由を判別する。
func (s *Store) checkOwned(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrForbidden, id)
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

// rowScanner は*sql.Rowと*sql.Rowsの共通部分。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanBoard(row rowScanner) (Board, error) {
	var (
		b                    Board
		createdAt, updatedAt string
	)
	if err := row.Scan(&b.ID, &b.Title, &b.Content, &b.AuthorID, &b.AuthorName, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Board{}, err
		}
		return Board{}, fmt.Errorf("投稿の読み込みに失敗: %w", err)
	}

	var err error
	if b.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Board{}, fmt.Errorf("作成日時が不正です: %w", err)
	}
	if b.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return Board{}, fmt.Errorf("更新日時が不正です: %w", err)
	}
	return b, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

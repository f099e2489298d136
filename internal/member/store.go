package member

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound は指定したメンバーが存在しないことを表す。
	ErrNotFound = errors.New("メンバーが見つかりません")
	// ErrDuplicate は同じメンバーIDが既に登録されていることを表す。
	ErrDuplicate = errors.New("メンバーIDは既に使用されています")
)

// RoleUser は一般メンバーのロール。
const RoleUser = "USER"

// Member はメンバーの認証情報とプロフィール。
type Member struct {
	// MemberID はログインに使用する一意なID。トークンのsubjectになる。
	MemberID string
	// PasswordHash はbcryptでハッシュ化したパスワード。
	PasswordHash string
	// Role はトークンに含めるロール。
	Role string
	// Name は表示名。
	Name string
	// Email はメールアドレス。
	Email string
	// CreatedAt は登録日時。
	CreatedAt time.Time
}

// Store はメンバーをSQLiteに保存する。
type Store struct {
	db *sql.DB
}

// NewStore は新しいStoreを生成する。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create はメンバーを登録する。同じメンバーIDが存在する場合はErrDuplicateを返す。
func (s *Store) Create(ctx context.Context, m Member) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO members (member_id, password_hash, role, name, email)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (member_id) DO NOTHING
	`, m.MemberID, m.PasswordHash, m.Role, m.Name, m.Email)
	if err != nil {
		return fmt.Errorf("メンバーの登録に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("登録件数の取得に失敗: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrDuplicate, m.MemberID)
	}
	return nil
}

// FindByID はメンバーIDでメンバーを取得する。
func (s *Store) FindByID(ctx context.Context, memberID string) (Member, error) {
	var m Member
	err := s.db.QueryRowContext(ctx, `
		SELECT member_id, password_hash, role, name, email, created_at
		FROM members WHERE member_id = ?
	`, memberID).Scan(&m.MemberID, &m.PasswordHash, &m.Role, &m.Name, &m.Email, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Member{}, fmt.Errorf("%w: %s", ErrNotFound, memberID)
	}
	if err != nil {
		return Member{}, fmt.Errorf("メンバーの取得に失敗: %w", err)
	}
	return m, nil
}

// Update は表示名・メールアドレス・パスワードハッシュを更新する。
// メンバーが存在しない場合はErrNotFoundを返す。
func (s *Store) Update(ctx context.Context, m Member) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE members SET name = ?, email = ?, password_hash = ?
		WHERE member_id = ?
	`, m.Name, m.Email, m.PasswordHash, m.MemberID)
	if err != nil {
		return fmt.Errorf("メンバーの更新に失敗: %w", err)
	}
	return expectAffected(res, m.MemberID)
}

// Delete はメンバーを削除する。メンバーが存在しない場合はErrNotFoundを返す。
func (s *Store) Delete(ctx context.Context, memberID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM members WHERE member_id = ?", memberID)
	if err != nil {
		return fmt.Errorf("メンバーの削除に失敗: %w", err)
	}
	return expectAffected(res, memberID)
}

func expectAffected(res sql.Result, memberID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, memberID)
	}
	return nil
}

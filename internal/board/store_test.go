package board

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

// newTestStore はモック時計を使うStoreを生成する。
func newTestStore(t *testing.T) (*Store, *clock.Mock) {
	t.Helper()

	mock := clock.NewMock()
	mock.Set(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewStore(openTestDB(t), mock), mock
}

// TestStore は投稿の永続化と作成者による変更制限を検証する。
func TestStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("作成した投稿が作成順に一覧で返ること", func(t *testing.T) {
		t.Parallel()
		store, mock := newTestStore(t)

		first, err := store.Create(ctx, Board{Title: "1件目", AuthorID: "alice", AuthorName: "Alice"})
		if err != nil {
			t.Fatalf("Create()でエラーが発生: %v", err)
		}
		mock.Add(time.Minute)
		second, err := store.Create(ctx, Board{Title: "2件目", AuthorID: "bob"})
		if err != nil {
			t.Fatalf("Create()でエラーが発生: %v", err)
		}
		if first.ID == "" || first.ID == second.ID {
			t.Errorf("IDが一意に採番されていない: %q, %q", first.ID, second.ID)
		}

		list, err := store.List(ctx)
		if err != nil {
			t.Fatalf("List()でエラーが発生: %v", err)
		}
		if len(list) != 2 || list[0].ID != first.ID || list[1].ID != second.ID {
			t.Fatalf("list = %+v", list)
		}
		if !list[0].CreatedAt.Equal(first.CreatedAt) || !list[1].CreatedAt.Equal(first.CreatedAt.Add(time.Minute)) {
			t.Errorf("作成日時 = %v, %v", list[0].CreatedAt, list[1].CreatedAt)
		}
		if list[0].AuthorName != "Alice" {
			t.Errorf("AuthorName = %q, want Alice", list[0].AuthorName)
		}
	})

	t.Run("作成者のみ更新できること", func(t *testing.T) {
		t.Parallel()
		store, mock := newTestStore(t)

		b, err := store.Create(ctx, Board{Title: "更新前", AuthorID: "alice"})
		if err != nil {
			t.Fatalf("Create()でエラーが発生: %v", err)
		}
		mock.Add(time.Hour)

		if _, err := store.Update(ctx, b.ID, "bob", "乗っ取り", ""); !errors.Is(err, ErrForbidden) {
			t.Errorf("作成者以外の更新 err = %v, want ErrForbidden", err)
		}
		if _, err := store.Update(ctx, "unknown", "alice", "x", ""); !errors.Is(err, ErrNotFound) {
			t.Errorf("存在しない投稿の更新 err = %v, want ErrNotFound", err)
		}

		updated, err := store.Update(ctx, b.ID, "alice", "更新後", "本文")
		if err != nil {
			t.Fatalf("Update()でエラーが発生: %v", err)
		}
		if updated.Title != "更新後" || updated.Content != "本文" {
			t.Errorf("updated = %+v", updated)
		}
		if !updated.CreatedAt.Equal(b.CreatedAt) || !updated.UpdatedAt.Equal(b.CreatedAt.Add(time.Hour)) {
			t.Errorf("日時 = %v, %v", updated.CreatedAt, updated.UpdatedAt)
		}
	})

	t.Run("作成者のみ削除できること", func(t *testing.T) {
		t.Parallel()
		store, _ := newTestStore(t)

		b, err := store.Create(ctx, Board{Title: "削除対象", AuthorID: "alice"})
		if err != nil {
			t.Fatalf("Create()でエラーが発生: %v", err)
		}

		if err := store.Delete(ctx, b.ID, "bob"); !errors.Is(err, ErrForbidden) {
			t.Errorf("作成者以外の削除 err = %v, want ErrForbidden", err)
		}
		if err := store.Delete(ctx, b.ID, "alice"); err != nil {
			t.Fatalf("Delete()でエラーが発生: %v", err)
		}
		if _, err := store.Get(ctx, b.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("削除後のGet() err = %v, want ErrNotFound", err)
		}
		if err := store.Delete(ctx, b.ID, "alice"); !errors.Is(err, ErrNotFound) {
			t.Errorf("2回目の削除 err = %v, want ErrNotFound", err)
		}
	})

	t.Run("ファイルDBは再起動後も投稿が残ること", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "board.db")
		db, err := OpenDB(ctx, path)
		if err != nil {
			t.Fatalf("OpenDB()でエラーが発生: %v", err)
		}
		created, err := NewStore(db, clock.New()).Create(ctx, Board{Title: "永続化", AuthorID: "alice"})
		if err != nil {
			t.Fatalf("Create()でエラーが発生: %v", err)
		}
		db.Close()

		db, err = OpenDB(ctx, path)
		if err != nil {
			t.Fatalf("2回目のOpenDB()でエラーが発生: %v", err)
		}
		defer db.Close()

		got, err := NewStore(db, clock.New()).Get(ctx, created.ID)
		if err != nil {
			t.Fatalf("Get()でエラーが発生: %v", err)
		}
		if got.Title != "永続化" {
			t.Errorf("Title = %q, want 永続化", got.Title)
		}
	})
}

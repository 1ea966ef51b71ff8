package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"tribechat/internal/apperrors"
	"tribechat/internal/db"
)

// These tests run against a real Postgres; set TEST_DATABASE_DSN to enable
// them. The reaction-toggle atomicity assertions in particular are about
// Postgres semantics and mean nothing against a fake.

type repoFixture struct {
	repo    *Repository
	tribeID int
	alice   int
	bob     int
}

func openRepo(t *testing.T) *repoFixture {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}

	database, err := db.NewDatabase(dsn)
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate())
	t.Cleanup(func() { database.Conn.Close() })

	conn := database.Conn
	alice := createTestUser(t, conn, "alice")
	bob := createTestUser(t, conn, "bob")

	var tribeID int
	err = conn.QueryRow(
		"INSERT INTO tribes (name, owner_id) VALUES ($1, $2) RETURNING id",
		"repo test tribe", alice,
	).Scan(&tribeID)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Exec("DELETE FROM tribes WHERE id = $1", tribeID)
		conn.Exec("DELETE FROM users WHERE id IN ($1, $2)", alice, bob)
	})

	return &repoFixture{
		repo:    NewRepository(conn),
		tribeID: tribeID,
		alice:   alice,
		bob:     bob,
	}
}

func createTestUser(t *testing.T, conn *sql.DB, prefix string) int {
	t.Helper()
	var id int
	err := conn.QueryRow(
		"INSERT INTO users (username, password) VALUES ($1, 'x') RETURNING id",
		fmt.Sprintf("%s-%s", prefix, uuid.NewString()[:8]),
	).Scan(&id)
	require.NoError(t, err)
	return id
}

func Test_Save_Then_Fetch_Single_Message(t *testing.T) {
	req := require.New(t)
	f := openRepo(t)
	ctx := context.Background()

	saved, err := f.repo.Save(ctx, f.tribeID, f.alice, "hello", nil, nil)
	req.NoError(err)
	req.NotEqual(uuid.Nil, saved.ID)
	req.False(saved.CreatedAt.IsZero())
	req.Empty(saved.Mentions)
	req.Empty(saved.Reactions)

	msgs, err := f.repo.Fetch(ctx, f.tribeID, 50, nil)
	req.NoError(err)
	req.Len(msgs, 1)
	req.Equal("hello", msgs[0].Content)
	req.Equal(f.alice, msgs[0].SenderID)
	req.Equal(saved.ID, msgs[0].ID)
}

func Test_Fetch_Is_Ascending_With_Backward_Cursor(t *testing.T) {
	req := require.New(t)
	f := openRepo(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.repo.Save(ctx, f.tribeID, f.alice, fmt.Sprintf("msg %d", i), nil, nil)
		req.NoError(err)
		time.Sleep(5 * time.Millisecond) // distinct created_at
	}

	page, err := f.repo.Fetch(ctx, f.tribeID, 2, nil)
	req.NoError(err)
	req.Len(page, 2)
	req.Equal("msg 3", page[0].Content)
	req.Equal("msg 4", page[1].Content)

	cursor := page[0].CreatedAt
	older, err := f.repo.Fetch(ctx, f.tribeID, 2, &cursor)
	req.NoError(err)
	req.Len(older, 2)
	req.Equal("msg 1", older[0].Content)
	req.Equal("msg 2", older[1].Content)

	// Non-decreasing created_at within every page.
	for _, msgs := range [][]Message{page, older} {
		for i := 1; i < len(msgs); i++ {
			req.False(msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt))
		}
	}
}

func Test_Toggle_Reaction_Flips(t *testing.T) {
	req := require.New(t)
	f := openRepo(t)
	ctx := context.Background()

	saved, err := f.repo.Save(ctx, f.tribeID, f.alice, "react", nil, nil)
	req.NoError(err)

	msg, err := f.repo.ToggleReaction(ctx, f.tribeID, saved.ID, f.bob, "bob", "👍")
	req.NoError(err)
	req.Len(msg.Reactions, 1)
	req.Equal(Reaction{Emoji: "👍", UserID: f.bob, UserName: "bob"}, msg.Reactions[0])

	msg, err = f.repo.ToggleReaction(ctx, f.tribeID, saved.ID, f.bob, "bob", "👍")
	req.NoError(err)
	req.Empty(msg.Reactions)
}

func Test_Toggle_Reaction_Distinct_Pairs_Coexist(t *testing.T) {
	req := require.New(t)
	f := openRepo(t)
	ctx := context.Background()

	saved, err := f.repo.Save(ctx, f.tribeID, f.alice, "popular", nil, nil)
	req.NoError(err)

	_, err = f.repo.ToggleReaction(ctx, f.tribeID, saved.ID, f.alice, "alice", "👍")
	req.NoError(err)
	_, err = f.repo.ToggleReaction(ctx, f.tribeID, saved.ID, f.bob, "bob", "👍")
	req.NoError(err)
	msg, err := f.repo.ToggleReaction(ctx, f.tribeID, saved.ID, f.bob, "bob", "🎉")
	req.NoError(err)
	req.Len(msg.Reactions, 3)
}

func Test_Toggle_Reaction_Concurrent_Toggles_Do_Not_Lose_Updates(t *testing.T) {
	req := require.New(t)
	f := openRepo(t)
	ctx := context.Background()

	saved, err := f.repo.Save(ctx, f.tribeID, f.alice, "contended", nil, nil)
	req.NoError(err)

	// Two users toggle simultaneously; the single-statement update must not
	// lose either write.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, user := range []int{f.alice, f.bob} {
		wg.Add(1)
		go func(i, userID int) {
			defer wg.Done()
			name := fmt.Sprintf("user%d", userID)
			_, errs[i] = f.repo.ToggleReaction(ctx, f.tribeID, saved.ID, userID, name, "🔥")
		}(i, user)
	}
	wg.Wait()
	req.NoError(errs[0])
	req.NoError(errs[1])

	msgs, err := f.repo.Fetch(ctx, f.tribeID, 10, nil)
	req.NoError(err)
	req.Len(msgs, 1)
	req.Len(msgs[0].Reactions, 2)
}

func Test_Toggle_Reaction_Unknown_Message(t *testing.T) {
	req := require.New(t)
	f := openRepo(t)

	_, err := f.repo.ToggleReaction(context.Background(), f.tribeID, uuid.New(), f.bob, "bob", "👍")
	req.True(errors.Is(err, apperrors.ErrNotFound))
}

func Test_Edit_NonSender_Forbidden_And_Unchanged(t *testing.T) {
	req := require.New(t)
	f := openRepo(t)
	ctx := context.Background()

	saved, err := f.repo.Save(ctx, f.tribeID, f.alice, "original", nil, nil)
	req.NoError(err)

	_, err = f.repo.Edit(ctx, f.tribeID, saved.ID, f.bob, "hijacked")
	req.True(errors.Is(err, apperrors.ErrForbidden))

	msgs, err := f.repo.Fetch(ctx, f.tribeID, 10, nil)
	req.NoError(err)
	req.Equal("original", msgs[0].Content)
	req.False(msgs[0].Edited)
}

func Test_Edit_Keeps_Mention_Snapshot(t *testing.T) {
	req := require.New(t)
	f := openRepo(t)
	ctx := context.Background()

	saved, err := f.repo.Save(ctx, f.tribeID, f.alice, "hi @bob", []string{"bob"}, nil)
	req.NoError(err)

	edited, err := f.repo.Edit(ctx, f.tribeID, saved.ID, f.alice, "hi @carol actually")
	req.NoError(err)
	req.True(edited.Edited)
	req.NotNil(edited.EditedAt)
	req.Equal([]string{"bob"}, edited.Mentions)
}

func Test_Delete_Sender_Only(t *testing.T) {
	req := require.New(t)
	f := openRepo(t)
	ctx := context.Background()

	saved, err := f.repo.Save(ctx, f.tribeID, f.alice, "target", nil, nil)
	req.NoError(err)

	err = f.repo.Delete(ctx, f.tribeID, saved.ID, f.bob)
	req.True(errors.Is(err, apperrors.ErrForbidden))

	req.NoError(f.repo.Delete(ctx, f.tribeID, saved.ID, f.alice))

	err = f.repo.Delete(ctx, f.tribeID, saved.ID, f.alice)
	req.True(errors.Is(err, apperrors.ErrNotFound))

	msgs, err := f.repo.Fetch(ctx, f.tribeID, 10, nil)
	req.NoError(err)
	req.Empty(msgs)
}

func Test_Reply_To_Is_Persisted(t *testing.T) {
	req := require.New(t)
	f := openRepo(t)
	ctx := context.Background()

	parent, err := f.repo.Save(ctx, f.tribeID, f.alice, "parent", nil, nil)
	req.NoError(err)

	child, err := f.repo.Save(ctx, f.tribeID, f.bob, "child", nil, &parent.ID)
	req.NoError(err)
	req.NotNil(child.ReplyTo)
	req.Equal(parent.ID, *child.ReplyTo)
}

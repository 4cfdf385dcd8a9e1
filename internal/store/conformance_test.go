// ABOUTME: Shared behavioral tests every Store implementation must pass
// ABOUTME: Run against MockStore, SQLiteStore, and (when configured) MongoStore

package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runStoreConformance(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndGetUser", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()

		u := &User{FullName: "Ada Lovelace", Email: "ada@example.com"}
		require.NoError(t, s.CreateUser(ctx, u))
		require.NotEmpty(t, u.ID)

		got, err := s.GetUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "Ada Lovelace", got.FullName)
		assert.Equal(t, "ada@example.com", got.Email)
		assert.False(t, got.Locked)

		byEmail, err := s.GetUserByEmail(ctx, "ADA@example.com")
		require.NoError(t, err)
		assert.Equal(t, u.ID, byEmail.ID)
	})

	t.Run("DuplicateEmail", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()

		require.NoError(t, s.CreateUser(ctx, &User{FullName: "A", Email: "dup@example.com"}))
		err := s.CreateUser(ctx, &User{FullName: "B", Email: "dup@example.com"})
		assert.ErrorIs(t, err, ErrDuplicateEmail)
	})

	t.Run("GetUserNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetUser(t.Context(), "000000000000000000000000")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ListUsersExcept", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()

		a := createUser(t, s, "a@example.com")
		b := createUser(t, s, "b@example.com")
		c := createUser(t, s, "c@example.com")

		others, err := s.ListUsersExcept(ctx, a.ID)
		require.NoError(t, err)
		ids := userIDs(others)
		assert.ElementsMatch(t, []string{b.ID, c.ID}, ids)

		all, err := s.ListUsers(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("UpdateProfilePicAndLock", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()

		u := createUser(t, s, "pic@example.com")
		updated, err := s.UpdateProfilePic(ctx, u.ID, "/uploads/pic.png")
		require.NoError(t, err)
		assert.Equal(t, "/uploads/pic.png", updated.ProfilePic)

		require.NoError(t, s.SetLocked(ctx, u.ID, true))
		got, err := s.GetUser(ctx, u.ID)
		require.NoError(t, err)
		assert.True(t, got.Locked)
	})

	t.Run("CreateMessageDefaults", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()

		msg := &Message{SenderID: "alice", ReceiverID: "bob", Text: "hi"}
		require.NoError(t, s.CreateMessage(ctx, msg))
		require.NotEmpty(t, msg.ID)
		assert.False(t, msg.CreatedAt.IsZero())

		got, err := s.GetMessage(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, "hi", got.Text)
		assert.False(t, got.Seen)
		assert.Nil(t, got.SeenAt)
		assert.False(t, got.IsDeleted)
		assert.Nil(t, got.DeletedAt)
	})

	t.Run("GetMessageNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetMessage(t.Context(), "000000000000000000000000")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ListConversationOrderAndIsolation", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()
		base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)

		createMessageAt(t, s, "alice", "bob", "second", base.Add(2*time.Second))
		createMessageAt(t, s, "bob", "alice", "first", base.Add(time.Second))
		createMessageAt(t, s, "alice", "bob", "third", base.Add(3*time.Second))
		createMessageAt(t, s, "alice", "carol", "elsewhere", base)

		msgs, err := s.ListConversation(ctx, "bob", "alice")
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "first", msgs[0].Text)
		assert.Equal(t, "second", msgs[1].Text)
		assert.Equal(t, "third", msgs[2].Text)
	})

	t.Run("MarkSeenStampsSameTimeOnce", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()

		m1 := createMessageAt(t, s, "alice", "bob", "one", time.Time{})
		m2 := createMessageAt(t, s, "alice", "bob", "two", time.Time{})
		reply := createMessageAt(t, s, "bob", "alice", "reply", time.Time{})

		seenAt := time.Now().UTC()
		receipts, err := s.MarkSeen(ctx, "alice", "bob", seenAt)
		require.NoError(t, err)
		require.Len(t, receipts, 2)
		assert.ElementsMatch(t, []string{m1.ID, m2.ID}, []string{receipts[0].MessageID, receipts[1].MessageID})
		assert.True(t, receipts[0].SeenAt.Equal(receipts[1].SeenAt))
		assert.WithinDuration(t, seenAt, receipts[0].SeenAt, time.Millisecond)

		got, err := s.GetMessage(ctx, m1.ID)
		require.NoError(t, err)
		assert.True(t, got.Seen)
		require.NotNil(t, got.SeenAt)
		assert.WithinDuration(t, seenAt, *got.SeenAt, time.Millisecond)

		// The reverse direction is untouched
		other, err := s.GetMessage(ctx, reply.ID)
		require.NoError(t, err)
		assert.False(t, other.Seen)

		// Second pass transitions nothing
		again, err := s.MarkSeen(ctx, "alice", "bob", time.Now())
		require.NoError(t, err)
		assert.Empty(t, again)
	})

	t.Run("ConcurrentMarkSeenReceiptsMatchStoredStamp", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()

		const count = 20
		for i := range count {
			createMessageAt(t, s, "alice", "bob", fmt.Sprintf("m%d", i), time.Time{})
		}

		base := time.Now().UTC().Truncate(time.Millisecond)
		results := make([][]SeenReceipt, 2)
		var wg sync.WaitGroup
		for i := range results {
			wg.Add(1)
			go func() {
				defer wg.Done()
				receipts, err := s.MarkSeen(ctx, "alice", "bob", base.Add(time.Duration(i)*time.Second))
				assert.NoError(t, err)
				results[i] = receipts
			}()
		}
		wg.Wait()

		// Every message is reported exactly once, by the call whose stamp it kept
		seen := make(map[string]bool)
		for _, receipts := range results {
			for _, r := range receipts {
				require.False(t, seen[r.MessageID], "message %s reported twice", r.MessageID)
				seen[r.MessageID] = true

				got, err := s.GetMessage(ctx, r.MessageID)
				require.NoError(t, err)
				require.NotNil(t, got.SeenAt)
				assert.WithinDuration(t, r.SeenAt, *got.SeenAt, time.Millisecond)
			}
		}
		assert.Len(t, seen, count)
	})

	t.Run("MarkDeleted", func(t *testing.T) {
		s := newStore(t)
		ctx := t.Context()

		msg := createMessageAt(t, s, "alice", "bob", "oops", time.Time{})

		err := s.MarkDeleted(ctx, msg.ID, "bob", time.Now())
		assert.ErrorIs(t, err, ErrNotFound, "only the sender can delete")

		deletedAt := time.Now().UTC()
		require.NoError(t, s.MarkDeleted(ctx, msg.ID, "alice", deletedAt))

		got, err := s.GetMessage(ctx, msg.ID)
		require.NoError(t, err)
		assert.True(t, got.IsDeleted)
		require.NotNil(t, got.DeletedAt)
		assert.WithinDuration(t, deletedAt, *got.DeletedAt, time.Millisecond)
		assert.Equal(t, "oops", got.Text, "delete is logical")

		err = s.MarkDeleted(ctx, msg.ID, "alice", time.Now())
		assert.ErrorIs(t, err, ErrNotFound, "deleted is terminal")
	})

	t.Run("Ping", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Ping(t.Context()))
	})
}

func createUser(t *testing.T, s Store, email string) *User {
	t.Helper()
	u := &User{FullName: email, Email: email}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func createMessageAt(t *testing.T, s Store, from, to, text string, at time.Time) *Message {
	t.Helper()
	msg := &Message{SenderID: from, ReceiverID: to, Text: text, CreatedAt: at}
	require.NoError(t, s.CreateMessage(context.Background(), msg))
	return msg
}

func userIDs(users []*User) []string {
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	return ids
}

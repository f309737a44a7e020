package data

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/PaulBabatuyi/chatstore/internal/logging"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestOperationsBeforeConnect(t *testing.T) {
	s := New(Options{URI: "mongodb://localhost:27017", Database: "chat"}, logging.Discard())
	ctx := context.Background()
	draft := MessageDraft{FromID: "a", ToID: "b", Body: "hi"}

	calls := map[string]func() error{
		"CreateUser": func() error { _, err := s.CreateUser(ctx, "A", "B", "a@x.com", "pw"); return err },
		"FindUser":   func() error { _, err := s.FindUser(ctx, "a"); return err },
		"FindUserByEmail": func() error {
			_, err := s.FindUserByEmail(ctx, "a@x.com")
			return err
		},
		"SearchUsers":  func() error { _, err := s.SearchUsers(ctx, "A"); return err },
		"DeleteUser":   func() error { _, err := s.DeleteUser(ctx, "a"); return err },
		"LoginUser":    func() error { _, err := s.LoginUser(ctx, "a"); return err },
		"LogoutUser":   func() error { _, err := s.LogoutUser(ctx, "a"); return err },
		"AddContact":   func() error { _, err := s.AddContact(ctx, "a", "b"); return err },
		"DeleteContact": func() error {
			_, err := s.DeleteContact(ctx, "a", "b")
			return err
		},
		"CreateConversation": func() error { _, err := s.CreateConversation(ctx, draft); return err },
		"AddMessageToConversation": func() error {
			_, err := s.AddMessageToConversation(ctx, "c", draft)
			return err
		},
		"EditMessageInConversation": func() error {
			_, err := s.EditMessageInConversation(ctx, "c", "m", "new")
			return err
		},
		"MarkMessageDelivered": func() error {
			_, err := s.MarkMessageDelivered(ctx, "c", "m")
			return err
		},
		"DeleteMessageFromConversation": func() error {
			_, err := s.DeleteMessageFromConversation(ctx, "c", "m")
			return err
		},
		"FindConversation":      func() error { _, err := s.FindConversation(ctx, "c"); return err },
		"FindUserConversations": func() error { _, err := s.FindUserConversations(ctx, "a"); return err },
		"DeleteConversation":    func() error { _, err := s.DeleteConversation(ctx, "c"); return err },
		"ResolveParticipants": func() error {
			_, err := s.ResolveParticipants(ctx, draft)
			return err
		},
		"EnsureIndexes": func() error { return s.EnsureIndexes(ctx) },
	}

	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, call(), ErrNotInitialized)
		})
	}
}

func TestCloseWithoutConnect(t *testing.T) {
	s := New(Options{}, logging.Discard())
	// both calls are no-ops and must not panic
	s.Close(context.Background())
	s.Close(context.Background())
}

func TestConnectFailure(t *testing.T) {
	s := New(Options{
		URI:            "mongodb://127.0.0.1:1/?serverSelectionTimeoutMS=200",
		Database:       "chat",
		ConnectTimeout: 500 * time.Millisecond,
	}, logging.Discard())

	err := s.Connect(context.Background())
	require.ErrorIs(t, err, ErrConnectionFailure)

	// still unbound afterwards
	_, err = s.FindUser(context.Background(), "a")
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestNowIsMillisecondUTC(t *testing.T) {
	s := New(Options{}, logging.Discard())
	s.clock = func() time.Time {
		return time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.FixedZone("X", 3600))
	}
	got := s.now()
	require.Equal(t, time.UTC, got.Location())
	require.Equal(t, 123000000, got.Nanosecond())
}

func TestDuplicateErrorIsWriteFailure(t *testing.T) {
	err := fmt.Errorf("%w: %w", ErrWriteFailure, ErrDuplicateUser)
	require.ErrorIs(t, err, ErrWriteFailure)
	require.ErrorIs(t, err, ErrDuplicateUser)

	ref := referenceError("from", "u-1")
	require.ErrorIs(t, ref, ErrReferenceNotFound)
	require.Contains(t, ref.Error(), "u-1")
}

func TestParticipantIDs(t *testing.T) {
	m := Message{From: User{ID: "a"}, To: User{ID: "b"}}
	require.Equal(t, []string{"a", "b"}, m.ParticipantIDs())

	self := Message{From: User{ID: "a"}, To: User{ID: "a"}}
	require.Equal(t, []string{"a"}, self.ParticipantIDs())
}

func TestFilters(t *testing.T) {
	require.Equal(t, bson.M{"id": bson.M{"$eq": "u1"}}, byID("u1"))
	require.Equal(t, bson.M{"email": bson.M{"$eq": "a@x.com"}}, byEmail("a@x.com"))

	prefix := byNamePrefix("Al.")
	clauses := prefix["$or"].(bson.A)
	require.Len(t, clauses, 3)
	for i, field := range []string{"firstName", "lastName", "email"} {
		re := clauses[i].(bson.M)[field].(bson.Regex)
		// metacharacters are matched literally
		require.Equal(t, `^Al\.`, re.Pattern)
	}

	participant := byParticipant("u1")["$or"].(bson.A)
	require.Equal(t, bson.M{"messages.from.id": "u1"}, participant[0])
	require.Equal(t, bson.M{"messages.to.id": "u1"}, participant[1])

	require.Equal(t, bson.M{"id": bson.M{"$eq": "c1"}, "messages.id": "m1"}, byMessage("c1", "m1"))
}

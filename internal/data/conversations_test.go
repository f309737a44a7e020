package data

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConversationScenario(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	a := mustCreateUser(t, s, "Ann", "Archer", "a@x.com")
	b := mustCreateUser(t, s, "Ben", "Baker", "b@x.com")

	conv, err := s.CreateConversation(ctx, MessageDraft{FromID: a.ID, ToID: b.ID, Body: "hi"})
	require.NoError(t, err)
	require.NotEmpty(t, conv.ID)
	require.Nil(t, conv.Updated)
	require.Len(t, conv.Messages, 1)
	require.Equal(t, "hi", conv.Messages[0].Body)
	require.Equal(t, *a, conv.Messages[0].From)
	require.Equal(t, *b, conv.Messages[0].To)
	require.NotEmpty(t, conv.Messages[0].ID)

	found, err := s.FindConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, conv, found)

	conv2, err := s.AddMessageToConversation(ctx, conv.ID, MessageDraft{FromID: b.ID, ToID: a.ID, Body: "hello"})
	require.NoError(t, err)
	require.Len(t, conv2.Messages, 2)
	require.Equal(t, conv.Messages[0], conv2.Messages[0])
	require.Equal(t, "hello", conv2.Messages[1].Body)
	require.Equal(t, *b, conv2.Messages[1].From)
	require.NotNil(t, conv2.Updated)

	mine, err := s.FindUserConversations(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, conv.ID, mine[0].ID)

	none, err := s.FindUserConversations(ctx, "stranger")
	require.NoError(t, err)
	require.NotNil(t, none)
	require.Empty(t, none)
}

func TestCreateConversationMissingUser(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	b := mustCreateUser(t, s, "Ben", "Baker", "b@x.com")

	_, err := s.CreateConversation(ctx, MessageDraft{FromID: "ghost", ToID: b.ID, Body: "hi"})
	require.ErrorIs(t, err, ErrReferenceNotFound)

	_, err = s.CreateConversation(ctx, MessageDraft{FromID: b.ID, ToID: "ghost", Body: "hi"})
	require.ErrorIs(t, err, ErrReferenceNotFound)

	// nothing was persisted
	convs, err := s.FindUserConversations(ctx, b.ID)
	require.NoError(t, err)
	require.Empty(t, convs)
}

func TestResolveParticipants(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	a := mustCreateUser(t, s, "Ann", "Archer", "a@x.com")
	b := mustCreateUser(t, s, "Ben", "Baker", "b@x.com")

	p, err := s.ResolveParticipants(ctx, MessageDraft{FromID: a.ID, ToID: b.ID})
	require.NoError(t, err)
	require.Equal(t, *a, p.From)
	require.Equal(t, *b, p.To)
	require.False(t, p.ResolvedAt.IsZero())
}

func TestAddMessageEdgeCases(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	a := mustCreateUser(t, s, "Ann", "Archer", "a@x.com")
	b := mustCreateUser(t, s, "Ben", "Baker", "b@x.com")

	// unknown conversation is a soft miss
	got, err := s.AddMessageToConversation(ctx, "no-such-conversation", MessageDraft{FromID: a.ID, ToID: b.ID, Body: "x"})
	require.NoError(t, err)
	require.Nil(t, got)

	conv, err := s.CreateConversation(ctx, MessageDraft{FromID: a.ID, ToID: b.ID, Body: "hi"})
	require.NoError(t, err)

	// unknown user fails hard and leaves the conversation as it was
	_, err = s.AddMessageToConversation(ctx, conv.ID, MessageDraft{FromID: a.ID, ToID: "ghost", Body: "x"})
	require.ErrorIs(t, err, ErrReferenceNotFound)

	found, err := s.FindConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, conv, found)
}

func TestMessageOrderIsPreserved(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	a := mustCreateUser(t, s, "Ann", "Archer", "a@x.com")
	b := mustCreateUser(t, s, "Ben", "Baker", "b@x.com")

	conv, err := s.CreateConversation(ctx, MessageDraft{FromID: a.ID, ToID: b.ID, Body: "0"})
	require.NoError(t, err)

	bodies := []string{"0", "1", "2", "3", "4"}
	for _, body := range bodies[1:] {
		prev := conv
		conv, err = s.AddMessageToConversation(ctx, conv.ID, MessageDraft{FromID: a.ID, ToID: b.ID, Body: body})
		require.NoError(t, err)
		require.Len(t, conv.Messages, len(prev.Messages)+1)
		require.Equal(t, prev.Messages, conv.Messages[:len(prev.Messages)])
	}

	for i, m := range conv.Messages {
		require.Equal(t, bodies[i], m.Body)
	}
}

func TestEditMessage(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	a := mustCreateUser(t, s, "Ann", "Archer", "a@x.com")
	b := mustCreateUser(t, s, "Ben", "Baker", "b@x.com")

	conv, err := s.CreateConversation(ctx, MessageDraft{FromID: a.ID, ToID: b.ID, Subject: "s", Body: "first"})
	require.NoError(t, err)
	conv, err = s.AddMessageToConversation(ctx, conv.ID, MessageDraft{FromID: b.ID, ToID: a.ID, Body: "second"})
	require.NoError(t, err)

	target := conv.Messages[0]
	edited, err := s.EditMessageInConversation(ctx, conv.ID, target.ID, "new body")
	require.NoError(t, err)
	require.Len(t, edited.Messages, 2)

	want := target
	want.Body = "new body"
	require.Equal(t, want, edited.Messages[0])
	require.Equal(t, conv.Messages[1], edited.Messages[1])

	// wrong pair is a soft miss
	got, err := s.EditMessageInConversation(ctx, conv.ID, "no-such-message", "x")
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = s.EditMessageInConversation(ctx, "no-such-conversation", target.ID, "x")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestMarkMessageDelivered(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	a := mustCreateUser(t, s, "Ann", "Archer", "a@x.com")
	b := mustCreateUser(t, s, "Ben", "Baker", "b@x.com")

	conv, err := s.CreateConversation(ctx, MessageDraft{FromID: a.ID, ToID: b.ID, Body: "hi"})
	require.NoError(t, err)
	require.Nil(t, conv.Messages[0].Delivered)

	marked, err := s.MarkMessageDelivered(ctx, conv.ID, conv.Messages[0].ID)
	require.NoError(t, err)
	require.NotNil(t, marked.Messages[0].Delivered)
	require.Equal(t, "hi", marked.Messages[0].Body)

	got, err := s.MarkMessageDelivered(ctx, conv.ID, "nope")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestDeleteMessage(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	a := mustCreateUser(t, s, "Ann", "Archer", "a@x.com")
	b := mustCreateUser(t, s, "Ben", "Baker", "b@x.com")

	conv, err := s.CreateConversation(ctx, MessageDraft{FromID: a.ID, ToID: b.ID, Body: "one"})
	require.NoError(t, err)
	conv, err = s.AddMessageToConversation(ctx, conv.ID, MessageDraft{FromID: b.ID, ToID: a.ID, Body: "two"})
	require.NoError(t, err)

	// unknown message: false, messages unchanged
	ok, err := s.DeleteMessageFromConversation(ctx, conv.ID, "no-such-message")
	require.NoError(t, err)
	require.False(t, ok)

	found, err := s.FindConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, conv.Messages, found.Messages)

	ok, err = s.DeleteMessageFromConversation(ctx, conv.ID, conv.Messages[0].ID)
	require.NoError(t, err)
	require.True(t, ok)

	found, err = s.FindConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, []Message{conv.Messages[1]}, found.Messages)

	ok, err = s.DeleteMessageFromConversation(ctx, "no-such-conversation", conv.Messages[1].ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteConversationLeavesUsers(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	a := mustCreateUser(t, s, "Ann", "Archer", "a@x.com")
	b := mustCreateUser(t, s, "Ben", "Baker", "b@x.com")

	conv, err := s.CreateConversation(ctx, MessageDraft{FromID: a.ID, ToID: b.ID, Body: "hi"})
	require.NoError(t, err)

	ok, err := s.DeleteConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.DeleteConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.False(t, ok)

	gotA, err := s.FindUser(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, a, gotA)
}

func TestDeleteUserKeepsConversations(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	a := mustCreateUser(t, s, "Ann", "Archer", "a@x.com")
	b := mustCreateUser(t, s, "Ben", "Baker", "b@x.com")

	conv, err := s.CreateConversation(ctx, MessageDraft{FromID: a.ID, ToID: b.ID, Body: "hi"})
	require.NoError(t, err)

	ok, err := s.DeleteUser(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, ok)

	// snapshots are values, not references
	found, err := s.FindConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, *a, found.Messages[0].From)
}

func TestConcurrentAppendsAllLand(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	a := mustCreateUser(t, s, "Ann", "Archer", "a@x.com")
	b := mustCreateUser(t, s, "Ben", "Baker", "b@x.com")

	conv, err := s.CreateConversation(ctx, MessageDraft{FromID: a.ID, ToID: b.ID, Body: "first"})
	require.NoError(t, err)
	first := conv.Messages[0]

	const writers = 16
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := s.AddMessageToConversation(ctx, conv.ID, MessageDraft{
				FromID: b.ID, ToID: a.ID, Body: fmt.Sprintf("reply %d", i),
			})
			if err == nil && got == nil {
				err = fmt.Errorf("append %d matched no conversation", i)
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	found, err := s.FindConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, found.Messages, writers+1)
	require.Equal(t, first, found.Messages[0])

	ids := map[string]bool{}
	bodies := map[string]bool{}
	for _, m := range found.Messages {
		ids[m.ID] = true
		bodies[m.Body] = true
	}
	require.Len(t, ids, writers+1)
	for i := 0; i < writers; i++ {
		require.True(t, bodies[fmt.Sprintf("reply %d", i)], "reply %d missing", i)
	}
}

func TestConcurrentEditsStayOnTheirMessage(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	a := mustCreateUser(t, s, "Ann", "Archer", "a@x.com")
	b := mustCreateUser(t, s, "Ben", "Baker", "b@x.com")

	conv, err := s.CreateConversation(ctx, MessageDraft{FromID: a.ID, ToID: b.ID, Subject: "s", Body: "one"})
	require.NoError(t, err)
	conv, err = s.AddMessageToConversation(ctx, conv.ID, MessageDraft{FromID: b.ID, ToID: a.ID, Body: "two"})
	require.NoError(t, err)
	m0, m1 := conv.Messages[0], conv.Messages[1]

	const rounds = 10
	var wg sync.WaitGroup
	errs := make(chan error, 2*rounds)
	edit := func(msgID, body string) {
		defer wg.Done()
		got, err := s.EditMessageInConversation(ctx, conv.ID, msgID, body)
		if err == nil && got == nil {
			err = fmt.Errorf("edit of %s matched nothing", msgID)
		}
		errs <- err
	}
	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go edit(m0.ID, fmt.Sprintf("zero-%d", i))
		go edit(m1.ID, fmt.Sprintf("one-%d", i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	found, err := s.FindConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, found.Messages, 2)

	got0, got1 := found.Messages[0], found.Messages[1]
	require.Regexp(t, `^zero-\d+$`, got0.Body)
	require.Regexp(t, `^one-\d+$`, got1.Body)

	// only the body changed on each message
	got0.Body, got1.Body = m0.Body, m1.Body
	require.Equal(t, m0, got0)
	require.Equal(t, m1, got1)
}

package data

import (
	"context" // Used for cancellation and timeouts
	"errors"  // Error handling
	"fmt"     // Error wrapping
	"time"    // Message timestamps

	"go.mongodb.org/mongo-driver/v2/bson"          // MongoDB document queries
	"go.mongodb.org/mongo-driver/v2/mongo"         // MongoDB driver
	"go.mongodb.org/mongo-driver/v2/mongo/options" // MongoDB options
)

// ResolveParticipants looks up both users a draft refers to and returns
// their snapshots. It fails with ErrReferenceNotFound if either is missing.
//
// Resolution and the conversation write that follows are separate requests:
// a user deleted in between still ends up embedded in the message.
func (s *Store) ResolveParticipants(ctx context.Context, draft MessageDraft) (*Participants, error) {
	from, err := s.FindUser(ctx, draft.FromID)
	if err != nil {
		return nil, err
	}
	if from == nil {
		s.logger.Warn("resolve participants: sender not found", "from", draft.FromID)
		return nil, referenceError("from", draft.FromID)
	}

	to, err := s.FindUser(ctx, draft.ToID)
	if err != nil {
		return nil, err
	}
	if to == nil {
		s.logger.Warn("resolve participants: recipient not found", "to", draft.ToID)
		return nil, referenceError("to", draft.ToID)
	}

	return &Participants{From: *from, To: *to, ResolvedAt: s.now()}, nil
}

// CreateConversation resolves the draft's users and inserts a new
// conversation holding exactly that one message. Nothing is written if
// either user is missing.
func (s *Store) CreateConversation(ctx context.Context, draft MessageDraft) (*Conversation, error) {
	coll, err := s.conversations()
	if err != nil {
		return nil, err
	}

	p, err := s.ResolveParticipants(ctx, draft)
	if err != nil {
		return nil, err
	}

	now := s.now()
	conversation := &Conversation{
		ID:       s.newID(),
		Messages: []Message{s.newMessage(p, draft, now)},
		Created:  now,
	}

	result, err := coll.InsertOne(ctx, conversation)
	if err != nil {
		s.logger.Error("create conversation failed", "err", err)
		return nil, fmt.Errorf("%w: %w", ErrWriteFailure, err)
	}
	if !result.Acknowledged {
		s.logger.Error("create conversation not acknowledged", "id", conversation.ID)
		return nil, ErrWriteFailure
	}

	s.logger.Info("conversation created", "id", conversation.ID, "from", p.From.ID, "to", p.To.ID)
	return conversation, nil
}

// AddMessageToConversation resolves the draft's users and appends a new
// message to the end of the conversation. It returns the updated
// conversation, or nil if conversationID does not exist.
func (s *Store) AddMessageToConversation(ctx context.Context, conversationID string, draft MessageDraft) (*Conversation, error) {
	if _, err := s.client(); err != nil {
		return nil, err
	}

	p, err := s.ResolveParticipants(ctx, draft)
	if err != nil {
		return nil, err
	}

	now := s.now()
	msg := s.newMessage(p, draft, now)

	return s.updateConversation(ctx, "add message", byID(conversationID), bson.M{
		"$push": bson.M{"messages": msg},
		"$set":  bson.M{"updated": now},
	})
}

// EditMessageInConversation replaces the body of one message. Sender,
// recipient and sent time are left alone. It returns nil unless the
// conversation holds a message with msgID.
func (s *Store) EditMessageInConversation(ctx context.Context, conversationID, msgID, body string) (*Conversation, error) {
	return s.updateConversation(ctx, "edit message", byMessage(conversationID, msgID), bson.M{
		"$set": bson.M{
			"messages.$.body": body,
			"updated":         s.now(),
		},
	})
}

// MarkMessageDelivered stamps the delivered time of one message. It returns
// nil unless the conversation holds a message with msgID.
func (s *Store) MarkMessageDelivered(ctx context.Context, conversationID, msgID string) (*Conversation, error) {
	now := s.now()
	return s.updateConversation(ctx, "mark delivered", byMessage(conversationID, msgID), bson.M{
		"$set": bson.M{
			"messages.$.delivered": now,
			"updated":              now,
		},
	})
}

// DeleteMessageFromConversation removes the message with msgID and reports
// whether a message was removed.
func (s *Store) DeleteMessageFromConversation(ctx context.Context, conversationID, msgID string) (bool, error) {
	coll, err := s.conversations()
	if err != nil {
		return false, err
	}

	result, err := coll.UpdateOne(ctx, byMessage(conversationID, msgID), bson.M{
		"$pull": bson.M{"messages": bson.M{"id": msgID}},
		"$set":  bson.M{"updated": s.now()},
	})
	if err != nil {
		s.logger.Error("delete message failed", "conversation", conversationID, "message", msgID, "err", err)
		return false, fmt.Errorf("delete message: %w", err)
	}

	removed := result.ModifiedCount == 1
	s.logger.Debug("delete message", "conversation", conversationID, "message", msgID, "removed", removed)
	return removed, nil
}

// FindConversation returns the conversation with id, or nil.
func (s *Store) FindConversation(ctx context.Context, id string) (*Conversation, error) {
	coll, err := s.conversations()
	if err != nil {
		return nil, err
	}

	var conversation Conversation
	err = coll.FindOne(ctx, byID(id)).Decode(&conversation)
	if errors.Is(err, mongo.ErrNoDocuments) {
		s.logger.Debug("conversation not found", "id", id)
		return nil, nil
	}
	if err != nil {
		s.logger.Error("find conversation failed", "id", id, "err", err)
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	return &conversation, nil
}

// FindUserConversations returns every conversation in which userID sent or
// received at least one message, oldest first.
func (s *Store) FindUserConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	coll, err := s.conversations()
	if err != nil {
		return nil, err
	}

	opts := options.Find().SetSort(bson.D{{Key: "created", Value: 1}})
	cursor, err := coll.Find(ctx, byParticipant(userID), opts)
	if err != nil {
		s.logger.Error("find user conversations failed", "user", userID, "err", err)
		return nil, fmt.Errorf("find user conversations: %w", err)
	}
	defer cursor.Close(ctx)

	conversations := make([]*Conversation, 0)
	if err := cursor.All(ctx, &conversations); err != nil {
		s.logger.Error("decode conversations failed", "err", err)
		return nil, fmt.Errorf("find user conversations: %w", err)
	}

	s.logger.Debug("user conversations", "user", userID, "count", len(conversations))
	return conversations, nil
}

// DeleteConversation removes the whole conversation and reports whether
// exactly one document was removed. Users are not touched.
func (s *Store) DeleteConversation(ctx context.Context, id string) (bool, error) {
	coll, err := s.conversations()
	if err != nil {
		return false, err
	}

	result, err := coll.DeleteOne(ctx, byID(id))
	if err != nil {
		s.logger.Error("delete conversation failed", "id", id, "err", err)
		return false, fmt.Errorf("delete conversation: %w", err)
	}

	deleted := result.DeletedCount == 1
	s.logger.Debug("delete conversation", "id", id, "deleted", deleted)
	return deleted, nil
}

func (s *Store) newMessage(p *Participants, draft MessageDraft, sent time.Time) Message {
	return Message{
		ID:      s.newID(),
		From:    p.From,
		To:      p.To,
		Subject: draft.Subject,
		Body:    draft.Body,
		Sent:    sent,
	}
}

// updateConversation applies update to the single conversation matched by
// filter and returns it as it is after the update, or nil if nothing matched.
func (s *Store) updateConversation(ctx context.Context, op string, filter, update bson.M) (*Conversation, error) {
	coll, err := s.conversations()
	if err != nil {
		return nil, err
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var conversation Conversation
	err = coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&conversation)
	if errors.Is(err, mongo.ErrNoDocuments) {
		s.logger.Debug(op+": no match", "filter", filter)
		return nil, nil
	}
	if err != nil {
		s.logger.Error(op+" failed", "err", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.logger.Debug(op, "id", conversation.ID, "messages", len(conversation.Messages))
	return &conversation, nil
}

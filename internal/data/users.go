package data

import (
	"context" // Used for cancellation and timeouts
	"errors"  // Error handling
	"fmt"     // Error wrapping

	"go.mongodb.org/mongo-driver/v2/bson"          // MongoDB document queries
	"go.mongodb.org/mongo-driver/v2/mongo"         // MongoDB driver
	"go.mongodb.org/mongo-driver/v2/mongo/options" // MongoDB options
)

// CreateUser inserts a new user with an empty contact list, offline, and
// returns the stored record. The password is stored exactly as given.
func (s *Store) CreateUser(ctx context.Context, firstName, lastName, email, password string) (*User, error) {
	coll, err := s.users()
	if err != nil {
		return nil, err
	}

	user := &User{
		ID:        s.newID(),
		FirstName: firstName,
		LastName:  lastName,
		Email:     email,
		Password:  password,
		Contacts:  []User{}, // never null, $push needs an array
		Created:   s.now(),
		Online:    false,
	}

	result, err := coll.InsertOne(ctx, user)
	if err != nil {
		// The unique email/id indexes turn a second registration into a duplicate key error
		if mongo.IsDuplicateKeyError(err) {
			s.logger.Warn("create user rejected: duplicate", "email", email)
			return nil, fmt.Errorf("%w: %w", ErrWriteFailure, ErrDuplicateUser)
		}
		s.logger.Error("create user failed", "email", email, "err", err)
		return nil, fmt.Errorf("%w: %w", ErrWriteFailure, err)
	}
	if !result.Acknowledged {
		s.logger.Error("create user not acknowledged", "id", user.ID)
		return nil, ErrWriteFailure
	}

	s.logger.Info("user created", "id", user.ID)
	return user, nil
}

// FindUser returns the user with id, or nil if there is none.
func (s *Store) FindUser(ctx context.Context, id string) (*User, error) {
	return s.findUser(ctx, byID(id))
}

// FindUserByEmail returns the user with exactly this email, or nil.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.findUser(ctx, byEmail(email))
}

// SearchUsers returns every user whose first name, last name or email starts
// with prefix (case-sensitive), oldest first.
func (s *Store) SearchUsers(ctx context.Context, prefix string) ([]*User, error) {
	coll, err := s.users()
	if err != nil {
		return nil, err
	}

	opts := options.Find().SetSort(bson.D{{Key: "created", Value: 1}})
	cursor, err := coll.Find(ctx, byNamePrefix(prefix), opts)
	if err != nil {
		s.logger.Error("search users failed", "prefix", prefix, "err", err)
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer cursor.Close(ctx)

	users := make([]*User, 0)
	if err := cursor.All(ctx, &users); err != nil {
		s.logger.Error("decode users failed", "err", err)
		return nil, fmt.Errorf("search users: %w", err)
	}

	s.logger.Debug("users searched", "prefix", prefix, "count", len(users))
	return users, nil
}

// DeleteUser removes the user with id. It reports whether exactly one
// document was removed. Conversations that mention the user are kept.
func (s *Store) DeleteUser(ctx context.Context, id string) (bool, error) {
	coll, err := s.users()
	if err != nil {
		return false, err
	}

	result, err := coll.DeleteOne(ctx, byID(id))
	if err != nil {
		s.logger.Error("delete user failed", "id", id, "err", err)
		return false, fmt.Errorf("delete user: %w", err)
	}

	deleted := result.DeletedCount == 1
	s.logger.Debug("delete user", "id", id, "deleted", deleted)
	return deleted, nil
}

// LoginUser marks the user online, stamps lastLogin and returns the updated
// record, or nil if the user does not exist.
func (s *Store) LoginUser(ctx context.Context, id string) (*User, error) {
	return s.updateUser(ctx, "login", id, bson.M{
		"$set": bson.M{"online": true, "lastLogin": s.now()},
	})
}

// LogoutUser marks the user offline and returns the updated record, or nil.
func (s *Store) LogoutUser(ctx context.Context, id string) (*User, error) {
	return s.updateUser(ctx, "logout", id, bson.M{
		"$set": bson.M{"online": false},
	})
}

// AddContact appends a snapshot of contactID to userID's contacts and returns
// the updated owner, or nil if the owner does not exist. The contact's own
// record is not modified.
func (s *Store) AddContact(ctx context.Context, userID, contactID string) (*User, error) {
	contact, err := s.FindUser(ctx, contactID)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		s.logger.Warn("add contact: contact not found", "user", userID, "contact", contactID)
		return nil, referenceError("contact", contactID)
	}

	return s.updateUser(ctx, "add contact", userID, bson.M{
		"$push": bson.M{"contacts": contact},
	})
}

// DeleteContact removes every entry for contactID from userID's contacts and
// returns the updated owner, or nil if the owner does not exist. Removing a
// contact that is not present is a successful no-op.
func (s *Store) DeleteContact(ctx context.Context, userID, contactID string) (*User, error) {
	return s.updateUser(ctx, "delete contact", userID, bson.M{
		"$pull": bson.M{"contacts": bson.M{"id": contactID}},
	})
}

func (s *Store) findUser(ctx context.Context, filter bson.M) (*User, error) {
	coll, err := s.users()
	if err != nil {
		return nil, err
	}

	var user User
	err = coll.FindOne(ctx, filter).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		s.logger.Debug("user not found", "filter", filter)
		return nil, nil
	}
	if err != nil {
		s.logger.Error("find user failed", "err", err)
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &user, nil
}

// updateUser applies update to the user with id atomically and returns the
// document as it is after the update.
func (s *Store) updateUser(ctx context.Context, op, id string, update bson.M) (*User, error) {
	coll, err := s.users()
	if err != nil {
		return nil, err
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var user User
	err = coll.FindOneAndUpdate(ctx, byID(id), update, opts).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		s.logger.Debug(op+": user not found", "id", id)
		return nil, nil
	}
	if err != nil {
		s.logger.Error(op+" failed", "id", id, "err", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.logger.Debug(op, "id", id)
	return &user, nil
}

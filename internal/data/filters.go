package data

import (
	"regexp" // Escaping search prefixes

	"go.mongodb.org/mongo-driver/v2/bson" // MongoDB document queries
)

// byID matches a user or conversation by its domain id.
func byID(id string) bson.M {
	return bson.M{"id": bson.M{"$eq": id}}
}

// byEmail matches a user by exact email.
func byEmail(email string) bson.M {
	return bson.M{"email": bson.M{"$eq": email}}
}

// byNamePrefix matches users whose first name, last name or email starts
// with prefix. The match is case-sensitive and prefix is matched literally.
func byNamePrefix(prefix string) bson.M {
	re := bson.Regex{Pattern: "^" + regexp.QuoteMeta(prefix)}
	return bson.M{
		"$or": bson.A{
			bson.M{"firstName": re},
			bson.M{"lastName": re},
			bson.M{"email": re},
		},
	}
}

// byParticipant matches conversations where userID sent or received at
// least one message.
func byParticipant(userID string) bson.M {
	return bson.M{
		"$or": bson.A{
			bson.M{"messages.from.id": userID},
			bson.M{"messages.to.id": userID},
		},
	}
}

// byMessage matches a conversation only if it holds a message with msgID.
// The positional operator in an update then refers to that message.
func byMessage(conversationID, msgID string) bson.M {
	return bson.M{
		"id":          bson.M{"$eq": conversationID},
		"messages.id": msgID,
	}
}

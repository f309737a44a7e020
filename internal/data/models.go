package data

import (
	"time" // Record timestamps
)

// User maps to the user collection. Contacts are snapshots of other users
// taken when they were added, not live references.
type User struct {
	ID        string     `bson:"id" json:"id"`
	FirstName string     `bson:"firstName" json:"firstName"`
	LastName  string     `bson:"lastName" json:"lastName"`
	Email     string     `bson:"email" json:"email"`
	Password  string     `bson:"password" json:"-"`
	Contacts  []User     `bson:"contacts" json:"contacts"`
	Created   time.Time  `bson:"created" json:"created"`
	LastLogin *time.Time `bson:"lastLogin,omitempty" json:"lastLogin,omitempty"`
	Online    bool       `bson:"online" json:"online"`
}

// Conversation maps to the conversation collection. Messages are kept in
// insertion order and a conversation always starts with one message.
type Conversation struct {
	ID       string     `bson:"id" json:"id"`
	Messages []Message  `bson:"messages" json:"messages"`
	Created  time.Time  `bson:"created" json:"created"`
	Updated  *time.Time `bson:"updated,omitempty" json:"updated,omitempty"`
}

// Message is embedded in a Conversation. From and To are user snapshots
// resolved when the message was written.
type Message struct {
	ID        string     `bson:"id" json:"id"`
	From      User       `bson:"from" json:"from"`
	To        User       `bson:"to" json:"to"`
	Subject   string     `bson:"subject,omitempty" json:"subject,omitempty"`
	Body      string     `bson:"body" json:"body"`
	Sent      time.Time  `bson:"sent" json:"sent"`
	Delivered *time.Time `bson:"delivered,omitempty" json:"delivered,omitempty"`
}

// MessageDraft is the caller's input for a new message: participant ids plus content.
type MessageDraft struct {
	FromID  string
	ToID    string
	Subject string
	Body    string
}

// Participants is the outcome of resolving a draft's user references. It is
// the first step of a two-step write; nothing locks the users between this
// step and the conversation write that consumes it.
type Participants struct {
	From       User
	To         User
	ResolvedAt time.Time
}

// ParticipantIDs returns the distinct user ids taking part in the message.
func (m Message) ParticipantIDs() []string {
	if m.From.ID == m.To.ID {
		return []string{m.From.ID}
	}
	return []string{m.From.ID, m.To.ID}
}

// Package discordtypes holds the transport-neutral views of Discord objects
// that the core packages work with. The discord adapter converts discordgo
// values into these.
package discordtypes

import "fmt"

type User struct {
	ID   string
	Name string
	Bot  bool
}

// Mention returns the chat mention for u.
func (u User) Mention() string {
	return fmt.Sprintf("<@%s>", u.ID)
}

type Channel struct {
	ID      string
	GuildID string
	Name    string
}

// Message is an inbound chat message.
type Message struct {
	ID        string
	ChannelID string
	GuildID   string
	Author    User
	Content   string
	// MentionsBot is set when the message mentions the bot user.
	MentionsBot bool
}

// Reaction is an emoji added to a message by a user.
type Reaction struct {
	UserID    string
	ChannelID string
	MessageID string
	// Emoji is the unicode emoji or "name:id" for custom emoji.
	Emoji string
}

// HistoryMessage is one message from channel history.
type HistoryMessage struct {
	AuthorBot bool
	Content   string
}

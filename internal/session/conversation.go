package session

import "context"

// Button is one inline keyboard button; Data is the callback token.
type Button struct {
	Text string
	Data string
}

// Keyboard is an inline keyboard, row by row.
type Keyboard [][]Button

// Message is an outbound chat message.
type Message struct {
	Text     string
	Keyboard Keyboard
}

// Conversation is what every inbound event offers the engine: who sent
// it, where to answer, and how. Both text messages and button presses
// implement it.
type Conversation interface {
	// RequesterID is the operator identifier (QLID) the session is keyed by.
	RequesterID() string
	// ChatID is the transport identity replies go to.
	ChatID() int64

	// Send posts a new message and returns its id.
	Send(ctx context.Context, msg Message) (int, error)
	// Edit replaces the text and keyboard of a previously sent message.
	Edit(ctx context.Context, messageID int, msg Message) error
	// SendDocument uploads a file to the chat.
	SendDocument(ctx context.Context, path, caption string) error
}

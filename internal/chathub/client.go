package chathub

import "gigchat/backend/internal/models"

// Client is one realtime connection of an authenticated user. A user may
// hold several connections at once (tabs, devices); the hub indexes them
// individually.
type Client interface {
	// GetUserID returns the authenticated user behind the connection.
	GetUserID() string
	// GetLang returns the language used for error texts.
	GetLang() string

	// GetSendChannel returns the channel the hub writes outgoing events to.
	// Only the hub loop sends on it.
	GetSendChannel() chan<- models.Event

	// Run starts the connection's read and write pumps.
	Run()
	// Close stops the write pump. It must be safe to call more than once.
	Close()
}

package model

type ConversationStatus string

const (
	ConversationStatusActive ConversationStatus = "active"
	ConversationStatusClosed ConversationStatus = "closed"
)

type MessageDirection string

const (
	// DirectionIncoming is operator -> visitor, received from WhatsApp.
	DirectionIncoming MessageDirection = "incoming"
	// DirectionOutgoing is visitor -> operator, sent from the widget.
	DirectionOutgoing MessageDirection = "outgoing"
)

type CloseReason string

const (
	CloseReasonClosingPhrase CloseReason = "closing_phrase"
	CloseReasonInactivity    CloseReason = "inactivity"
)

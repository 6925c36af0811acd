package domain

type Command interface {
	Actor() string
}

// SendMessageCommand is the input of the send pipeline.
type SendMessageCommand struct {
	SenderID       string `validate:"required"`
	ConversationID string `validate:"required,uuid"`
	Content        string `validate:"required"`
	ClientMsgID    string `validate:"max=128"`
}

func (c SendMessageCommand) Actor() string { return c.SenderID }

type ListMessagesCommand struct {
	ConversationID string `validate:"required,uuid"`
	RequesterID    string `validate:"required"`
}

func (c ListMessagesCommand) Actor() string { return c.RequesterID }

type StartConversationCommand struct {
	CallerID string `validate:"required"`
	TargetID string `validate:"required"`
}

func (c StartConversationCommand) Actor() string { return c.CallerID }

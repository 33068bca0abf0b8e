package messaging

import "context"

// Sender is the outbound messaging API port.
type Sender interface {
	SendFreeform(ctx context.Context, msg FreeformMessage) (*SendResult, error)
	SendTemplate(ctx context.Context, msg TemplateMessage) (*SendResult, error)
}

// FreeformMessage is a rich message only allowed inside the customer-care window.
type FreeformMessage struct {
	To        string
	Body      string
	MediaURLs []string
}

// TemplateMessage is a pre-approved template usable outside the customer-care window.
type TemplateMessage struct {
	To       string
	Name     string
	Language string
	Params   []string
}

// SendResult stores messaging API call metadata.
type SendResult struct {
	StatusCode int
	MessageID  string
}

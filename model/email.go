package model

// EmailMessage is the queue wire contract. It exists only on the wire, it is
// never persisted by this service.
type EmailMessage struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Html    string `json:"html,omitempty"`
	Text    string `json:"text,omitempty"`
	From    string `json:"from,omitempty"`
	ReplyTo string `json:"replyTo,omitempty"`
}

package domain

// ContactMessage is a visitor's contact form submission.
type ContactMessage struct {
	Name    string `json:"name" validate:"required,max=100"`
	Email   string `json:"email" validate:"required,email,max=254"`
	Message string `json:"message" validate:"required,max=2000"`
}

// ContactState is the feedback state of the contact form.
type ContactState string

const (
	ContactIdle    ContactState = "idle"
	ContactSending ContactState = "sending"
	ContactSent    ContactState = "sent"
)

// ButtonLabel is the submit button text for the state.
func (s ContactState) ButtonLabel() string {
	switch s {
	case ContactSending:
		return "Sending..."
	case ContactSent:
		return "Message Sent!"
	default:
		return "Send Message"
	}
}

// ButtonDisabled reports whether the submit button accepts clicks.
func (s ContactState) ButtonDisabled() bool {
	return s != ContactIdle
}

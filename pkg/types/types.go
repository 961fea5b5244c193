package types

// JSONMap is a free-form JSON object column.
type JSONMap map[string]any

// Question is a custom question an organiser attaches to a ticket type. The
// buyer answers once per attendee during checkout.
type Question struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
}

// QuestionList is the jsonb column shape for ticket type questions.
type QuestionList []Question

// QuestionAnswer is a single attendee answer captured at order time. The
// label is snapshotted so the order view survives later question edits.
type QuestionAnswer struct {
	QuestionID string `json:"question_id"`
	Label      string `json:"label"`
	Answer     string `json:"answer"`
}

// AnswerList is the jsonb column shape for attendee answers.
type AnswerList []QuestionAnswer

// SuccessEnvelope wraps every successful API response body.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the public error shape.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorEnvelope wraps every error API response body.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

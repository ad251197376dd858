package completion

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is an OpenAI-compatible chat completion request.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
}

// Response is the non-streaming completion payload. Every level is optional
// on the wire, so absent fields stay nil rather than zero.
type Response struct {
	Choices []Choice `json:"choices"`
}

type Choice struct {
	Message *ChoiceMessage `json:"message"`
}

type ChoiceMessage struct {
	Content *string `json:"content"`
}

// Text returns the first choice's content and whether it was present.
func (r *Response) Text() (string, bool) {
	if r == nil || len(r.Choices) == 0 {
		return "", false
	}
	msg := r.Choices[0].Message
	if msg == nil || msg.Content == nil {
		return "", false
	}
	return *msg.Content, true
}

// StreamChunk is one decoded SSE data payload.
type StreamChunk struct {
	Choices []StreamChoice `json:"choices"`
}

type StreamChoice struct {
	Delta *Delta `json:"delta"`
}

type Delta struct {
	Content *string `json:"content"`
}

// Text returns the first choice's delta content and whether it was present.
func (c *StreamChunk) Text() (string, bool) {
	if c == nil || len(c.Choices) == 0 {
		return "", false
	}
	delta := c.Choices[0].Delta
	if delta == nil || delta.Content == nil {
		return "", false
	}
	return *delta.Content, true
}

// LastUserTurn returns the content of the last user-tagged turn, which is not
// necessarily the last turn.
func LastUserTurn(turns []Message) (string, bool) {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == RoleUser {
			return turns[i].Content, true
		}
	}
	return "", false
}

// ValidRole reports whether r is one of the roles the upstream accepts.
func ValidRole(r Role) bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

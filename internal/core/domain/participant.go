package domain

type ParticipantID int

// StreamName identifies a published media stream inside a conference
// application. The empty value means the participant publishes nothing.
type StreamName string

type Participant struct {
	ID         ParticipantID `json:"id"`
	Name       string        `json:"name,omitempty"`
	HasStream  bool          `json:"has_stream"`
	StreamName StreamName    `json:"stream_name,omitempty"`
}

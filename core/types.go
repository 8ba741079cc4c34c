/*
Package core contains the request/response types of the agentchat HTTP API.

These types are the contract between browser or script clients and the
server: chat turns, streamed events, rendered reply segments, the agent list,
credential validation and turn cancellation.
*/
package core

// ChatRequest is one user turn.
type ChatRequest struct {
	Message    string `json:"message"`              // The user's prompt
	SessionID  string `json:"sessionId,omitempty"`  // Existing session, empty to start one
	EndpointID string `json:"endpointId,omitempty"` // Agent endpoint, defaults to the session's selection
	Region     string `json:"region,omitempty"`     // Region, defaults to the session's region
}

// ChatResponse is the result of a non-streamed turn.
type ChatResponse struct {
	Response  string        `json:"response"`           // Assistant reply or error text
	SessionID string        `json:"sessionId"`          // Session to continue the conversation with
	Error     bool          `json:"error,omitempty"`    // Whether Response reports a failed turn
	Segments  []SegmentView `json:"segments,omitempty"` // Reply split into prose and downloadable links
}

// SegmentView is one rendered span of a reply.
type SegmentView struct {
	Type        string `json:"type"`                  // "plain" or "object_link"
	Text        string `json:"text"`                  // Display text; original markdown for degraded links
	Label       string `json:"label,omitempty"`       // Link label
	Locator     string `json:"locator,omitempty"`     // Object locator
	DownloadURL string `json:"downloadUrl,omitempty"` // Set when the artifact is available
	FileName    string `json:"fileName,omitempty"`    // Artifact display name
	Error       string `json:"error,omitempty"`       // Why a link was degraded
}

// StreamMessage is one server-sent event of a streamed turn.
type StreamMessage struct {
	Type     string        `json:"type"`               // "session", "execution_started", "chunk", "fallback", "response", "error", "stopped"
	Content  string        `json:"content"`            // Event payload
	Complete bool          `json:"complete"`           // Set on the final event
	Segments []SegmentView `json:"segments,omitempty"` // Rendered reply on the final event
}

// AgentView is one selectable agent endpoint.
type AgentView struct {
	EndpointID string `json:"endpointId"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Label      string `json:"label"`
}

// CredentialsRequest carries credentials to validate and adopt.
type CredentialsRequest struct {
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
	SessionToken    string `json:"sessionToken,omitempty"`
	Region          string `json:"region,omitempty"`
}

// CredentialsResponse reports the outcome of a credential check.
type CredentialsResponse struct {
	Valid   bool   `json:"valid"`
	Account string `json:"account,omitempty"`
	Region  string `json:"region"`
	Message string `json:"message"`
}

// SelectRequest selects the endpoint used by a session.
type SelectRequest struct {
	EndpointID string `json:"endpointId"`
	Region     string `json:"region,omitempty"`
}

// StopRequest asks the server to stop a running turn.
type StopRequest struct {
	ExecutionID string `json:"executionId"`
}

// StopResponse reports the outcome of a stop request.
type StopResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Stopped bool   `json:"stopped"`
}

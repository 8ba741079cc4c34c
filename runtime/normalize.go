/*
Package runtime implements the response pipeline between the chat surfaces and a
remote agent runtime endpoint.

The pipeline is made of four pieces:
- Normalize: turns whatever JSON the endpoint returned into one plain string
- Invoker: performs the actual invocation through a RemoteAgentClient
- Orchestrator: re-segments the normalized text into paced, pull-based chunks
- Runner: drives one conversational turn, falling back to a one-shot reply
  when the streaming attempt fails

None of these pieces retry. Throttling and transport retries belong to the
RemoteAgentClient implementation.
*/
package runtime

import (
	"bytes"
	"encoding/json"
	"strings"
)

// shapeKind identifies which of the known reply layouts a payload uses.
type shapeKind int

const (
	// shapeRaw: no usable "result" object, the whole payload is dumped.
	shapeRaw shapeKind = iota
	// shapeResponse: {"result": {"response": S}}
	shapeResponse
	// shapeMessages: {"result": {"messages": [_, assistant, ...]}}
	shapeMessages
	// shapeResult: a "result" object with neither recognised key, dumped as-is.
	shapeResult
)

// shape is the tagged parse of an invocation payload. value holds the part of
// the payload that the matching branch of Normalize consumes.
type shape struct {
	kind  shapeKind
	value any
}

// classify inspects a decoded JSON payload and picks exactly one shape.
// Every possible input maps to some shape; shapeRaw is the catch-all.
func classify(payload any) shape {
	root, ok := payload.(map[string]any)
	if !ok {
		return shape{kind: shapeRaw, value: payload}
	}
	resultValue, ok := root["result"]
	if !ok {
		return shape{kind: shapeRaw, value: payload}
	}
	result, ok := resultValue.(map[string]any)
	if !ok {
		return shape{kind: shapeResult, value: resultValue}
	}
	if response, ok := result["response"]; ok {
		return shape{kind: shapeResponse, value: response}
	}
	if messages, ok := result["messages"].([]any); ok && len(messages) > 1 {
		return shape{kind: shapeMessages, value: messages[1]}
	}
	return shape{kind: shapeResult, value: result}
}

// Normalize converts a decoded invocation payload into the assistant's reply text.
// It never fails: unrecognised shapes degrade to a pretty-printed JSON dump so
// that unexpected replies stay visible to the user.
//
// Parameters:
//   - payload: value produced by decoding the response body (see DecodePayload)
//
// Returns:
//   - string: the assistant text, or a JSON rendering of the unrecognised part
func Normalize(payload any) string {
	s := classify(payload)
	switch s.kind {
	case shapeResponse:
		return stringify(s.value)
	case shapeMessages:
		if parts, ok := s.value.([]any); ok && len(parts) > 0 {
			return stringify(parts[0])
		}
		return stringify(s.value)
	case shapeResult:
		return prettyJSON(s.value)
	default:
		return prettyJSON(s.value)
	}
}

// DecodePayload parses a response body into a generic JSON value. Numbers are
// kept as json.Number so that dumps reproduce them verbatim.
func DecodePayload(body []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()

	var payload any
	if err := decoder.Decode(&payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// stringify coerces a JSON value to text. Strings pass through untouched,
// numbers keep their literal form and everything else is rendered as compact JSON.
func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return encodeJSON(value, "")
	}
}

// prettyJSON renders a value with 2-space indentation. Object keys come out
// sorted because encoding/json orders map keys.
func prettyJSON(value any) string {
	return encodeJSON(value, "  ")
}

func encodeJSON(value any, indent string) string {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if indent != "" {
		encoder.SetIndent("", indent)
	}
	if err := encoder.Encode(value); err != nil {
		// Values produced by DecodePayload always encode.
		return ""
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

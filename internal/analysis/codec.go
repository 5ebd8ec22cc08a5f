package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	dserrors "dartas/internal/errors"
)

// Request is an outgoing request envelope.
type Request struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

// RequestError is the error object a server attaches to a failed response.
type RequestError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StackTrace string `json:"stackTrace,omitempty"`
}

// Response answers exactly one request.
type Response struct {
	ID     string
	Result json.RawMessage
	Error  *RequestError
}

// Event is an unsolicited server message.
type Event struct {
	Name   string
	Params json.RawMessage
}

// Message is the decoded form of one inbound line. Exactly one field is set.
type Message struct {
	Response *Response
	Event    *Event
}

// envelope covers every shape the server writes.
type envelope struct {
	ID     json.RawMessage `json:"id"`
	Event  *string         `json:"event"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *RequestError   `json:"error"`
}

var emptyParams = json.RawMessage(`{}`)

// EncodeRequest renders a request as a single line of JSON without the
// trailing newline.
func EncodeRequest(id, method string, params any) ([]byte, error) {
	if params == nil {
		params = emptyParams
	}
	data, err := json.Marshal(Request{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", method, err)
	}
	return data, nil
}

// DecodeLine parses one inbound line. A line with an "event" member is an
// Event; otherwise a line with an "id" member is a Response.
func DecodeLine(line []byte) (Message, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Message{}, malformed("not a JSON object", line, nil)
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Message{}, malformed("invalid JSON", line, err)
	}

	if env.Event != nil {
		return Message{Event: &Event{Name: *env.Event, Params: nonNull(env.Params)}}, nil
	}

	if len(env.ID) > 0 && !isNull(env.ID) {
		id, err := decodeID(env.ID)
		if err != nil {
			return Message{}, malformed("invalid id", line, err)
		}
		return Message{Response: &Response{
			ID:     id,
			Result: nonNull(env.Result),
			Error:  env.Error,
		}}, nil
	}

	return Message{}, malformed("neither response nor event", line, nil)
}

// decodeID accepts string ids and, leniently, numeric ones.
func decodeID(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return "", err
	}
	return n.String(), nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func nonNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || isNull(raw) {
		return nil
	}
	return raw
}

const maxQuotedLine = 120

func malformed(reason string, line []byte, cause error) error {
	quoted := line
	if len(quoted) > maxQuotedLine {
		quoted = quoted[:maxQuotedLine]
	}
	return dserrors.New(dserrors.MalformedMessage, fmt.Sprintf("%s: %q", reason, quoted), cause)
}

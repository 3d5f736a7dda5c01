/*
Package envelope implements the wire codec for the RPC-over-MQTT runtime:
request, response and notification message shapes, their JSON encoding,
and the transaction-id minter used to correlate a request with its
eventual response.

The codec deliberately does not know about topics or transport; it only
turns envelopes into bytes and back. See the sibling `topic` package for
how an envelope's transaction id maps onto a concrete MQTT topic string.
*/
package envelope

import (
	"encoding/json"
	"strings"
	"time"
)

// Authority categorizes the privilege level a caller claims for a
// request. The client transports the value faithfully; it never
// enforces policy based on it — servers may reject a request based on
// authority, and such rejections surface like any other RemoteError.
type Authority string

// Recognized authority values.
const (
	Admin  Authority = "admin"
	User   Authority = "user"
	Guest  Authority = "guest"
	System Authority = "system"
)

// validAuthorities is used by ParseAuthority to reject unknown values.
var validAuthorities = map[Authority]bool{
	Admin:  true,
	User:   true,
	Guest:  true,
	System: true,
}

// ParseAuthority validates a wire-format authority string, returning a
// DecodeError with KindUnknownAuthority for anything not in the
// recognized set.
func ParseAuthority(s string) (Authority, error) {
	a := Authority(strings.ToLower(s))
	if !validAuthorities[a] {
		return "", &DecodeError{Kind: KindUnknownAuthority}
	}
	return a, nil
}

// Request is the envelope published on a method's request topic.
type Request struct {
	TransactionID string          `json:"transaction_id"`
	Method        string          `json:"method"`
	Service       string          `json:"service"`
	Authority     Authority       `json:"authority"`
	Params        json.RawMessage `json:"params,omitempty"`
	Timestamp     int64           `json:"timestamp"`
	TimeoutMS     int64           `json:"timeout_ms"`
}

// Response is the envelope published on a method's response topic; it
// always echoes the request's transaction id.
type Response struct {
	TransactionID    string          `json:"transaction_id"`
	Success          bool            `json:"success"`
	Result           json.RawMessage `json:"result,omitempty"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	ErrorCode        int             `json:"error_code"`
	Timestamp        int64           `json:"timestamp"`
	ProcessingTimeMS int64           `json:"processing_time_ms"`
}

// Notification is the envelope published on a method's notification
// topic. Unlike Request/Response it carries no transaction id — there
// is nothing to correlate, it is fire-and-forget in both directions.
type Notification struct {
	Method    string          `json:"method"`
	Service   string          `json:"service"`
	Authority Authority       `json:"authority"`
	Params    json.RawMessage `json:"params,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// DecodeErrorKind discriminates the reason a Decode call failed.
type DecodeErrorKind int

// Recognized decode failure kinds.
const (
	KindMalformed DecodeErrorKind = iota
	KindMissingTransactionID
	KindUnknownAuthority
)

// DecodeError reports a structural problem with a wire payload. Offset
// can carry a byte position within the payload; the decoders in this
// package do not set it, so errors they return have Offset zero.
type DecodeError struct {
	Kind   DecodeErrorKind
	Offset int64
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case KindMissingTransactionID:
		return "envelope: missing transaction_id"
	case KindUnknownAuthority:
		return "envelope: unknown authority"
	default:
		return "envelope: malformed payload"
	}
}

// nowMillis returns the current wall-clock time as Unix milliseconds,
// the timestamp unit used throughout the wire format.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// EncodeRequest validates and serializes a request envelope. The
// transaction id must already be set (use NewTransactionID); timestamp
// is stamped at encode time if zero.
func EncodeRequest(req Request) ([]byte, error) {
	if req.TransactionID == "" {
		return nil, &DecodeError{Kind: KindMissingTransactionID}
	}
	if _, err := ParseAuthority(string(req.Authority)); err != nil {
		return nil, err
	}
	if req.Timestamp == 0 {
		req.Timestamp = nowMillis()
	}
	return json.Marshal(req)
}

// DecodeRequest parses and validates a request envelope payload.
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, &DecodeError{Kind: KindMalformed}
	}
	if req.TransactionID == "" {
		return Request{}, &DecodeError{Kind: KindMissingTransactionID}
	}
	if _, err := ParseAuthority(string(req.Authority)); err != nil {
		return Request{}, err
	}
	return req, nil
}

// EncodeResponse validates and serializes a response envelope. Per the
// data model, a successful response carries no error fields and a
// failed one carries a non-zero error code.
func EncodeResponse(resp Response) ([]byte, error) {
	if resp.TransactionID == "" {
		return nil, &DecodeError{Kind: KindMissingTransactionID}
	}
	if resp.Success {
		resp.ErrorMessage = ""
		resp.ErrorCode = 0
	}
	if resp.Timestamp == 0 {
		resp.Timestamp = nowMillis()
	}
	return json.Marshal(resp)
}

// DecodeResponse parses and validates a response envelope payload.
func DecodeResponse(data []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, &DecodeError{Kind: KindMalformed}
	}
	if resp.TransactionID == "" {
		return Response{}, &DecodeError{Kind: KindMissingTransactionID}
	}
	return resp, nil
}

// EncodeNotification serializes a notification envelope.
func EncodeNotification(n Notification) ([]byte, error) {
	if _, err := ParseAuthority(string(n.Authority)); err != nil {
		return nil, err
	}
	if n.Timestamp == 0 {
		n.Timestamp = nowMillis()
	}
	return json.Marshal(n)
}

// DecodeNotification parses and validates a notification envelope.
func DecodeNotification(data []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return Notification{}, &DecodeError{Kind: KindMalformed}
	}
	if _, err := ParseAuthority(string(n.Authority)); err != nil {
		return Notification{}, err
	}
	return n, nil
}

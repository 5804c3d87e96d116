package jrpc

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

const Version = "2.0"

type Call struct {
	Version string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

func NewCall(id uint64, method string, params ...interface{}) *Call {
	if params == nil {
		params = []interface{}{}
	}
	return &Call{
		Version: Version,
		ID:      id,
		Method:  method,
		Params:  params,
	}
}

type Response struct {
	Version string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jrpc error %d: %s", e.Code, e.Message)
}

// Notification is the `eth_subscription` push message a node sends for an
// active subscription.
type Notification struct {
	Version string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

var (
	errMalformedFrame = errors.New("malformed jrpc frame")
)

// frame is the superset of Response and Notification used to triage inbound
// messages without decoding the payload twice.
type frame struct {
	Version string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// DecodeFrame splits an inbound message into either a response to a pending
// call or a subscription notification.  Exactly one of the returned pointers
// is non-nil on success.
func DecodeFrame(b []byte) (*Response, *Notification, error) {
	f := frame{}
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", errMalformedFrame, err)
	}

	if f.Method == "eth_subscription" {
		n := &Notification{}
		if err := json.Unmarshal(b, n); err != nil {
			return nil, nil, fmt.Errorf("%w: %w", errMalformedFrame, err)
		}
		if n.Params.Subscription == "" || len(n.Params.Result) == 0 {
			return nil, nil, fmt.Errorf("%w: notification without subscription id or result",
				errMalformedFrame,
			)
		}
		return nil, n, nil
	}

	if f.ID != nil && (len(f.Result) > 0 || f.Error != nil) {
		return &Response{
			Version: f.Version,
			ID:      *f.ID,
			Result:  f.Result,
			Error:   f.Error,
		}, nil, nil
	}

	return nil, nil, fmt.Errorf("%w: neither response nor subscription notification",
		errMalformedFrame,
	)
}

package types

import (
	"github.com/goccy/go-json"
)

func marshalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func unmarshalJSON(b []byte, v interface{}) error {
	return json.Unmarshal(b, v)
}

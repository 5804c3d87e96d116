package broadcast

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"github.com/pool-sentry/sentry/types"
)

// Event records cross the IPC socket as a 4-byte big-endian length prefix
// followed by that many bytes of JSON.  The format is an internal contract
// between this process and its local subscribers, not a public wire format.

const maxRecordSize = 16 * 1024 * 1024

var (
	errRecordTooLarge = errors.New("ipc record exceeds size limit")
)

func WriteRecord(w io.Writer, ev types.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if len(payload) > maxRecordSize {
		return fmt.Errorf("%w: %d bytes", errRecordTooLarge, len(payload))
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))

	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

func ReadRecord(r io.Reader) (types.Event, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return types.Event{}, err
	}

	size := binary.BigEndian.Uint32(prefix[:])
	if size > maxRecordSize {
		return types.Event{}, fmt.Errorf("%w: %d bytes", errRecordTooLarge, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return types.Event{}, err
	}

	ev := types.Event{}
	if err := json.Unmarshal(payload, &ev); err != nil {
		return types.Event{}, err
	}
	return ev, nil
}

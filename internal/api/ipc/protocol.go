// Package ipc serves the indexer's local Unix-domain socket protocol:
// length-prefixed JSON frames carrying the command verbs best_chain,
// account_balance, summary and shutdown.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// Verbs the socket accepts.
const (
	VerbBestChain      = "best_chain"
	VerbAccountBalance = "account_balance"
	VerbSummary        = "summary"
	VerbShutdown       = "shutdown"
)

// Request is one framed command. ID correlates the reply; clients that
// leave it empty get one assigned by the server.
type Request struct {
	ID     string          `json:"id"`
	Verb   string          `json:"verb"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is one framed reply.
type Response struct {
	ID    string          `json:"id"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// maxFrameSize rejects frames that cannot be a legitimate request long
// before allocation.
const maxFrameSize = 1 << 20

// writeFrame writes a 4-byte big-endian length prefix followed by the JSON
// encoding of v.
func writeFrame(w io.Writer, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode frame")
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return errors.Wrap(err, "write frame length")
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Wrap(err, "write frame payload")
	}
	return nil
}

// readFrame reads one length-prefixed JSON frame into v.
func readFrame(r io.Reader, v interface{}) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return err // io.EOF passes through so callers detect clean close
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxFrameSize {
		return errors.Errorf("frame of %d bytes exceeds maximum", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return errors.Wrap(err, "read frame payload")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return errors.Wrap(err, "decode frame")
	}
	return nil
}

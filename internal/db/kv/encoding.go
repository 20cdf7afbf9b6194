package kv

import (
	"bytes"
	"encoding/gob"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// encode/decode snappy-compress the gob-serialized value before it reaches
// bbolt. gob round-trips the plain model structs exactly and needs no
// generated code.
func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, errors.Wrap(err, "gob encode")
	}
	return snappy.Encode(nil, buf.Bytes()), nil
}

func decode(data []byte, v interface{}) error {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return errors.Wrap(err, "snappy decode")
	}
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(v); err != nil {
		return errors.Wrap(err, "gob decode")
	}
	return nil
}

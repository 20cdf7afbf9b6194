package kv

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"

	"github.com/minaprotocol/mina-indexer/internal/model"
)

// Every secondary key is a concatenation of fixed-width fields — a 32-byte
// public-key digest and/or a big-endian u32 — so byte-lexicographic order
// in the engine equals numeric order of the leading numeric field across
// the full uint32 range. The block index keys end with the primary
// state_hash; the account-at-height and delegate-index keys are fixed-width
// only and carry no state_hash.

// pkKeyLen is the fixed width of a public key inside a composite key.
const pkKeyLen = sha256.Size

// pkBytes reduces a base58 public key to its fixed 32-byte key form. A
// digest rather than a base58 decode: it is total over any identifier the
// drop zone produces, and index keys only need fixed width and uniqueness,
// not recoverability (values carry the plaintext key where needed).
func pkBytes(pk model.PublicKey) []byte {
	sum := sha256.Sum256([]byte(pk))
	return sum[:]
}

func heightKey(height model.BlockHeight, hash model.StateHash) []byte {
	buf := make([]byte, 4+len(hash))
	binary.BigEndian.PutUint32(buf, uint32(height))
	copy(buf[4:], hash)
	return buf
}

func heightPrefix(height model.BlockHeight) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(height))
	return buf
}

func slotKey(slot model.GlobalSlot, hash model.StateHash) []byte {
	buf := make([]byte, 4+len(hash))
	binary.BigEndian.PutUint32(buf, uint32(slot))
	copy(buf[4:], hash)
	return buf
}

func slotPrefix(slot model.GlobalSlot) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(slot))
	return buf
}

func pkPrefixKey(pk model.PublicKey, height model.BlockHeight, hash model.StateHash) []byte {
	buf := make([]byte, pkKeyLen+4+len(hash))
	copy(buf, pkBytes(pk))
	binary.BigEndian.PutUint32(buf[pkKeyLen:], uint32(height))
	copy(buf[pkKeyLen+4:], hash)
	return buf
}

func pkPrefix(pk model.PublicKey) []byte {
	return pkBytes(pk)
}

// accountAtHeightKey encodes pk_bytes(32) || u32_be(height); last write
// wins within a height.
func accountAtHeightKey(pk model.PublicKey, height model.BlockHeight) []byte {
	buf := make([]byte, pkKeyLen+4)
	copy(buf, pkBytes(pk))
	binary.BigEndian.PutUint32(buf[pkKeyLen:], uint32(height))
	return buf
}

func accountPrefix(pk model.PublicKey) []byte {
	return pkBytes(pk)
}

// delegateIndexKey encodes pk_bytes(delegate) || pk_bytes(delegator); the
// stored value carries the delegator's plaintext key, since a digest is
// not reversible.
func delegateIndexKey(delegate, delegator model.PublicKey) []byte {
	buf := make([]byte, 2*pkKeyLen)
	copy(buf, pkBytes(delegate))
	copy(buf[pkKeyLen:], pkBytes(delegator))
	return buf
}

// stateHashFromKey extracts the trailing state_hash suffix from a composite
// key, given the length of the fixed-width prefix that precedes it.
func stateHashFromKey(key []byte, prefixLen int) model.StateHash {
	if len(key) <= prefixLen {
		return ""
	}
	return model.StateHash(key[prefixLen:])
}

// heightFromPkKey extracts the big-endian height following the fixed-width
// public-key digest of a pk-prefixed composite key.
func heightFromPkKey(key []byte) model.BlockHeight {
	if len(key) < pkKeyLen+4 {
		return 0
	}
	return model.BlockHeight(binary.BigEndian.Uint32(key[pkKeyLen : pkKeyLen+4]))
}

// aggregateKey builds an "epoch:"||u32_be||suffix tag, or a global key
// when epoch is nil.
func aggregateKey(epoch *model.Epoch, suffix string) []byte {
	var buf bytes.Buffer
	if epoch != nil {
		buf.WriteString("epoch:")
		binary.Write(&buf, binary.BigEndian, uint32(*epoch)) //nolint:errcheck // bytes.Buffer.Write never errors.
	} else {
		buf.WriteString("global:")
	}
	buf.WriteString(suffix)
	return buf.Bytes()
}

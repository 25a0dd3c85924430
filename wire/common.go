// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/argentumnet/argentumd/util/chainhash"
)

// MaxVarIntPayload is the maximum payload size for a variable length integer.
const MaxVarIntPayload = 9

var (
	// littleEndian is a convenience variable since binary.LittleEndian is
	// quite long.
	littleEndian = binary.LittleEndian
)

// scratchBuffer provides a stack-allocated scratch buffer for the
// primitive read and write helpers below.
type scratchBuffer [8]byte

// readUint32 reads a little-endian uint32 from r.
func readUint32(r io.Reader) (uint32, error) {
	var buf scratchBuffer
	if _, err := io.ReadFull(r, buf[:4]); err != nil {
		return 0, err
	}
	return littleEndian.Uint32(buf[:4]), nil
}

// writeUint32 writes a little-endian uint32 to w.
func writeUint32(w io.Writer, val uint32) error {
	var buf scratchBuffer
	littleEndian.PutUint32(buf[:4], val)
	_, err := w.Write(buf[:4])
	return err
}

// readUint64 reads a little-endian uint64 from r.
func readUint64(r io.Reader) (uint64, error) {
	var buf scratchBuffer
	if _, err := io.ReadFull(r, buf[:8]); err != nil {
		return 0, err
	}
	return littleEndian.Uint64(buf[:8]), nil
}

// writeUint64 writes a little-endian uint64 to w.
func writeUint64(w io.Writer, val uint64) error {
	var buf scratchBuffer
	littleEndian.PutUint64(buf[:8], val)
	_, err := w.Write(buf[:8])
	return err
}

// readHash reads a chainhash.Hash from r.
func readHash(r io.Reader, hash *chainhash.Hash) error {
	_, err := io.ReadFull(r, hash[:])
	return err
}

// writeHash writes a chainhash.Hash to w.
func writeHash(w io.Writer, hash *chainhash.Hash) error {
	_, err := w.Write(hash[:])
	return err
}

// ReadVarInt reads a variable length integer from r and returns it as a
// uint64.
func ReadVarInt(r io.Reader) (uint64, error) {
	var buf scratchBuffer
	if _, err := io.ReadFull(r, buf[:1]); err != nil {
		return 0, err
	}
	discriminant := buf[0]

	var rv uint64
	switch discriminant {
	case 0xff:
		sv, err := readUint64(r)
		if err != nil {
			return 0, err
		}
		rv = sv

		// The encoding is not canonical if the value could have been
		// encoded using fewer bytes.
		if rv < 0x100000000 {
			return 0, errNonCanonicalVarInt(rv, discriminant, 0x100000000)
		}

	case 0xfe:
		sv, err := readUint32(r)
		if err != nil {
			return 0, err
		}
		rv = uint64(sv)

		if rv < 0x10000 {
			return 0, errNonCanonicalVarInt(rv, discriminant, 0x10000)
		}

	case 0xfd:
		if _, err := io.ReadFull(r, buf[:2]); err != nil {
			return 0, err
		}
		rv = uint64(littleEndian.Uint16(buf[:2]))

		if rv < 0xfd {
			return 0, errNonCanonicalVarInt(rv, discriminant, 0xfd)
		}

	default:
		rv = uint64(discriminant)
	}

	return rv, nil
}

func errNonCanonicalVarInt(rv uint64, discriminant byte, min uint64) error {
	return errors.Errorf("non-canonical varint %x - discriminant %x must "+
		"encode a value greater than %x", rv, discriminant, min)
}

// WriteVarInt serializes val to w using a variable number of bytes depending
// on its value.
func WriteVarInt(w io.Writer, val uint64) error {
	var buf scratchBuffer
	switch {
	case val < 0xfd:
		buf[0] = uint8(val)
		_, err := w.Write(buf[:1])
		return err

	case val <= 0xffff:
		buf[0] = 0xfd
		littleEndian.PutUint16(buf[1:3], uint16(val))
		_, err := w.Write(buf[:3])
		return err

	case val <= 0xffffffff:
		buf[0] = 0xfe
		littleEndian.PutUint32(buf[1:5], uint32(val))
		_, err := w.Write(buf[:5])
		return err

	default:
		buf[0] = 0xff
		if _, err := w.Write(buf[:1]); err != nil {
			return err
		}
		return writeUint64(w, val)
	}
}

// VarIntSerializeSize returns the number of bytes it would take to serialize
// val as a variable length integer.
func VarIntSerializeSize(val uint64) int {
	switch {
	case val < 0xfd:
		return 1
	case val <= 0xffff:
		return 3
	case val <= 0xffffffff:
		return 5
	}
	return 9
}

// ReadVarBytes reads a variable length byte array. A byte array is encoded
// as a varInt containing the length of the array followed by the bytes
// themselves. An error is returned if the length is greater than the passed
// maxAllowed parameter which helps protect against memory exhaustion attacks
// and forced panics through malformed messages.
func ReadVarBytes(r io.Reader, maxAllowed uint32, fieldName string) ([]byte, error) {
	count, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}

	if count > uint64(maxAllowed) {
		return nil, errors.Errorf("%s is larger than the max allowed size "+
			"[count %d, max %d]", fieldName, count, maxAllowed)
	}

	b := make([]byte, count)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// WriteVarBytes serializes a variable length byte array to w as a varInt
// containing the number of bytes, followed by the bytes themselves.
func WriteVarBytes(w io.Writer, bytes []byte) error {
	if err := WriteVarInt(w, uint64(len(bytes))); err != nil {
		return err
	}

	_, err := w.Write(bytes)
	return err
}

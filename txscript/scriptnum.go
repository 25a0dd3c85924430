// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

// ScriptNumBytes returns the number serialized as a little endian with a
// sign bit, the format the script engine uses for numeric values. This is
// the encoding required for the block height push mandated by version 2
// blocks.
func ScriptNumBytes(n int64) []byte {
	// Zero encodes as an empty byte slice.
	if n == 0 {
		return nil
	}

	// Take the absolute value and keep track of whether it was originally
	// negative.
	isNegative := n < 0
	if isNegative {
		n = -n
	}

	// Encode to little endian. The maximum number of encoded bytes is 9
	// (8 bytes for max int64 plus a potential byte for sign extension).
	result := make([]byte, 0, 9)
	for n > 0 {
		result = append(result, byte(n&0xff))
		n >>= 8
	}

	// When the most significant byte already has the high bit set, an
	// additional high byte is required to indicate whether the number is
	// negative or positive. The additional byte is removed when converting
	// back to an integral and its high bit is used to denote the sign.
	if result[len(result)-1]&0x80 != 0 {
		extraByte := byte(0x00)
		if isNegative {
			extraByte = 0x80
		}
		result = append(result, extraByte)
	} else if isNegative {
		result[len(result)-1] |= 0x80
	}

	return result
}

// MakeScriptNumPush returns the canonical script that pushes the provided
// number: a small integer opcode for 0 through 16, otherwise a direct data
// push of the script number serialization (including -1).
func MakeScriptNumPush(n int64) []byte {
	if n == 0 {
		return []byte{Op0}
	}
	if n >= 1 && n <= 16 {
		return []byte{Op1 + byte(n-1)}
	}

	data := ScriptNumBytes(n)
	script := make([]byte, 0, len(data)+1)
	script = append(script, byte(len(data)))
	return append(script, data...)
}

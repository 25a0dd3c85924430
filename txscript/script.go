// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// MaxOpsPerMultiSig is the sigops counted for a CHECKMULTISIG whose key
// count cannot be determined from the preceding opcode.
const MaxOpsPerMultiSig = 20

// parsedOpcode represents an opcode that has been parsed and includes any
// potential data associated with it.
type parsedOpcode struct {
	opcode byte
	data   []byte
}

// parseScript parses the raw script into a slice of parsed opcodes. When
// strict is false a trailing truncated push terminates the parse without
// error, mirroring the behavior consensus counting requires for scripts that
// are never executed.
func parseScript(script []byte, strict bool) ([]parsedOpcode, error) {
	retScript := make([]parsedOpcode, 0, len(script))
	for i := 0; i < len(script); {
		op := script[i]
		pop := parsedOpcode{opcode: op}
		i++

		var dataLen int
		switch {
		case op > Op0 && op <= OpData75:
			dataLen = int(op)

		case op == OpPushData1:
			if i >= len(script) {
				if strict {
					return nil, errors.Errorf("truncated push at offset %d", i-1)
				}
				return retScript, nil
			}
			dataLen = int(script[i])
			i++

		case op == OpPushData2:
			if i+2 > len(script) {
				if strict {
					return nil, errors.Errorf("truncated push at offset %d", i-1)
				}
				return retScript, nil
			}
			dataLen = int(binary.LittleEndian.Uint16(script[i : i+2]))
			i += 2

		case op == OpPushData4:
			if i+4 > len(script) {
				if strict {
					return nil, errors.Errorf("truncated push at offset %d", i-1)
				}
				return retScript, nil
			}
			dataLen = int(binary.LittleEndian.Uint32(script[i : i+4]))
			i += 4
		}

		if dataLen > 0 {
			if i+dataLen > len(script) {
				if strict {
					return nil, errors.Errorf("opcode %#x pushes %d bytes, "+
						"but script only has %d remaining", op, dataLen,
						len(script)-i)
				}
				return retScript, nil
			}
			pop.data = script[i : i+dataLen]
			i += dataLen
		}

		retScript = append(retScript, pop)
	}

	return retScript, nil
}

// isPushOnly returns whether all parsed opcodes are push operations.
func isPushOnly(pops []parsedOpcode) bool {
	for _, pop := range pops {
		if pop.opcode > Op16 {
			return false
		}
	}
	return true
}

// countSigOps returns the number of signature operations in the parsed
// opcodes. Precise mode counts CHECKMULTISIG as the number of keys pushed by
// a directly preceding small integer opcode, falling back to
// MaxOpsPerMultiSig otherwise.
func countSigOps(pops []parsedOpcode, precise bool) int {
	nSigs := 0
	lastOpcode := byte(OpInvalidOpCode)
	for _, pop := range pops {
		switch pop.opcode {
		case OpCheckSig, OpCheckSigVerify:
			nSigs++

		case OpCheckMultiSig, OpCheckMultiSigVerify:
			if precise && lastOpcode >= Op1 && lastOpcode <= Op16 {
				nSigs += asSmallInt(lastOpcode)
			} else {
				nSigs += MaxOpsPerMultiSig
			}
		}

		lastOpcode = pop.opcode
	}

	return nSigs
}

// GetSigOpCount provides a quick count of the number of signature operations
// in a script. A CHECKSIG operation counts for 1, and a CHECKMULTISIG
// operation counts for 20.
func GetSigOpCount(script []byte) int {
	// Don't check error since parseScript returns the parsed-up-to-error
	// list when the tolerant flag is used.
	pops, _ := parseScript(script, false)
	return countSigOps(pops, false)
}

// GetPreciseSigOpCount returns the number of signature operations in the
// redeem script of the provided pay-to-script-hash spend. The signature
// script must only push data to the stack, and the count of the final push
// (the redeem script) is done accurately, with CHECKMULTISIG counting the
// number of keys indicated by the preceding small integer. An error is
// returned for a malformed redeem script.
func GetPreciseSigOpCount(sigScript, pkScript []byte) (int, error) {
	// The signature script of a script-hash spend must be push only.
	sigPops, err := parseScript(sigScript, true)
	if err != nil {
		return 0, err
	}
	if len(sigPops) == 0 || !isPushOnly(sigPops) {
		return 0, errors.New("signature script is not push only")
	}

	// The redeem script is the final data push of the signature script.
	redeem := sigPops[len(sigPops)-1].data

	redeemPops, err := parseScript(redeem, true)
	if err != nil {
		return 0, err
	}

	return countSigOps(redeemPops, true), nil
}

// IsPayToScriptHash returns true if the script is in the standard
// pay-to-script-hash format: HASH160 <20 byte hash> EQUAL.
func IsPayToScriptHash(script []byte) bool {
	return len(script) == 23 &&
		script[0] == OpHash160 &&
		script[1] == OpData1+19 &&
		script[22] == OpEqual
}

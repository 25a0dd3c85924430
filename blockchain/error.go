// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import "fmt"

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific RuleError. The values are
// part of the external error vocabulary and must remain stable.
const (
	// ErrSuccess indicates no failure. It exists so that cached results
	// and completion handlers can carry an explicit success code.
	ErrSuccess ErrorCode = iota

	// ErrServiceStopped indicates validation was aborted because the
	// caller's stop predicate fired.
	ErrServiceStopped

	// ErrOperationFailed indicates a required internal operation, such as
	// deriving a chain state, could not be performed.
	ErrOperationFailed

	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound

	// ErrSizeLimits indicates a block violates the transaction count or
	// serialized size limits.
	ErrSizeLimits

	// ErrFirstNotCoinbase indicates the first transaction in a block is
	// not a coinbase.
	ErrFirstNotCoinbase

	// ErrExtraCoinbases indicates a block contains more than one coinbase.
	ErrExtraCoinbases

	// ErrDuplicate indicates a duplicate transaction or a duplicate pool
	// entry.
	ErrDuplicate

	// ErrMerkleMismatch indicates the merkle root in the block header
	// does not match the root computed from the transactions.
	ErrMerkleMismatch

	// ErrTooManySigs indicates the aggregate signature operation count
	// exceeds the block limit.
	ErrTooManySigs

	// ErrProofOfWork indicates the block hash does not satisfy the
	// claimed target, or the claimed target is out of range.
	ErrProofOfWork

	// ErrIncorrectProofOfWork indicates the header bits differ from the
	// work required by the chain state.
	ErrIncorrectProofOfWork

	// ErrFuturisticTimestamp indicates a block timestamp too far in the
	// future.
	ErrFuturisticTimestamp

	// ErrTimestampTooEarly indicates a block timestamp not after the
	// median time of the preceding blocks.
	ErrTimestampTooEarly

	// ErrCheckpointsFailed indicates a block hash differs from the
	// checkpoint registered at its height.
	ErrCheckpointsFailed

	// ErrOldVersionBlock indicates a version 1 block above the last
	// height at which version 1 blocks are accepted.
	ErrOldVersionBlock

	// ErrCoinbaseHeightMismatch indicates a version 2 block whose
	// coinbase does not begin with the serialized block height.
	ErrCoinbaseHeightMismatch

	// ErrNonFinalTransaction indicates a block contains a transaction
	// that is not final at the block height and timestamp.
	ErrNonFinalTransaction

	// ErrInputNotFound indicates a referenced previous output does not
	// exist.
	ErrInputNotFound

	// ErrDuplicateOrSpent indicates a transaction id collides with an
	// earlier transaction that is not fully spent.
	ErrDuplicateOrSpent

	// ErrValidateInputsFailed indicates an input failed connection
	// checks: script failure, immature coinbase spend, double spend, or
	// value range violations.
	ErrValidateInputsFailed

	// ErrPreviousBlockInvalid indicates an ancestor of the block failed
	// validation.
	ErrPreviousBlockInvalid

	// ErrEmptyTransaction indicates a transaction with no inputs or no
	// outputs.
	ErrEmptyTransaction

	// ErrOutputValueOverflow indicates a transaction output value, or
	// the sum of output values, above the money ceiling.
	ErrOutputValueOverflow

	// ErrCoinbaseScriptSize indicates a coinbase signature script whose
	// length is out of range.
	ErrCoinbaseScriptSize

	// ErrPreviousOutputNull indicates a non-coinbase transaction with a
	// null previous output.
	ErrPreviousOutputNull

	// ErrCoinbaseTransaction indicates a coinbase was submitted to the
	// transaction pool.
	ErrCoinbaseTransaction

	// ErrDoubleSpend indicates an output is already spent, either in the
	// chain or by another pool transaction.
	ErrDoubleSpend

	// ErrFeesOutOfRange indicates a transaction spending more than its
	// inputs, or fees outside the legal range.
	ErrFeesOutOfRange

	// ErrPoolFilled indicates a pool entry was evicted to make room for
	// a newly arrived transaction.
	ErrPoolFilled

	// ErrBlockchainReorganized indicates a pool entry was invalidated by
	// a chain reorganization.
	ErrBlockchainReorganized
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrSuccess:                "ErrSuccess",
	ErrServiceStopped:         "ErrServiceStopped",
	ErrOperationFailed:        "ErrOperationFailed",
	ErrNotFound:               "ErrNotFound",
	ErrSizeLimits:             "ErrSizeLimits",
	ErrFirstNotCoinbase:       "ErrFirstNotCoinbase",
	ErrExtraCoinbases:         "ErrExtraCoinbases",
	ErrDuplicate:              "ErrDuplicate",
	ErrMerkleMismatch:         "ErrMerkleMismatch",
	ErrTooManySigs:            "ErrTooManySigs",
	ErrProofOfWork:            "ErrProofOfWork",
	ErrIncorrectProofOfWork:   "ErrIncorrectProofOfWork",
	ErrFuturisticTimestamp:    "ErrFuturisticTimestamp",
	ErrTimestampTooEarly:      "ErrTimestampTooEarly",
	ErrCheckpointsFailed:      "ErrCheckpointsFailed",
	ErrOldVersionBlock:        "ErrOldVersionBlock",
	ErrCoinbaseHeightMismatch: "ErrCoinbaseHeightMismatch",
	ErrNonFinalTransaction:    "ErrNonFinalTransaction",
	ErrInputNotFound:          "ErrInputNotFound",
	ErrDuplicateOrSpent:       "ErrDuplicateOrSpent",
	ErrValidateInputsFailed:   "ErrValidateInputsFailed",
	ErrPreviousBlockInvalid:   "ErrPreviousBlockInvalid",
	ErrEmptyTransaction:       "ErrEmptyTransaction",
	ErrOutputValueOverflow:    "ErrOutputValueOverflow",
	ErrCoinbaseScriptSize:     "ErrCoinbaseScriptSize",
	ErrPreviousOutputNull:     "ErrPreviousOutputNull",
	ErrCoinbaseTransaction:    "ErrCoinbaseTransaction",
	ErrDoubleSpend:            "ErrDoubleSpend",
	ErrFeesOutOfRange:         "ErrFeesOutOfRange",
	ErrPoolFilled:             "ErrPoolFilled",
	ErrBlockchainReorganized:  "ErrBlockchainReorganized",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// RuleError identifies a rule violation. It is used to indicate that
// processing of a block or transaction failed due to one of the many
// validation rules. The caller can use type assertions to determine if a
// failure was specifically due to a rule violation and access the ErrorCode
// field to ascertain the specific reason for the rule violation.
type RuleError struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	return e.Description
}

// ruleError creates a RuleError given a set of arguments.
func ruleError(c ErrorCode, desc string) RuleError {
	return RuleError{ErrorCode: c, Description: desc}
}

// ErrorCodeOf extracts the ErrorCode of the passed error. A nil error maps
// to ErrSuccess and a non-rule error maps to ErrOperationFailed so that
// every completion path carries exactly one code.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return ErrSuccess
	}
	if ruleErr, ok := err.(RuleError); ok {
		return ruleErr.ErrorCode
	}
	return ErrOperationFailed
}

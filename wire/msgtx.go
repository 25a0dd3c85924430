// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"io"

	"github.com/pkg/errors"

	"github.com/argentumnet/argentumd/util/chainhash"
)

const (
	// TxVersion is the current latest supported transaction version.
	TxVersion = 1

	// MaxTxInSequenceNum is the maximum sequence number the sequence field
	// of a transaction input can be. A transaction with this sequence
	// number on all of its inputs is final regardless of lock time.
	MaxTxInSequenceNum uint32 = 0xffffffff

	// minTxInPayload is the minimum payload size for a transaction input.
	// PreviousOutPoint.Hash + PreviousOutPoint.Index 4 bytes + Varint for
	// SignatureScript length 1 byte + Sequence 4 bytes.
	minTxInPayload = 9 + chainhash.HashSize

	// minTxOutPayload is the minimum payload size for a transaction
	// output. Value 8 bytes + Varint for PkScript length 1 byte.
	minTxOutPayload = 9

	// maxScriptAllowed is the sanity cap on the size of a single script
	// read off the wire. It is well above the consensus script limits.
	maxScriptAllowed = 1024 * 1024
)

// OutPoint defines a data type that is used to track previous transaction
// outputs.
type OutPoint struct {
	Hash  chainhash.Hash
	Index uint32
}

// NewOutPoint returns a new transaction outpoint point with the provided
// hash and index.
func NewOutPoint(hash *chainhash.Hash, index uint32) *OutPoint {
	return &OutPoint{
		Hash:  *hash,
		Index: index,
	}
}

// IsNull returns whether the outpoint references no previous output, which
// is the form carried by coinbase inputs.
func (o *OutPoint) IsNull() bool {
	return o.Hash == chainhash.ZeroHash
}

// TxIn defines a transaction input.
type TxIn struct {
	PreviousOutPoint OutPoint
	SignatureScript  []byte
	Sequence         uint32
}

// SerializeSize returns the number of bytes it would take to serialize the
// transaction input.
func (t *TxIn) SerializeSize() int {
	// Outpoint Hash 32 bytes + Outpoint Index 4 bytes + Sequence 4 bytes +
	// serialized varint size for the length of SignatureScript +
	// SignatureScript bytes.
	return 40 + VarIntSerializeSize(uint64(len(t.SignatureScript))) +
		len(t.SignatureScript)
}

// NewTxIn returns a new transaction input with the provided previous outpoint
// point and signature script with a default sequence of MaxTxInSequenceNum.
func NewTxIn(prevOut *OutPoint, signatureScript []byte) *TxIn {
	return &TxIn{
		PreviousOutPoint: *prevOut,
		SignatureScript:  signatureScript,
		Sequence:         MaxTxInSequenceNum,
	}
}

// TxOut defines a transaction output.
type TxOut struct {
	Value    uint64
	PkScript []byte
}

// SerializeSize returns the number of bytes it would take to serialize the
// the transaction output.
func (t *TxOut) SerializeSize() int {
	// Value 8 bytes + serialized varint size for the length of PkScript +
	// PkScript bytes.
	return 8 + VarIntSerializeSize(uint64(len(t.PkScript))) + len(t.PkScript)
}

// NewTxOut returns a new transaction output with the provided value and
// public key script.
func NewTxOut(value uint64, pkScript []byte) *TxOut {
	return &TxOut{
		Value:    value,
		PkScript: pkScript,
	}
}

// MsgTx represents a transaction message. It is used to deliver
// transaction information in response to a getdata message for a given
// transaction.
type MsgTx struct {
	Version  uint32
	TxIn     []*TxIn
	TxOut    []*TxOut
	LockTime uint32
}

// AddTxIn adds a transaction input to the message.
func (msg *MsgTx) AddTxIn(ti *TxIn) {
	msg.TxIn = append(msg.TxIn, ti)
}

// AddTxOut adds a transaction output to the message.
func (msg *MsgTx) AddTxOut(to *TxOut) {
	msg.TxOut = append(msg.TxOut, to)
}

// TxHash generates the hash for the transaction.
func (msg *MsgTx) TxHash() chainhash.Hash {
	// Encode the transaction and calculate double sha256 on the result.
	// Ignore the error returns since the only way the encode could fail
	// is being out of memory or due to nil pointers, both of which would
	// cause a run-time panic.
	buf := bytes.NewBuffer(make([]byte, 0, msg.SerializeSize()))
	_ = msg.Serialize(buf)
	return chainhash.DoubleHashH(buf.Bytes())
}

// IsCoinBase determines whether or not the transaction is a coinbase. A
// coinbase is a special transaction created by miners that has exactly one
// input whose previous output references the zero hash.
func (msg *MsgTx) IsCoinBase() bool {
	if len(msg.TxIn) != 1 {
		return false
	}

	return msg.TxIn[0].PreviousOutPoint.IsNull()
}

// Copy creates a deep copy of a transaction so that the original does not get
// modified when the copy is manipulated.
func (msg *MsgTx) Copy() *MsgTx {
	newTx := MsgTx{
		Version:  msg.Version,
		TxIn:     make([]*TxIn, 0, len(msg.TxIn)),
		TxOut:    make([]*TxOut, 0, len(msg.TxOut)),
		LockTime: msg.LockTime,
	}

	for _, oldTxIn := range msg.TxIn {
		newScript := make([]byte, len(oldTxIn.SignatureScript))
		copy(newScript, oldTxIn.SignatureScript)
		newTx.TxIn = append(newTx.TxIn, &TxIn{
			PreviousOutPoint: oldTxIn.PreviousOutPoint,
			SignatureScript:  newScript,
			Sequence:         oldTxIn.Sequence,
		})
	}

	for _, oldTxOut := range msg.TxOut {
		newScript := make([]byte, len(oldTxOut.PkScript))
		copy(newScript, oldTxOut.PkScript)
		newTx.TxOut = append(newTx.TxOut, &TxOut{
			Value:    oldTxOut.Value,
			PkScript: newScript,
		})
	}

	return &newTx
}

// Deserialize decodes a transaction from r into the receiver.
func (msg *MsgTx) Deserialize(r io.Reader) error {
	var err error
	if msg.Version, err = readUint32(r); err != nil {
		return err
	}

	count, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > maxTxPerBlock {
		return errors.Errorf("too many input transactions to fit into "+
			"max message size [count %d, max %d]", count, maxTxPerBlock)
	}

	msg.TxIn = make([]*TxIn, count)
	for i := uint64(0); i < count; i++ {
		ti := TxIn{}
		if err := readTxIn(r, &ti); err != nil {
			return err
		}
		msg.TxIn[i] = &ti
	}

	count, err = ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > maxTxPerBlock {
		return errors.Errorf("too many output transactions to fit into "+
			"max message size [count %d, max %d]", count, maxTxPerBlock)
	}

	msg.TxOut = make([]*TxOut, count)
	for i := uint64(0); i < count; i++ {
		to := TxOut{}
		if err := readTxOut(r, &to); err != nil {
			return err
		}
		msg.TxOut[i] = &to
	}

	msg.LockTime, err = readUint32(r)
	return err
}

// Serialize encodes the transaction to w.
func (msg *MsgTx) Serialize(w io.Writer) error {
	if err := writeUint32(w, msg.Version); err != nil {
		return err
	}

	if err := WriteVarInt(w, uint64(len(msg.TxIn))); err != nil {
		return err
	}
	for _, ti := range msg.TxIn {
		if err := writeTxIn(w, ti); err != nil {
			return err
		}
	}

	if err := WriteVarInt(w, uint64(len(msg.TxOut))); err != nil {
		return err
	}
	for _, to := range msg.TxOut {
		if err := writeTxOut(w, to); err != nil {
			return err
		}
	}

	return writeUint32(w, msg.LockTime)
}

// SerializeSize returns the number of bytes it would take to serialize the
// the transaction.
func (msg *MsgTx) SerializeSize() int {
	// Version 4 bytes + LockTime 4 bytes + serialized varint size for the
	// number of transaction inputs and outputs.
	n := 8 + VarIntSerializeSize(uint64(len(msg.TxIn))) +
		VarIntSerializeSize(uint64(len(msg.TxOut)))

	for _, txIn := range msg.TxIn {
		n += txIn.SerializeSize()
	}

	for _, txOut := range msg.TxOut {
		n += txOut.SerializeSize()
	}

	return n
}

// TotalOutputValue returns the sum of the values of all outputs.
func (msg *MsgTx) TotalOutputValue() uint64 {
	var total uint64
	for _, txOut := range msg.TxOut {
		total += txOut.Value
	}
	return total
}

// IsFinal determines whether or not the transaction is finalized at the
// given height and block time. A lock time of zero means the transaction is
// finalized; otherwise the lock time field is compared against the height or
// timestamp depending on whether it is under the lock time threshold. A
// transaction whose lock time has not occurred is still final when every
// input has a maxed-out sequence number.
func (msg *MsgTx) IsFinal(blockHeight uint64, blockTime uint32) bool {
	if msg.LockTime == 0 {
		return true
	}

	var blockTimeOrHeight uint64
	if msg.LockTime < LockTimeThreshold {
		blockTimeOrHeight = blockHeight
	} else {
		blockTimeOrHeight = uint64(blockTime)
	}
	if uint64(msg.LockTime) < blockTimeOrHeight {
		return true
	}

	for _, txIn := range msg.TxIn {
		if txIn.Sequence != MaxTxInSequenceNum {
			return false
		}
	}
	return true
}

// LockTimeThreshold is the number below which a lock time is interpreted to
// be a block height, at or above which it is interpreted to be a unix
// timestamp.
const LockTimeThreshold = 500000000 // Tue Nov 5 00:53:20 1985 UTC

// NewMsgTx returns a new tx message with the given version.
func NewMsgTx(version uint32) *MsgTx {
	return &MsgTx{
		Version: version,
		TxIn:    make([]*TxIn, 0, 8),
		TxOut:   make([]*TxOut, 0, 8),
	}
}

// readOutPoint reads the next sequence of bytes from r as an OutPoint.
func readOutPoint(r io.Reader, op *OutPoint) error {
	if err := readHash(r, &op.Hash); err != nil {
		return err
	}

	var err error
	op.Index, err = readUint32(r)
	return err
}

// writeOutPoint encodes op to w.
func writeOutPoint(w io.Writer, op *OutPoint) error {
	if err := writeHash(w, &op.Hash); err != nil {
		return err
	}
	return writeUint32(w, op.Index)
}

// readTxIn reads the next sequence of bytes from r as a transaction input.
func readTxIn(r io.Reader, ti *TxIn) error {
	if err := readOutPoint(r, &ti.PreviousOutPoint); err != nil {
		return err
	}

	script, err := ReadVarBytes(r, maxScriptAllowed, "transaction input "+
		"signature script")
	if err != nil {
		return err
	}
	ti.SignatureScript = script

	ti.Sequence, err = readUint32(r)
	return err
}

// writeTxIn encodes ti to w.
func writeTxIn(w io.Writer, ti *TxIn) error {
	if err := writeOutPoint(w, &ti.PreviousOutPoint); err != nil {
		return err
	}

	if err := WriteVarBytes(w, ti.SignatureScript); err != nil {
		return err
	}

	return writeUint32(w, ti.Sequence)
}

// readTxOut reads the next sequence of bytes from r as a transaction output.
func readTxOut(r io.Reader, to *TxOut) error {
	value, err := readUint64(r)
	if err != nil {
		return err
	}
	to.Value = value

	to.PkScript, err = ReadVarBytes(r, maxScriptAllowed, "transaction "+
		"output public key script")
	return err
}

// writeTxOut encodes to to w.
func writeTxOut(w io.Writer, to *TxOut) error {
	if err := writeUint64(w, to.Value); err != nil {
		return err
	}
	return WriteVarBytes(w, to.PkScript)
}

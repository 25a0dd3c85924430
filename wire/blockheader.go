// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"io"

	"github.com/argentumnet/argentumd/util/chainhash"
)

// MaxBlockHeaderPayload is the number of bytes a block header can be.
// Version 4 bytes + PrevBlock hash + MerkleRoot hash + Timestamp 4 bytes +
// Bits 4 bytes + Nonce 4 bytes.
const MaxBlockHeaderPayload = 16 + (chainhash.HashSize * 2)

// BlockHeader defines information about a block and is used in the block
// (MsgBlock) and headers messages.
type BlockHeader struct {
	// Version of the block. This is not the same as the protocol version.
	Version uint32

	// Hash of the previous block header in the block chain.
	PrevBlock chainhash.Hash

	// Merkle tree reference to hash of all transactions for the block.
	MerkleRoot chainhash.Hash

	// Time the block was created, in seconds since the unix epoch.
	Timestamp uint32

	// Difficulty target for the block, in compact form.
	Bits uint32

	// Nonce used to generate the block.
	Nonce uint32
}

// BlockHash computes the block identifier hash for the given block header.
func (h *BlockHeader) BlockHash() chainhash.Hash {
	// Encode the header and double sha256 everything. Ignore the error
	// returns since there is no way the encode could fail except being out
	// of memory which would cause a run-time panic.
	buf := bytes.NewBuffer(make([]byte, 0, MaxBlockHeaderPayload))
	_ = writeBlockHeader(buf, h)

	return chainhash.DoubleHashH(buf.Bytes())
}

// Deserialize decodes a block header from r into the receiver.
func (h *BlockHeader) Deserialize(r io.Reader) error {
	return readBlockHeader(r, h)
}

// Serialize encodes a block header from the receiver to w.
func (h *BlockHeader) Serialize(w io.Writer) error {
	return writeBlockHeader(w, h)
}

// SerializeSize returns the number of bytes it would take to serialize the
// block header.
func (h *BlockHeader) SerializeSize() int {
	return MaxBlockHeaderPayload
}

// NewBlockHeader returns a new BlockHeader using the provided version,
// previous block hash, merkle root hash, timestamp, difficulty bits, and
// nonce.
func NewBlockHeader(version uint32, prevBlock, merkleRoot *chainhash.Hash,
	timestamp, bits, nonce uint32) *BlockHeader {

	return &BlockHeader{
		Version:    version,
		PrevBlock:  *prevBlock,
		MerkleRoot: *merkleRoot,
		Timestamp:  timestamp,
		Bits:       bits,
		Nonce:      nonce,
	}
}

// readBlockHeader reads a block header from r.
func readBlockHeader(r io.Reader, bh *BlockHeader) error {
	var err error
	if bh.Version, err = readUint32(r); err != nil {
		return err
	}
	if err = readHash(r, &bh.PrevBlock); err != nil {
		return err
	}
	if err = readHash(r, &bh.MerkleRoot); err != nil {
		return err
	}
	if bh.Timestamp, err = readUint32(r); err != nil {
		return err
	}
	if bh.Bits, err = readUint32(r); err != nil {
		return err
	}
	bh.Nonce, err = readUint32(r)
	return err
}

// writeBlockHeader writes a block header to w.
func writeBlockHeader(w io.Writer, bh *BlockHeader) error {
	if err := writeUint32(w, bh.Version); err != nil {
		return err
	}
	if err := writeHash(w, &bh.PrevBlock); err != nil {
		return err
	}
	if err := writeHash(w, &bh.MerkleRoot); err != nil {
		return err
	}
	if err := writeUint32(w, bh.Timestamp); err != nil {
		return err
	}
	if err := writeUint32(w, bh.Bits); err != nil {
		return err
	}
	return writeUint32(w, bh.Nonce)
}

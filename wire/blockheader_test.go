// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/argentumnet/argentumd/util/chainhash"
)

// mainNetGenesisHeader is the header of the main network genesis block,
// spelled out so the serialization and hashing tests do not depend on any
// other package.
var mainNetGenesisHeader = BlockHeader{
	Version:    1,
	PrevBlock:  chainhash.Hash{},
	MerkleRoot: mustHash("4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"),
	Timestamp:  0x495fab29,
	Bits:       0x1d00ffff,
	Nonce:      0x7c2bac1d,
}

func mustHash(s string) chainhash.Hash {
	hash, err := chainhash.NewHashFromStr(s)
	if err != nil {
		panic(err)
	}
	return *hash
}

// TestBlockHeaderSerializeSize checks the fixed 80 byte wire size.
func TestBlockHeaderSerializeSize(t *testing.T) {
	header := mainNetGenesisHeader

	if size := header.SerializeSize(); size != 80 {
		t.Fatalf("header serialize size: got %d, want 80", size)
	}

	var buf bytes.Buffer
	if err := header.Serialize(&buf); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if buf.Len() != 80 {
		t.Fatalf("serialized length: got %d, want 80", buf.Len())
	}
}

// TestBlockHeaderRoundTrip serializes and deserializes a header and
// requires an identical result.
func TestBlockHeaderRoundTrip(t *testing.T) {
	header := mainNetGenesisHeader

	var buf bytes.Buffer
	if err := header.Serialize(&buf); err != nil {
		t.Fatalf("serialize: %v", err)
	}

	var decoded BlockHeader
	if err := decoded.Deserialize(&buf); err != nil {
		t.Fatalf("deserialize: %v", err)
	}

	if decoded != header {
		t.Fatalf("round trip mismatch:\n%v\n%v", spew.Sdump(decoded),
			spew.Sdump(header))
	}
}

// TestBlockHash checks that the header hash is the double sha256 of its
// serialization by validating the known genesis hash.
func TestBlockHash(t *testing.T) {
	wantHash := mustHash("000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f")

	header := mainNetGenesisHeader
	if got := header.BlockHash(); got != wantHash {
		t.Fatalf("genesis hash mismatch: got %s, want %s", got, wantHash)
	}

	// The hash must equal a manual double sha256 of the serialization.
	var buf bytes.Buffer
	if err := header.Serialize(&buf); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if got := chainhash.DoubleHashH(buf.Bytes()); got != wantHash {
		t.Fatalf("double hash mismatch: got %s, want %s", got, wantHash)
	}
}

// TestBlockHeaderTruncated requires a decode error on short input.
func TestBlockHeaderTruncated(t *testing.T) {
	var buf bytes.Buffer
	if err := mainNetGenesisHeader.Serialize(&buf); err != nil {
		t.Fatalf("serialize: %v", err)
	}

	short := buf.Bytes()[:79]
	var decoded BlockHeader
	if err := decoded.Deserialize(bytes.NewReader(short)); err == nil {
		t.Fatal("expected a decode error on truncated input")
	}
}

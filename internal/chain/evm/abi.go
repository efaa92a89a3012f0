package evm

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Minimal ABI helpers for the ChatOracle contract surface. Only the shapes
// the contract actually uses are supported: static address/uint256 words,
// dynamic strings and bytes, and arrays of (string,string) tuples.

const wordSize = 32

func keccak(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

// selector returns the 4-byte function selector for a canonical signature,
// hex-encoded with the 0x prefix.
func selector(signature string) string {
	return "0x" + hex.EncodeToString(keccak([]byte(signature))[:4])
}

// eventTopic returns the topic0 hash for a canonical event signature.
func eventTopic(signature string) string {
	return "0x" + hex.EncodeToString(keccak([]byte(signature)))
}

func hexToBytes(s string) ([]byte, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex value")
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode hex: %w", err)
	}
	return b, nil
}

func bytesToHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

func padWord(b []byte) []byte {
	if len(b) >= wordSize {
		return b[len(b)-wordSize:]
	}
	out := make([]byte, wordSize)
	copy(out[wordSize-len(b):], b)
	return out
}

func encodeAddress(addr string) ([]byte, error) {
	b, err := hexToBytes(addr)
	if err != nil {
		return nil, fmt.Errorf("encode address %q: %w", addr, err)
	}
	if len(b) != 20 {
		return nil, fmt.Errorf("encode address %q: want 20 bytes, got %d", addr, len(b))
	}
	return padWord(b), nil
}

func encodeUint64(v uint64) []byte {
	return padWord(new(big.Int).SetUint64(v).Bytes())
}

func encodeOffset(v int) []byte {
	return padWord(big.NewInt(int64(v)).Bytes())
}

// encodeDynamicBytes produces the tail encoding of a dynamic bytes/string
// value: length word followed by right-padded content.
func encodeDynamicBytes(data []byte) []byte {
	padded := (len(data) + wordSize - 1) / wordSize * wordSize
	out := make([]byte, wordSize+padded)
	copy(out, encodeOffset(len(data)))
	copy(out[wordSize:], data)
	return out
}

func wordAt(data []byte, offset int) ([]byte, error) {
	if offset < 0 || offset+wordSize > len(data) {
		return nil, fmt.Errorf("abi: word at %d out of range (len %d)", offset, len(data))
	}
	return data[offset : offset+wordSize], nil
}

func decodeUintWord(data []byte, offset int) (*big.Int, error) {
	word, err := wordAt(data, offset)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(word), nil
}

func decodeUint64Word(data []byte, offset int) (uint64, error) {
	v, err := decodeUintWord(data, offset)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("abi: value at %d exceeds uint64", offset)
	}
	return v.Uint64(), nil
}

// decodeOffsetWord reads a dynamic-data offset and bounds-checks it against
// the buffer so malformed payloads fail decode instead of panicking.
func decodeOffsetWord(data []byte, offset int) (int, error) {
	v, err := decodeUintWord(data, offset)
	if err != nil {
		return 0, err
	}
	if !v.IsInt64() || v.Int64() < 0 || v.Int64() > int64(len(data)) {
		return 0, fmt.Errorf("abi: offset at %d out of range", offset)
	}
	return int(v.Int64()), nil
}

// decodeString decodes a dynamic string whose length word starts at offset.
func decodeString(data []byte, offset int) (string, error) {
	length, err := decodeUint64Word(data, offset)
	if err != nil {
		return "", err
	}
	start := offset + wordSize
	end := start + int(length)
	if length > uint64(len(data)) || end > len(data) {
		return "", fmt.Errorf("abi: string at %d overruns buffer", offset)
	}
	return string(data[start:end]), nil
}

// decodeSingleString decodes return data or event data holding exactly one
// dynamic string: a head offset word followed by the string tail.
func decodeSingleString(data []byte) (string, error) {
	offset, err := decodeOffsetWord(data, 0)
	if err != nil {
		return "", err
	}
	return decodeString(data, offset)
}

// decodeConversation decodes `tuple(string,string)[]` return data.
func decodeConversation(data []byte) ([][2]string, error) {
	arrayOffset, err := decodeOffsetWord(data, 0)
	if err != nil {
		return nil, err
	}

	length, err := decodeUint64Word(data, arrayOffset)
	if err != nil {
		return nil, err
	}
	// Each element needs at least one offset word; reject absurd lengths
	// before allocating.
	if length > uint64(len(data)/wordSize) {
		return nil, fmt.Errorf("abi: conversation length %d exceeds payload", length)
	}

	elemBase := arrayOffset + wordSize
	entries := make([][2]string, 0, length)
	for i := 0; i < int(length); i++ {
		elemOffset, err := decodeOffsetWord(data, elemBase+i*wordSize)
		if err != nil {
			return nil, fmt.Errorf("abi: conversation element %d: %w", i, err)
		}
		tupleStart := elemBase + elemOffset
		if tupleStart > len(data) {
			return nil, fmt.Errorf("abi: conversation element %d out of range", i)
		}

		var pair [2]string
		for j := 0; j < 2; j++ {
			fieldOffset, err := decodeOffsetWord(data[tupleStart:], j*wordSize)
			if err != nil {
				return nil, fmt.Errorf("abi: conversation element %d field %d: %w", i, j, err)
			}
			s, err := decodeString(data[tupleStart:], fieldOffset)
			if err != nil {
				return nil, fmt.Errorf("abi: conversation element %d field %d: %w", i, j, err)
			}
			pair[j] = s
		}
		entries = append(entries, pair)
	}
	return entries, nil
}

package internal

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dCall/lib/db"
)

// CommandType defines the possible operations for the state machine.
type CommandType uint8

const (
	CommandTSet            CommandType = iota // Insert or update an entry.
	CommandTSetE                              // Insert or update an entry with a ttl.
	CommandTSetIfUnset                        // Insert an entry if it does not exist.
	CommandTCompareAndSwap                    // Replace the value of an entry if it matches Expected.
	CommandTDelete                            // Delete an entry.
	CommandTFlush                             // Delete all entries.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTSet:
		return "Set"
	case CommandTSetE:
		return "SetE"
	case CommandTSetIfUnset:
		return "SetIfUnset"
	case CommandTCompareAndSwap:
		return "CompareAndSwap"
	case CommandTDelete:
		return "Delete"
	case CommandTFlush:
		return "Flush"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// ToDBFeature converts a CommandType to the corresponding db.Feature.
// This can be used for checking if the database supports a certain operation.
func (ct CommandType) ToDBFeature() (db.Feature, error) {
	switch ct {
	case CommandTSet:
		return db.FeatureSet, nil
	case CommandTSetE:
		return db.FeatureSetE, nil
	case CommandTSetIfUnset:
		return db.FeatureSetEIfUnset, nil
	case CommandTCompareAndSwap:
		return db.FeatureCompareAndSwap, nil
	case CommandTDelete:
		return db.FeatureDelete, nil
	case CommandTFlush:
		return db.FeatureFlush, nil
	default:
		return 0, fmt.Errorf("unknown command type %d", ct)
	}
}

// Conditional reports whether the command reports success as a boolean
func (ct CommandType) Conditional() bool {
	return ct == CommandTSetIfUnset || ct == CommandTCompareAndSwap
}

// Command represents a command to be executed by the state machine (a single entry in the raft log)
type Command struct {
	Type     CommandType
	Now      int64 // Proposer time in unix nanos, the logical time of the write
	TTL      int64 // Nanoseconds, 0 = no expiry
	Key      string
	Expected []byte // Only used by CompareAndSwap
	Value    []byte
}

const headerSize = 1 + 8 + 8 + 4 // Type + Now + TTL + KeyLen

// SizeBytes returns the exact number of bytes needed to serialize this command
func (command *Command) SizeBytes() int {
	return headerSize + len(command.Key) + 4 + len(command.Expected) + len(command.Value)
}

// Serialize serializes a command into a byte array with the format:
// 1 byte for operation type,
// 8 bytes for now,
// 8 bytes for ttl,
// 4 bytes for key length, N bytes key,
// 4 bytes for expected length, M bytes expected,
// remaining bytes value.
// All integers are big endian.
func (command *Command) Serialize() []byte {
	result := make([]byte, command.SizeBytes())

	result[0] = byte(command.Type)
	binary.BigEndian.PutUint64(result[1:9], uint64(command.Now))
	binary.BigEndian.PutUint64(result[9:17], uint64(command.TTL))
	binary.BigEndian.PutUint32(result[17:21], uint32(len(command.Key)))

	pos := headerSize
	pos += copy(result[pos:], command.Key)
	binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(command.Expected)))
	pos += 4
	pos += copy(result[pos:], command.Expected)
	copy(result[pos:], command.Value)

	return result
}

// Deserialize extracts all Command fields from a byte array.
func (command *Command) Deserialize(data []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("data too short for command")
	}

	command.Type = CommandType(data[0])
	command.Now = int64(binary.BigEndian.Uint64(data[1:9]))
	command.TTL = int64(binary.BigEndian.Uint64(data[9:17]))

	keyLen := int(binary.BigEndian.Uint32(data[17:21]))
	pos := headerSize
	if len(data) < pos+keyLen+4 {
		return fmt.Errorf("data too short for key of length %d", keyLen)
	}
	command.Key = string(data[pos : pos+keyLen])
	pos += keyLen

	expectedLen := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if len(data) < pos+expectedLen {
		return fmt.Errorf("data too short for expected value of length %d", expectedLen)
	}
	command.Expected = reuse(command.Expected, data[pos:pos+expectedLen])
	pos += expectedLen

	command.Value = reuse(command.Value, data[pos:])
	return nil
}

// reuse copies src into dst, growing dst only when needed
func reuse(dst, src []byte) []byte {
	if len(src) == 0 {
		return nil
	}
	if cap(dst) < len(src) {
		dst = make([]byte, len(src))
	} else {
		dst = dst[:len(src)]
	}
	copy(dst, src)
	return dst
}

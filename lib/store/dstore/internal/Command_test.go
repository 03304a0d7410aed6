package internal

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

// TestSizeBytes tests the SizeBytes method
func TestSizeBytes(t *testing.T) {
	tests := []struct {
		name     string
		command  Command
		expected int
	}{
		{
			name: "Command with key and value",
			command: Command{
				Type:  CommandTSetE,
				Key:   "testkey",
				Now:   100,
				TTL:   200,
				Value: []byte("testvalue"),
			},
			expected: headerSize + 7 + 4 + 9,
		},
		{
			name: "Compare and swap",
			command: Command{
				Type:     CommandTCompareAndSwap,
				Key:      "k",
				Expected: []byte("1"),
				Value:    []byte("2"),
			},
			expected: headerSize + 1 + 4 + 1 + 1,
		},
		{
			name:     "Flush",
			command:  Command{Type: CommandTFlush},
			expected: headerSize + 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size := tt.command.SizeBytes()
			if size != tt.expected {
				t.Errorf("SizeBytes() = %v, want %v", size, tt.expected)
			}
		})
	}
}

// TestSerializeDeserialize tests both Serialize and Deserialize methods
func TestSerializeDeserialize(t *testing.T) {
	tests := []struct {
		name    string
		command Command
	}{
		{
			name:    "Standard command with value",
			command: Command{Type: CommandTSetE, Key: "testkey", Now: 100, TTL: 200, Value: []byte("testvalue")},
		},
		{
			name:    "Command without value",
			command: Command{Type: CommandTDelete, Key: "testkey", Now: 100},
		},
		{
			name:    "Compare and swap",
			command: Command{Type: CommandTCompareAndSwap, Key: "v.version", Now: 1, Expected: []byte("41"), Value: []byte("42")},
		},
		{
			name:    "Command with empty key",
			command: Command{Type: CommandTSet, Key: "", Value: []byte("testvalue")},
		},
		{
			name:    "Command with large timestamps",
			command: Command{Type: CommandTSetE, Key: "testkey", Now: math.MaxInt64, TTL: math.MaxInt64, Value: []byte("v")},
		},
		{
			name:    "Command with binary value",
			command: Command{Type: CommandTSetE, Key: "binary", Value: []byte{0, 1, 2, 3, 254, 255}},
		},
		{
			name:    "Command with Unicode key",
			command: Command{Type: CommandTSetE, Key: "你好世界", Value: []byte("unicode test")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.command.Serialize()

			var newCommand Command
			if err := newCommand.Deserialize(data); err != nil {
				t.Fatalf("Deserialize() error = %v", err)
			}

			if newCommand.Type != tt.command.Type {
				t.Errorf("Type mismatch: got %v, want %v", newCommand.Type, tt.command.Type)
			}
			if newCommand.Key != tt.command.Key {
				t.Errorf("Key mismatch: got %q, want %q", newCommand.Key, tt.command.Key)
			}
			if newCommand.Now != tt.command.Now || newCommand.TTL != tt.command.TTL {
				t.Errorf("Time mismatch: got %d/%d, want %d/%d", newCommand.Now, newCommand.TTL, tt.command.Now, tt.command.TTL)
			}
			if !bytes.Equal(newCommand.Expected, tt.command.Expected) {
				t.Errorf("Expected mismatch: got %v, want %v", newCommand.Expected, tt.command.Expected)
			}
			if !bytes.Equal(newCommand.Value, tt.command.Value) {
				t.Errorf("Value mismatch: got %v, want %v", newCommand.Value, tt.command.Value)
			}
			if tt.command.SizeBytes() != len(data) {
				t.Errorf("SizeBytes() = %d, but serialized data length = %d", tt.command.SizeBytes(), len(data))
			}
		})
	}
}

// TestDeserializeErrors tests error cases in Deserialize
func TestDeserializeErrors(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expectedErr string
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectedErr: "data too short for command",
		},
		{
			name:        "Data too short (less than header)",
			data:        []byte{1, 2, 3, 4, 5},
			expectedErr: "data too short for command",
		},
		{
			name: "Invalid key length",
			data: func() []byte {
				data := make([]byte, headerSize)
				data[0] = byte(CommandTSetE)
				binary.BigEndian.PutUint32(data[17:21], 1000)
				return data
			}(),
			expectedErr: "data too short for key of length 1000",
		},
		{
			name: "Invalid expected length",
			data: func() []byte {
				data := make([]byte, headerSize+4)
				data[0] = byte(CommandTCompareAndSwap)
				binary.BigEndian.PutUint32(data[headerSize:], 50)
				return data
			}(),
			expectedErr: "data too short for expected value of length 50",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cmd Command
			err := cmd.Deserialize(tt.data)
			if err == nil {
				t.Fatalf("Expected error but got nil")
			}
			if err.Error() != tt.expectedErr {
				t.Errorf("Expected error %q, got %q", tt.expectedErr, err.Error())
			}
		})
	}
}

// TestBinaryFormat tests the exact binary format of serialized commands
func TestBinaryFormat(t *testing.T) {
	cmd := Command{
		Type:     CommandTCompareAndSwap,
		Key:      "testkey",
		Now:      12345,
		TTL:      67890,
		Expected: []byte("old"),
		Value:    []byte("testvalue"),
	}

	expected := make([]byte, cmd.SizeBytes())
	expected[0] = byte(CommandTCompareAndSwap)
	binary.BigEndian.PutUint64(expected[1:9], 12345)
	binary.BigEndian.PutUint64(expected[9:17], 67890)
	binary.BigEndian.PutUint32(expected[17:21], 7)
	copy(expected[21:28], "testkey")
	binary.BigEndian.PutUint32(expected[28:32], 3)
	copy(expected[32:35], "old")
	copy(expected[35:], "testvalue")

	if serialized := cmd.Serialize(); !bytes.Equal(serialized, expected) {
		t.Errorf("Binary format does not match:\nGot:      %v\nExpected: %v", serialized, expected)
	}
}

// TestBufferReuse tests that Deserialize reuses the value buffer when it fits
func TestBufferReuse(t *testing.T) {
	cmd := Command{Value: make([]byte, 0, 64)}
	before := &cmd.Value[:1][0]

	src := Command{Type: CommandTSet, Key: "key", Value: []byte("changed value")}
	if err := cmd.Deserialize(src.Serialize()); err != nil {
		t.Fatalf("Deserialize() error = %v", err)
	}
	if &cmd.Value[0] != before {
		t.Errorf("value buffer was reallocated although it had enough capacity")
	}
	if !bytes.Equal(cmd.Value, src.Value) {
		t.Errorf("Value not correctly deserialized: got %q", cmd.Value)
	}
}

func TestConditional(t *testing.T) {
	for ct := CommandTSet; ct <= CommandTFlush; ct++ {
		want := ct == CommandTSetIfUnset || ct == CommandTCompareAndSwap
		if ct.Conditional() != want {
			t.Errorf("%s.Conditional() = %v", ct, !want)
		}
		if _, err := ct.ToDBFeature(); err != nil {
			t.Errorf("%s has no db feature: %v", ct, err)
		}
	}
	if _, err := CommandType(99).ToDBFeature(); err == nil {
		t.Errorf("unknown command type should not map to a feature")
	}
}

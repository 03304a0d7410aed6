package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dCall/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and size
func NewBinarySerializer() IRPCSerializer {
	return binarySerializerImpl{}
}

// binarySerializerImpl writes a two byte header (type, flags) followed by the
// fields whose flag is set, in flag order. Byte fields are length prefixed
// (u32 big endian), TTL is a big endian i64.
type binarySerializerImpl struct{}

// Bit flags to indicate which optional fields are present
const (
	hasKey      byte = 1 << 0
	hasTTL      byte = 1 << 1
	hasExpected byte = 1 << 2
	hasValue    byte = 1 << 3
	hasOk       byte = 1 << 4
	hasCode     byte = 1 << 5
	hasErr      byte = 1 << 6
	hasMeta     byte = 1 << 7
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	w := writer{buf: make([]byte, b.sizeBytes(msg))}
	w.byte(byte(msg.MsgType))
	w.byte(0) // flags, set below

	var flags byte
	if msg.Key != "" {
		flags |= hasKey
		w.bytes([]byte(msg.Key))
	}
	if msg.TTL != 0 {
		flags |= hasTTL
		w.u64(uint64(msg.TTL))
	}
	if msg.Expected != nil {
		flags |= hasExpected
		w.bytes(msg.Expected)
	}
	if msg.Value != nil {
		flags |= hasValue
		w.bytes(msg.Value)
	}
	if msg.Ok {
		flags |= hasOk
		w.byte(1)
	}
	if msg.Code != 0 {
		flags |= hasCode
		w.byte(msg.Code)
	}
	if msg.Err != "" {
		flags |= hasErr
		w.bytes([]byte(msg.Err))
	}
	if msg.Meta != nil {
		flags |= hasMeta
		w.bytes(msg.Meta)
	}

	w.buf[1] = flags
	return w.buf, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	if len(data) < 2 {
		return fmt.Errorf("data too short for message header")
	}
	msg.MsgType = common.MessageType(data[0])
	flags := data[1]
	r := reader{data: data, pos: 2}

	var err error
	msg.Key = ""
	if flags&hasKey != 0 {
		var key []byte
		if key, err = r.bytes("key", nil); err != nil {
			return err
		}
		msg.Key = string(key)
	}

	msg.TTL = 0
	if flags&hasTTL != 0 {
		var ttl uint64
		if ttl, err = r.u64("ttl"); err != nil {
			return err
		}
		msg.TTL = int64(ttl)
	}

	if msg.Expected, err = r.optional(flags&hasExpected != 0, "expected", msg.Expected); err != nil {
		return err
	}
	if msg.Value, err = r.optional(flags&hasValue != 0, "value", msg.Value); err != nil {
		return err
	}

	msg.Ok = false
	if flags&hasOk != 0 {
		var ok byte
		if ok, err = r.byte("ok"); err != nil {
			return err
		}
		msg.Ok = ok != 0
	}

	msg.Code = 0
	if flags&hasCode != 0 {
		if msg.Code, err = r.byte("code"); err != nil {
			return err
		}
	}

	msg.Err = ""
	if flags&hasErr != 0 {
		var e []byte
		if e, err = r.bytes("error", nil); err != nil {
			return err
		}
		msg.Err = string(e)
	}

	if msg.Meta, err = r.optional(flags&hasMeta != 0, "meta", msg.Meta); err != nil {
		return err
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	size := 2
	if msg.Key != "" {
		size += 4 + len(msg.Key)
	}
	if msg.TTL != 0 {
		size += 8
	}
	if msg.Expected != nil {
		size += 4 + len(msg.Expected)
	}
	if msg.Value != nil {
		size += 4 + len(msg.Value)
	}
	if msg.Ok {
		size++
	}
	if msg.Code != 0 {
		size++
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}
	if msg.Meta != nil {
		size += 4 + len(msg.Meta)
	}
	return size
}

type writer struct {
	buf []byte
	pos int
}

func (w *writer) byte(v byte) {
	w.buf[w.pos] = v
	w.pos++
}

func (w *writer) u64(v uint64) {
	binary.BigEndian.PutUint64(w.buf[w.pos:], v)
	w.pos += 8
}

func (w *writer) bytes(v []byte) {
	binary.BigEndian.PutUint32(w.buf[w.pos:], uint32(len(v)))
	w.pos += 4
	w.pos += copy(w.buf[w.pos:], v)
}

type reader struct {
	data []byte
	pos  int
}

func (r *reader) byte(field string) (byte, error) {
	if r.pos+1 > len(r.data) {
		return 0, fmt.Errorf("data too short for %s", field)
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) u64(field string) (uint64, error) {
	if r.pos+8 > len(r.data) {
		return 0, fmt.Errorf("data too short for %s", field)
	}
	v := binary.BigEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

// bytes reads a length prefixed field into dst, reusing its capacity. The
// result is never nil, an empty field yields an empty slice.
func (r *reader) bytes(field string, dst []byte) ([]byte, error) {
	if r.pos+4 > len(r.data) {
		return nil, fmt.Errorf("data too short for %s length", field)
	}
	n := int(binary.BigEndian.Uint32(r.data[r.pos:]))
	r.pos += 4
	if r.pos+n > len(r.data) {
		return nil, fmt.Errorf("data too short for %s data", field)
	}
	if dst == nil || cap(dst) < n {
		dst = make([]byte, n)
	} else {
		dst = dst[:n]
	}
	r.pos += copy(dst, r.data[r.pos:r.pos+n])
	return dst, nil
}

// optional reads a byte field if present, otherwise it yields nil
func (r *reader) optional(present bool, field string, dst []byte) ([]byte, error) {
	if !present {
		return nil, nil
	}
	return r.bytes(field, dst)
}

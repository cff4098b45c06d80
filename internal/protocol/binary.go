package protocol

import (
	"encoding/binary"
	"fmt"
)

// MaxChannelNameBytes bounds binary-frame channel names.
const MaxChannelNameBytes = 4 * 1024

// BinaryFrame is one out-of-band binary delivery bypassing JSON encoding:
// a 4-byte big-endian channel-name length, the UTF-8 channel name, then
// raw payload bytes.
type BinaryFrame struct {
	Channel string
	Payload []byte
}

func EncodeBinaryFrame(f BinaryFrame) ([]byte, error) {
	nameLen := len(f.Channel)
	if nameLen > MaxChannelNameBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrChannelNameTooLong, nameLen)
	}
	buf := make([]byte, 4+nameLen+len(f.Payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(nameLen))
	copy(buf[4:], f.Channel)
	copy(buf[4+nameLen:], f.Payload)
	return buf, nil
}

func DecodeBinaryFrame(raw []byte) (BinaryFrame, error) {
	if len(raw) < 4 {
		return BinaryFrame{}, fmt.Errorf("%w: short binary header", ErrTruncated)
	}
	nameLen := binary.BigEndian.Uint32(raw[0:4])
	if nameLen > MaxChannelNameBytes {
		return BinaryFrame{}, fmt.Errorf("%w: %d bytes", ErrChannelNameTooLong, nameLen)
	}
	if uint32(len(raw)-4) < nameLen {
		return BinaryFrame{}, fmt.Errorf("%w: channel name exceeds frame", ErrTruncated)
	}
	return BinaryFrame{
		Channel: string(raw[4 : 4+nameLen]),
		Payload: raw[4+nameLen:],
	}, nil
}

package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrNeedMore means data holds the start of a block but not all of it.
	ErrNeedMore = errors.New("incomplete message block")

	// ErrBadFrame means the leading block is corrupt; the caller should
	// resynchronize on the next sync byte.
	ErrBadFrame = errors.New("corrupt message block")
)

// EncodeFrame wraps payload in a message block with the given sequence byte.
func EncodeFrame(seq uint8, payload []byte) ([]byte, error) {
	msgLen := MessageLengthMin + len(payload)
	if msgLen > MessageLengthMax {
		return nil, fmt.Errorf("message too long: %d bytes (max %d)", msgLen, MessageLengthMax)
	}

	msg := make([]byte, 0, msgLen)
	msg = append(msg, uint8(msgLen), seq)
	msg = append(msg, payload...)
	crc := CRC16(msg)
	msg = append(msg, uint8(crc>>8), uint8(crc), MessageValueSync)
	return msg, nil
}

// ParseFrame decodes the block at the start of data and reports how many
// bytes it used. Leading sync bytes are skipped.
func ParseFrame(data []byte) (*Message, int, error) {
	skipped := 0
	for skipped < len(data) && data[skipped] == MessageValueSync {
		skipped++
	}
	data = data[skipped:]

	if len(data) < MessageLengthMin {
		return nil, skipped, ErrNeedMore
	}

	msgLen := int(data[MessagePositionLen])
	if msgLen < MessageLengthMin || msgLen > MessageLengthMax {
		return nil, skipped, ErrBadFrame
	}
	if len(data) < msgLen {
		return nil, skipped, ErrNeedMore
	}
	if data[msgLen-MessageTrailerSync] != MessageValueSync {
		return nil, skipped, ErrBadFrame
	}

	frameCRC := uint16(data[msgLen-MessageTrailerCRC])<<8 | uint16(data[msgLen-MessageTrailerCRC+1])
	if frameCRC != CRC16(data[:msgLen-MessageTrailerSize]) {
		return nil, skipped, ErrBadFrame
	}

	payload := make([]byte, msgLen-MessageLengthMin)
	copy(payload, data[MessageHeaderSize:msgLen-MessageTrailerSize])

	return &Message{
		Length:   uint8(msgLen),
		Sequence: data[MessagePositionSeq],
		Payload:  payload,
		CRC:      frameCRC,
	}, skipped + msgLen, nil
}

// Resync returns the number of bytes to drop so that data starts just past
// the next sync byte, or len(data) if there is none.
func Resync(data []byte) int {
	for i, b := range data {
		if b == MessageValueSync {
			return i + 1
		}
	}
	return len(data)
}

package protocol

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// ErrTransportClosed is returned by calls made after Close.
var ErrTransportClosed = errors.New("transport stopped")

// HostTransport handles the Klipper protocol from the host side:
// it frames commands, waits for the MCU acknowledgement and queues
// response messages for the caller.
type HostTransport struct {
	port io.ReadWriteCloser

	// Serializes SendCommand calls so each waits for its own ACK
	sendMutex sync.Mutex
	seq       uint8 // sequence of the next outgoing block (0x10-0x1F)

	// Sequence numbers carried by every block from the MCU
	ackChan chan uint8

	// Blocks with a payload
	responseChan chan *Message

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewHostTransport creates a new host-side transport and starts its reader
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:         port,
		seq:          MessageDest,
		ackChan:      make(chan uint8, 16),
		responseChan: make(chan *Message, 16),
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}

	go t.readLoop()

	return t
}

// SendCommand sends a command to the MCU and waits for ACK
func (t *HostTransport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	return t.SendCommandWithTimeout(cmdID, args, 2*time.Second)
}

// SendCommandWithTimeout sends a command with a custom timeout
func (t *HostTransport) SendCommandWithTimeout(cmdID uint16, args func(output OutputBuffer), timeout time.Duration) error {
	scratch := NewScratchOutput()
	EncodeVLQUint(scratch, uint32(cmdID))
	if args != nil {
		args(scratch)
	}
	if scratch.Overflowed() {
		return fmt.Errorf("command %d: arguments exceed %d byte message", cmdID, MessageLengthMax)
	}

	t.sendMutex.Lock()
	defer t.sendMutex.Unlock()

	msg, err := EncodeFrame(t.seq, scratch.Result())
	if err != nil {
		return fmt.Errorf("failed to build command: %w", err)
	}

	if err := t.writeMessage(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	next := NextSequence(t.seq)
	if err := t.waitForAck(next, timeout); err != nil {
		return fmt.Errorf("ACK timeout or error: %w", err)
	}
	t.seq = next

	return nil
}

// writeMessage sends a message to the serial port
func (t *HostTransport) writeMessage(msg []byte) error {
	n, err := t.port.Write(msg)
	if err != nil {
		return err
	}
	if n != len(msg) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(msg))
	}
	return nil
}

// waitForAck waits until a block carrying the expected sequence arrives.
// Stale sequence numbers from earlier exchanges are skipped.
func (t *HostTransport) waitForAck(expected uint8, timeout time.Duration) error {
	deadline := time.After(timeout)
	for {
		select {
		case seq := <-t.ackChan:
			if seq == expected {
				return nil
			}

		case <-deadline:
			return fmt.Errorf("no ACK for sequence 0x%02x after %v", expected, timeout)

		case <-t.stopChan:
			return ErrTransportClosed
		}
	}
}

// ReceiveResponse receives a response message with timeout
func (t *HostTransport) ReceiveResponse(timeout time.Duration) (*Message, error) {
	select {
	case resp := <-t.responseChan:
		return resp, nil

	case <-time.After(timeout):
		return nil, fmt.Errorf("response timeout after %v", timeout)

	case <-t.stopChan:
		return nil, ErrTransportClosed
	}
}

// ReceiveCommand waits for a response whose command ID is cmdID and
// returns its arguments. Other responses are discarded.
func (t *HostTransport) ReceiveCommand(cmdID uint16, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("no response %d within %v", cmdID, timeout)
		}
		msg, err := t.ReceiveResponse(remaining)
		if err != nil {
			return nil, err
		}
		args := msg.Payload
		id, err := DecodeVLQUint(&args)
		if err != nil {
			continue
		}
		if uint16(id) == cmdID {
			return args, nil
		}
	}
}

// Drain discards queued responses
func (t *HostTransport) Drain() {
	for {
		select {
		case <-t.responseChan:
		default:
			return
		}
	}
}

// readLoop continuously reads from serial port and processes messages
func (t *HostTransport) readLoop() {
	defer close(t.doneChan)

	var pending []byte
	buffer := make([]byte, 256)

	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		n, err := t.port.Read(buffer)
		if n > 0 {
			pending = append(pending, buffer[:n]...)
			pending = t.processMessages(pending)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// processMessages dispatches every complete block in data and returns the
// unconsumed tail
func (t *HostTransport) processMessages(data []byte) []byte {
	for len(data) > 0 {
		msg, used, err := ParseFrame(data)
		switch {
		case errors.Is(err, ErrNeedMore):
			return data[used:]
		case err != nil:
			data = data[used:]
			data = data[Resync(data):]
		default:
			data = data[used:]
			t.dispatchMessage(msg)
		}
	}
	return data
}

// dispatchMessage routes a message to the appropriate channel
func (t *HostTransport) dispatchMessage(msg *Message) {
	select {
	case t.ackChan <- msg.Sequence:
	default:
	}

	if len(msg.Payload) == 0 {
		return
	}

	select {
	case t.responseChan <- msg:
	default:
		// Response channel full, drop oldest
		select {
		case <-t.responseChan:
		default:
		}
		t.responseChan <- msg
	}
}

// Close stops the transport and closes the serial port
func (t *HostTransport) Close() error {
	var err error
	t.stopOnce.Do(func() {
		close(t.stopChan)
		if t.port != nil {
			err = t.port.Close()
		}
		<-t.doneChan
	})
	return err
}

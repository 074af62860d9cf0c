package amqp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
)

// MethodFrame is a method frame addressed to one channel.
type MethodFrame struct {
	Channel uint16
	Method  Method
}

func (f MethodFrame) ClassID() uint16 {
	c, _ := f.Method.ClassMethod()
	return c
}

func (f MethodFrame) MethodID() uint16 {
	_, m := f.Method.ClassMethod()
	return m
}

// HeaderFrame is a content header frame.
type HeaderFrame struct {
	Channel    uint16
	ClassID    uint16
	BodySize   uint64
	Properties *BasicProperties
}

// BodyFrame carries one slice of a content body.
type BodyFrame struct {
	Channel uint16
	Payload []byte
}

type Heartbeat struct{}

// Message is a fully assembled content: method, properties and body.
type Message struct {
	Body       []byte
	Properties BasicProperties
}

// FormatMethodFrame serialises a method frame.
func (f MethodFrame) FormatMethodFrame() []byte {
	var payloadBuf bytes.Buffer
	class, method := f.Method.ClassMethod()

	_ = binary.Write(&payloadBuf, binary.BigEndian, class) // Error ignored as bytes.Buffer.Write never fails
	_ = binary.Write(&payloadBuf, binary.BigEndian, method)
	payloadBuf.Write(formatMethodPayload(f.Method.Content()))

	return formatFrame(TYPE_METHOD, f.Channel, payloadBuf.Bytes())
}

// CreateMethodFrame is shorthand for MethodFrame{...}.FormatMethodFrame().
func CreateMethodFrame(channel uint16, m Method) []byte {
	return MethodFrame{Channel: channel, Method: m}.FormatMethodFrame()
}

// CreateHeaderFrame builds the content header that follows a publish,
// deliver, return or get-ok method.
func CreateHeaderFrame(channel, classID uint16, bodySize uint64, props BasicProperties) ([]byte, error) {
	var payloadBuf bytes.Buffer
	weight := uint16(0) // amqp-0-9-1 spec says "weight field is unused and must be zero"
	flagList, flags, err := props.encodeBasicProperties()
	if err != nil {
		return nil, err
	}

	_ = binary.Write(&payloadBuf, binary.BigEndian, classID)
	_ = binary.Write(&payloadBuf, binary.BigEndian, weight)
	_ = binary.Write(&payloadBuf, binary.BigEndian, bodySize)
	_ = binary.Write(&payloadBuf, binary.BigEndian, flags)
	payloadBuf.Write(flagList)

	return formatFrame(TYPE_HEADER, channel, payloadBuf.Bytes()), nil
}

func CreateBodyFrame(channel uint16, content []byte) []byte {
	return formatFrame(TYPE_BODY, channel, content)
}

// CreateBodyFrames splits body so that no frame exceeds frameMax bytes on the
// wire. A frameMax of zero means unlimited.
func CreateBodyFrames(channel uint16, body []byte, frameMax uint32) [][]byte {
	if len(body) == 0 {
		return nil
	}
	chunk := len(body)
	if frameMax > FRAME_HEADER_SIZE+1 {
		chunk = min(chunk, int(frameMax)-FRAME_HEADER_SIZE-1)
	}
	frames := make([][]byte, 0, (len(body)+chunk-1)/chunk)
	for start := 0; start < len(body); start += chunk {
		end := min(start+chunk, len(body))
		frames = append(frames, CreateBodyFrame(channel, body[start:end]))
	}
	return frames
}

// CreateContentFrames builds the method, header and body frames of one content.
func CreateContentFrames(channel uint16, m Method, msg Message, frameMax uint32) ([][]byte, error) {
	classID, _ := m.ClassMethod()
	header, err := CreateHeaderFrame(channel, classID, uint64(len(msg.Body)), msg.Properties)
	if err != nil {
		return nil, err
	}
	frames := [][]byte{CreateMethodFrame(channel, m), header}
	return append(frames, CreateBodyFrames(channel, msg.Body, frameMax)...), nil
}

func CreateHeartbeatFrame() []byte {
	return formatFrame(TYPE_HEARTBEAT, 0, nil)
}

func formatHeader(frameType FrameType, channel uint16, payloadSize uint32) []byte {
	header := make([]byte, FRAME_HEADER_SIZE)
	header[0] = byte(frameType)
	binary.BigEndian.PutUint16(header[1:3], channel)
	binary.BigEndian.PutUint32(header[3:7], payloadSize)
	return header
}

func formatFrame(frameType FrameType, channel uint16, payload []byte) []byte {
	frame := formatHeader(frameType, channel, uint32(len(payload)))
	frame = append(frame, payload...)
	return append(frame, FRAME_END)
}

// ReadFrame reads one whole frame, header to frame-end octet.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, FRAME_HEADER_SIZE)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	payloadSize := binary.BigEndian.Uint32(header[3:7])
	frame := make([]byte, FRAME_HEADER_SIZE+int(payloadSize)+1)
	copy(frame, header)
	if _, err := io.ReadFull(r, frame[FRAME_HEADER_SIZE:]); err != nil {
		return nil, err
	}
	if frame[len(frame)-1] != FRAME_END {
		return nil, fmt.Errorf("invalid frame end octet: %#x", frame[len(frame)-1])
	}
	return frame, nil
}

func WriteFrame(w io.Writer, frame []byte) error {
	_, err := w.Write(frame)
	return err
}

// ParseFrame decodes a frame into *MethodFrame, *HeaderFrame, *BodyFrame or
// *Heartbeat.
func ParseFrame(frame []byte) (any, error) {
	if len(frame) < FRAME_HEADER_SIZE+1 {
		return nil, fmt.Errorf("frame too short")
	}

	frameType := FrameType(frame[0])
	channel := binary.BigEndian.Uint16(frame[1:3])
	payloadSize := binary.BigEndian.Uint32(frame[3:7])
	if len(frame) < FRAME_HEADER_SIZE+int(payloadSize)+1 {
		return nil, fmt.Errorf("frame too short")
	}
	if frame[FRAME_HEADER_SIZE+int(payloadSize)] != FRAME_END {
		return nil, fmt.Errorf("invalid frame end octet")
	}
	payload := frame[FRAME_HEADER_SIZE : FRAME_HEADER_SIZE+int(payloadSize)]

	switch frameType {
	case TYPE_METHOD:
		if len(payload) < 4 {
			return nil, fmt.Errorf("payload too short")
		}
		classID := binary.BigEndian.Uint16(payload[0:2])
		methodID := binary.BigEndian.Uint16(payload[2:4])
		log.Trace().Uint16("channel", channel).Str("method", MethodName(classID, methodID)).Msg("Received METHOD frame")
		m, err := parseMethodPayload(classID, methodID, payload[4:])
		if err != nil {
			return nil, fmt.Errorf("failed to parse method frame: %v", err)
		}
		return &MethodFrame{Channel: channel, Method: m}, nil

	case TYPE_HEADER:
		log.Trace().Uint16("channel", channel).Msg("Received HEADER frame")
		header, err := parseBasicHeader(payload)
		if err != nil {
			return nil, err
		}
		header.Channel = channel
		return header, nil

	case TYPE_BODY:
		log.Trace().Uint16("channel", channel).Uint32("payload_size", payloadSize).Msg("Received BODY frame")
		body := make([]byte, len(payload))
		copy(body, payload)
		return &BodyFrame{Channel: channel, Payload: body}, nil

	case TYPE_HEARTBEAT:
		log.Trace().Msg("Received HEARTBEAT frame")
		return &Heartbeat{}, nil

	default:
		return nil, fmt.Errorf("unknown frame type: %d", frameType)
	}
}

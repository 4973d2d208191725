package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"commlink/models"
)

var (
	// ErrMalformed marks a record that framed correctly but did not decode.
	// The session answers it with a wrong-parameters response and keeps going.
	ErrMalformed = errors.New("malformed record")

	ErrRecordTooLarge = errors.New("record exceeds maximum size")
	ErrBadHandshake   = errors.New("unexpected handshake byte")
)

// MaxRecordSize bounds a single framed record in either direction.
const MaxRecordSize = 16 << 20

// Ready is written by the server before the first record of a connection.
const Ready byte = 0x01

type RequestType string

const (
	Connect             RequestType = "connect"
	Disconnect          RequestType = "disconnect"
	SendMessage         RequestType = "send_message"
	PrepareSendFile     RequestType = "prepare_send_file"
	SendFile            RequestType = "send_file"
	PrepareRequestFile  RequestType = "prepare_request_file"
	RequestFile         RequestType = "request_file"
	PrepareSendAudio    RequestType = "prepare_send_audio"
	SendAudio           RequestType = "send_audio"
	PrepareRequestAudio RequestType = "prepare_request_audio"
	RequestAudio        RequestType = "request_audio"
	RequestControl      RequestType = "request_control"
	StopControl         RequestType = "stop_control"
	SendFrame           RequestType = "send_frame"
	ProvokeEvent        RequestType = "provoke_event"
)

type ResponseType string

const (
	Connected           ResponseType = "connected"
	AddUser             ResponseType = "add_user"
	RemoveUser          ResponseType = "remove_user"
	Message             ResponseType = "message"
	MessageSent         ResponseType = "message_sent"
	CanSendFile         ResponseType = "can_send_file"
	PrepareReceiveFile  ResponseType = "prepare_receive_file"
	FileChunk           ResponseType = "file_chunk"
	FileMessage         ResponseType = "file_message"
	FileSent            ResponseType = "file_sent"
	CanSendAudio        ResponseType = "can_send_audio"
	PrepareReceiveAudio ResponseType = "prepare_receive_audio"
	AudioChunk          ResponseType = "audio_chunk"
	AudioMessage        ResponseType = "audio_message"
	AudioSent           ResponseType = "audio_sent"
	ControlRequest      ResponseType = "control_request"
	EndControl          ResponseType = "end_control"
	Frame               ResponseType = "frame"
	ProvokedEvent       ResponseType = "provoke_event"
	WrongParameters     ResponseType = "wrong_parameters"
	DestinationNotFound ResponseType = "destination_not_found"
	InsufficientMemory  ResponseType = "insufficient_memory"
)

// Request is an inbound record. Content is decoded per type tag; relay
// operations forward it without looking inside.
type Request struct {
	Type        RequestType     `json:"type"`
	Destination *models.User    `json:"destination,omitempty"`
	Content     json.RawMessage `json:"content,omitempty"`
}

// Response is an outbound record. Origin is the user the response is from;
// it is empty for locally originated error responses before a connect.
type Response struct {
	Type    ResponseType    `json:"type"`
	Origin  *models.User    `json:"origin,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

// Credentials is the connect payload. The username is taken at face value.
type Credentials struct {
	Username string `json:"username"`
}

// MessageContent is the payload of a point-to-point text message.
type MessageContent struct {
	Text string `json:"text"`
}

// TransferMessage announces a completed transfer to its destination.
type TransferMessage struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Digest string `json:"digest"`
}

// NewRequest builds a request with content marshaled in place.
func NewRequest(t RequestType, content any, destination *models.User) (*Request, error) {
	raw, err := marshalContent(content)
	if err != nil {
		return nil, err
	}
	return &Request{Type: t, Destination: destination, Content: raw}, nil
}

// NewResponse builds a response with content marshaled in place.
func NewResponse(t ResponseType, content any, origin *models.User) (*Response, error) {
	raw, err := marshalContent(content)
	if err != nil {
		return nil, err
	}
	return &Response{Type: t, Origin: origin, Content: raw}, nil
}

func marshalContent(content any) (json.RawMessage, error) {
	if content == nil {
		return nil, nil
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("encoding content: %w", err)
	}
	return raw, nil
}

// Decode unmarshals the request content into v. An absent payload counts
// as malformed: every typed payload in the protocol is mandatory.
func (r *Request) Decode(v any) error {
	if len(r.Content) == 0 {
		return ErrMalformed
	}
	if err := json.Unmarshal(r.Content, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// Decode unmarshals the response content into v.
func (r *Response) Decode(v any) error {
	if len(r.Content) == 0 {
		return ErrMalformed
	}
	if err := json.Unmarshal(r.Content, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// WriteReady writes the availability byte the server sends before the loop.
func WriteReady(w io.Writer) error {
	_, err := w.Write([]byte{Ready})
	return err
}

// AwaitReady consumes the availability byte on the client side.
func AwaitReady(r io.Reader) error {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return err
	}
	if b[0] != Ready {
		return ErrBadHandshake
	}
	return nil
}

func WriteRequest(w io.Writer, req *Request) error {
	return writeRecord(w, req)
}

func WriteResponse(w io.Writer, resp *Response) error {
	return writeRecord(w, resp)
}

func ReadRequest(r io.Reader) (*Request, error) {
	req := &Request{}
	if err := readRecord(r, req); err != nil {
		return nil, err
	}
	return req, nil
}

func ReadResponse(r io.Reader) (*Response, error) {
	resp := &Response{}
	if err := readRecord(r, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// writeRecord frames v as a 4-byte big-endian length followed by JSON.
func writeRecord(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if len(data) > MaxRecordSize {
		return ErrRecordTooLarge
	}

	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	_, err = w.Write(buf)
	return err
}

// readRecord reads one framed record into v. Framing and I/O failures come
// back as they are; a JSON decode failure is reported as ErrMalformed so the
// caller can answer it without dropping the connection.
func readRecord(r io.Reader, v any) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return err
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxRecordSize {
		return ErrRecordTooLarge
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// Package wire implements the transfer-protocol envelope, its five
// message variants, length-prefix TCP framing, and the UDP discovery
// announcement format.
package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds one TCP frame payload.
const MaxFrameSize = 10 * 1024 * 1024

const (
	TypeTransferRequest  = "TransferRequest"
	TypeTransferResponse = "TransferResponse"
	TypeFileData         = "FileData"
	TypeTransferComplete = "TransferComplete"
	TypeTransferCancel   = "TransferCancel"
)

var (
	// ErrFrameTooLarge indicates a payload exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("wire: frame exceeds max size")
	// ErrInvalidMessageType indicates the "type" field is missing or unknown.
	ErrInvalidMessageType = errors.New("wire: invalid message type")
)

// Envelope carries the discriminator shared by every message variant.
type Envelope struct {
	Type       string `json:"type"`
	TransferID string `json:"transfer_id"`
}

// TransferRequest opens a new transfer.
type TransferRequest struct {
	Type       string `json:"type"`
	TransferID string `json:"transfer_id"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	FileName   string `json:"file_name"`
	FileSize   int64  `json:"file_size"`
	FileHash   string `json:"file_hash"`
}

// TransferResponse accepts or rejects a TransferRequest.
type TransferResponse struct {
	Type         string `json:"type"`
	TransferID   string `json:"transfer_id"`
	Accepted     bool   `json:"accepted"`
	ReceiverID   string `json:"receiver_id"`
	ReceiverName string `json:"receiver_name"`
	FilePath     string `json:"file_path"`
}

// FileData carries one chunk of the transferred file.
type FileData struct {
	Type        string `json:"type"`
	TransferID  string `json:"transfer_id"`
	ChunkIndex  uint32 `json:"chunk_index"`
	TotalChunks uint32 `json:"total_chunks"`
	Data        []byte `json:"data"`
}

// TransferComplete signals the sender or receiver finished its side.
type TransferComplete struct {
	Type       string `json:"type"`
	TransferID string `json:"transfer_id"`
	Success    bool   `json:"success"`
	FileHash   string `json:"file_hash"`
}

// TransferCancel aborts an in-flight transfer.
type TransferCancel struct {
	Type       string `json:"type"`
	TransferID string `json:"transfer_id"`
	Reason     string `json:"reason"`
}

// Announcement is the UDP discovery datagram broadcast by the Discovery
// Service. It is unframed: one JSON object fills one datagram.
type Announcement struct {
	Type      string `json:"type"`
	PeerID    string `json:"peerId"`
	Name      string `json:"name"`
	Port      int    `json:"port"`
	Platform  string `json:"platform"`
	Version   string `json:"version"`
	Timestamp int64  `json:"timestamp"`
}

// Encode marshals any message variant to JSON. The Data field of FileData
// is base64-encoded by encoding/json automatically ([]byte marshals as a
// base64 string), which is what lets the receiver recover exact byte
// identity for chunk payloads.
func Encode(message any) ([]byte, error) {
	payload, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("wire: encode message: %w", err)
	}
	return payload, nil
}

// DecodeInto unmarshals a decoded frame payload into a concrete message
// variant, after DecodeType has identified which one.
func DecodeInto(payload []byte, message any) error {
	if err := json.Unmarshal(payload, message); err != nil {
		return fmt.Errorf("wire: decode message: %w", err)
	}
	return nil
}

// EncodeFrame marshals message and wraps it in one length-prefixed frame,
// ready to hand to a TCP connection.
func EncodeFrame(message any) ([]byte, error) {
	payload, err := Encode(message)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeType extracts the envelope "type" discriminator from a payload.
// A missing type, or one that is not one of the five message variants,
// yields ErrInvalidMessageType.
func DecodeType(payload []byte) (string, error) {
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return "", fmt.Errorf("wire: decode envelope: %w", err)
	}
	switch envelope.Type {
	case TypeTransferRequest, TypeTransferResponse, TypeFileData, TypeTransferComplete, TypeTransferCancel:
		return envelope.Type, nil
	default:
		return "", ErrInvalidMessageType
	}
}

// WriteFrame writes one length-prefixed frame: a 4-byte big-endian length
// followed by payload.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("wire: write frame length: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("wire: read frame length: %w", err)
	}

	length := binary.BigEndian.Uint32(header)
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	if length == 0 {
		return []byte{}, nil
	}

	payload := make([]byte, int(length))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: read frame payload: %w", err)
	}
	return payload, nil
}

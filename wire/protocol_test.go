package wire

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"type":"TransferCancel","transfer_id":"abc","reason":"Canceled by user"}`)

	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %q want %q", got, payload)
	}
}

func TestWriteReadFrameEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte{}); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty payload, got %d bytes", len(got))
	}
}

func TestFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	oversized := make([]byte, MaxFrameSize+1)
	if err := WriteFrame(&buf, oversized); err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestDecodeTypeRoundTrip(t *testing.T) {
	cases := []any{
		TransferRequest{Type: TypeTransferRequest, TransferID: "t1", SenderID: "s1", FileName: "a.bin", FileSize: 10},
		TransferResponse{Type: TypeTransferResponse, TransferID: "t1", Accepted: true},
		FileData{Type: TypeFileData, TransferID: "t1", ChunkIndex: 0, TotalChunks: 1, Data: []byte("hello")},
		TransferComplete{Type: TypeTransferComplete, TransferID: "t1", Success: true, FileHash: "abc"},
		TransferCancel{Type: TypeTransferCancel, TransferID: "t1", Reason: "Canceled by user"},
	}

	for _, m := range cases {
		payload, err := Encode(m)
		if err != nil {
			t.Fatalf("Encode(%T) failed: %v", m, err)
		}

		gotType, err := DecodeType(payload)
		if err != nil {
			t.Fatalf("DecodeType(%T) failed: %v", m, err)
		}

		switch v := m.(type) {
		case TransferRequest:
			if gotType != v.Type {
				t.Fatalf("got type %q want %q", gotType, v.Type)
			}
		case TransferResponse:
			if gotType != v.Type {
				t.Fatalf("got type %q want %q", gotType, v.Type)
			}
		case FileData:
			if gotType != v.Type {
				t.Fatalf("got type %q want %q", gotType, v.Type)
			}

			var decoded FileData
			if err := json.Unmarshal(payload, &decoded); err != nil {
				t.Fatalf("unmarshal FileData: %v", err)
			}
			if !bytes.Equal(decoded.Data, v.Data) {
				t.Fatalf("data mismatch: got %q want %q", decoded.Data, v.Data)
			}
		case TransferComplete:
			if gotType != v.Type {
				t.Fatalf("got type %q want %q", gotType, v.Type)
			}
		case TransferCancel:
			if gotType != v.Type {
				t.Fatalf("got type %q want %q", gotType, v.Type)
			}
		}
	}
}

func TestDecodeTypeMissing(t *testing.T) {
	if _, err := DecodeType([]byte(`{"transfer_id":"t1"}`)); err != ErrInvalidMessageType {
		t.Fatalf("expected ErrInvalidMessageType, got %v", err)
	}
}

func TestFrameAssemblerAcrossPartialReads(t *testing.T) {
	var buf bytes.Buffer
	want := []byte(`{"type":"FileData","transfer_id":"t1","chunk_index":0,"total_chunks":2,"data":"aGVsbG8="}`)
	if err := WriteFrame(&buf, want); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	raw := buf.Bytes()
	var asm FrameAssembler
	var got [][]byte

	// Feed the stream back piecemeal to exercise partial-frame buffering.
	for i := 0; i < len(raw); i += 3 {
		end := i + 3
		if end > len(raw) {
			end = len(raw)
		}
		frames, err := asm.Feed(raw[i:end])
		if err != nil {
			t.Fatalf("Feed failed: %v", err)
		}
		got = append(got, frames...)
	}

	if len(got) != 1 {
		t.Fatalf("expected exactly 1 assembled frame, got %d", len(got))
	}
	if !bytes.Equal(got[0], want) {
		t.Fatalf("assembled frame mismatch: got %q want %q", got[0], want)
	}
}

func TestFrameAssemblerMultipleFramesInOneFeed(t *testing.T) {
	var buf bytes.Buffer
	first := []byte(`{"type":"TransferCancel","transfer_id":"a","reason":"x"}`)
	second := []byte(`{"type":"TransferCancel","transfer_id":"b","reason":"y"}`)
	if err := WriteFrame(&buf, first); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if err := WriteFrame(&buf, second); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	var asm FrameAssembler
	frames, err := asm.Feed(buf.Bytes())
	if err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if !bytes.Equal(frames[0], first) || !bytes.Equal(frames[1], second) {
		t.Fatalf("frame contents mismatch")
	}
}

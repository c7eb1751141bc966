package transfer

import (
	"fmt"
	"strings"
	"time"

	"lanxfer/crypto"
	"lanxfer/model"
	"lanxfer/wire"
)

func (m *Manager) handleTransferRequest(endpoint string, frame []byte) {
	var request wire.TransferRequest
	if err := wire.DecodeInto(frame, &request); err != nil {
		m.log.WithError(err).Debug("decode TransferRequest")
		return
	}

	decision := Decision{Accept: false}
	if m.onRequest != nil {
		decision = m.onRequest(IncomingRequest{
			TransferID: request.TransferID,
			PeerID:     request.SenderID,
			PeerName:   request.SenderName,
			FileName:   request.FileName,
			FileSize:   request.FileSize,
			FileHash:   request.FileHash,
		})
	}

	ts := &transferState{
		info: model.TransferInfo{
			ID:          request.TransferID,
			PeerID:      request.SenderID,
			PeerName:    request.SenderName,
			PeerAddress: endpoint,
			Direction:   model.DirectionIncoming,
			Status:      model.StatusWaiting,
			FilePath:    decision.FilePath,
			FileName:    request.FileName,
			FileSize:    request.FileSize,
			StartTimeMs: time.Now().UnixMilli(),
		},
		endpoint:    endpoint,
		totalChunks: chunkCount(request.FileSize),
		fileHash:    request.FileHash,
		buffer:      NewReassemblyBuffer(chunkCount(request.FileSize)),
		events:      make(chan transferEvent, 8),
		cancel:      make(chan struct{}),
	}
	m.register(ts)

	response := wire.TransferResponse{
		Type:         wire.TypeTransferResponse,
		TransferID:   request.TransferID,
		Accepted:     decision.Accept,
		ReceiverID:   m.selfID,
		ReceiverName: m.selfName,
		FilePath:     decision.FilePath,
	}
	if err := m.sendMessage(endpoint, response); err != nil {
		m.failTransfer(ts, err.Error())
		return
	}

	if !decision.Accept {
		m.updateStatus(ts, model.StatusCanceled, "Transfer rejected by user")
		return
	}

	m.updateStatus(ts, model.StatusInProgress, "")

	if request.FileSize == 0 {
		m.finalizeInboundTransfer(ts)
	}
}

func (m *Manager) handleTransferResponse(frame []byte) {
	var response wire.TransferResponse
	if err := wire.DecodeInto(frame, &response); err != nil {
		m.log.WithError(err).Debug("decode TransferResponse")
		return
	}

	ts, ok := m.lookup(response.TransferID)
	if !ok {
		return
	}
	m.deliver(ts, transferEvent{response: &response})
}

func (m *Manager) handleFileData(frame []byte) {
	var data wire.FileData
	if err := wire.DecodeInto(frame, &data); err != nil {
		m.log.WithError(err).Debug("decode FileData")
		return
	}

	ts, ok := m.lookup(data.TransferID)
	if !ok {
		return
	}

	ts.mu.Lock()
	terminal := ts.info.Status.Terminal()
	buffer := ts.buffer
	ts.mu.Unlock()
	if terminal || buffer == nil {
		return
	}

	payload := data.Data
	if password := m.activeEncryptionPassword(); password != "" {
		decrypted, err := crypto.Decrypt(data.Data, password)
		if err != nil {
			m.failTransfer(ts, fmt.Sprintf("decrypt chunk %d: %v", data.ChunkIndex, err))
			return
		}
		payload = decrypted
	}

	if err := buffer.Put(int(data.ChunkIndex), payload); err != nil {
		m.failTransfer(ts, err.Error())
		return
	}

	ts.mu.Lock()
	ts.info.BytesTransferred += int64(len(payload))
	bytesTransferred := ts.info.BytesTransferred
	ts.mu.Unlock()
	m.updateProgress(ts, bytesTransferred)
}

func (m *Manager) handleTransferComplete(frame []byte) {
	var complete wire.TransferComplete
	if err := wire.DecodeInto(frame, &complete); err != nil {
		m.log.WithError(err).Debug("decode TransferComplete")
		return
	}

	ts, ok := m.lookup(complete.TransferID)
	if !ok {
		return
	}

	ts.mu.Lock()
	terminal := ts.info.Status.Terminal()
	ts.mu.Unlock()
	if terminal {
		return
	}

	// Incoming transfers finalize locally and reply; outgoing transfers are
	// waiting on exactly this message as the receiver's final verdict.
	if ts.info.Direction == model.DirectionOutgoing {
		m.deliver(ts, transferEvent{complete: &complete})
		return
	}

	if !complete.Success {
		m.updateStatus(ts, model.StatusFailed, "sender reported failure")
		return
	}
	m.finalizeInboundTransfer(ts)
}

func (m *Manager) finalizeInboundTransfer(ts *transferState) {
	var data []byte
	if ts.buffer != nil {
		if !ts.buffer.Complete() {
			m.failTransfer(ts, "finalized before every chunk arrived")
			return
		}
		data = ts.buffer.Assemble()
	}

	computedHash := crypto.SHA256Bytes(data)
	success := ts.fileHash == "" || strings.EqualFold(computedHash, ts.fileHash)

	if success {
		if err := m.files.WriteFile(ts.info.FilePath, data, nil); err != nil {
			success = false
		}
	}

	if !success {
		m.updateStatus(ts, model.StatusFailed, "integrity verification failed")
	} else {
		m.updateStatus(ts, model.StatusCompleted, "")
	}

	_ = m.sendMessage(ts.endpoint, wire.TransferComplete{
		Type:       wire.TypeTransferComplete,
		TransferID: ts.info.ID,
		Success:    success,
		FileHash:   computedHash,
	})
}

func (m *Manager) deliver(ts *transferState, event transferEvent) {
	select {
	case ts.events <- event:
	case <-ts.cancel:
	}
}

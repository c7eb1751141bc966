package transfer

import (
	"fmt"
	"time"

	"lanxfer/crypto"
	"lanxfer/model"
	"lanxfer/wire"
)

// SendFile starts an outbound transfer to a discovered peer. It returns
// the generated transfer ID immediately; the transfer itself runs in a
// background goroutine tracked by the manager's WaitGroup.
func (m *Manager) SendFile(peerID, filePath string) (string, error) {
	peer, ok := m.peers.Peer(peerID)
	if !ok {
		return "", fmt.Errorf("transfer: peer %q not discovered", peerID)
	}

	info, err := m.files.GetFileInfo(filePath)
	if err != nil {
		return "", fmt.Errorf("transfer: stat %q: %w", filePath, err)
	}

	fileHash, err := crypto.SHA256File(filePath)
	if err != nil {
		return "", fmt.Errorf("transfer: hash %q: %w", filePath, err)
	}

	endpoint, err := m.engine.ConnectTCP(peer.IPAddress, peer.Port, m.OnTCPData, m.OnTCPStatus)
	if err != nil {
		return "", fmt.Errorf("transfer: connect to %s: %w", peer.Endpoint(), err)
	}

	transferID := newTransferID()
	ts := &transferState{
		info: model.TransferInfo{
			ID:          transferID,
			PeerID:      peerID,
			PeerName:    peer.Name,
			PeerAddress: peer.Endpoint(),
			Direction:   model.DirectionOutgoing,
			Status:      model.StatusInitializing,
			FilePath:    filePath,
			FileName:    info.Name,
			FileSize:    info.Size,
			StartTimeMs: time.Now().UnixMilli(),
		},
		endpoint:    endpoint,
		totalChunks: chunkCount(info.Size),
		fileHash:    fileHash,
		events:      make(chan transferEvent, 8),
		cancel:      make(chan struct{}),
	}
	m.register(ts)

	m.wg.Add(1)
	go m.runOutboundTransfer(ts)

	return transferID, nil
}

func (m *Manager) runOutboundTransfer(ts *transferState) {
	defer m.wg.Done()

	m.updateStatus(ts, model.StatusWaiting, "")

	if err := m.sendMessage(ts.endpoint, wire.TransferRequest{
		Type:       wire.TypeTransferRequest,
		TransferID: ts.info.ID,
		SenderID:   m.selfID,
		SenderName: m.selfName,
		FileName:   ts.info.FileName,
		FileSize:   ts.info.FileSize,
		FileHash:   ts.fileHash,
	}); err != nil {
		m.failTransfer(ts, err.Error())
		return
	}

	response, err := m.waitForResponse(ts, defaultResponseTimeout)
	if err != nil {
		m.failTransfer(ts, fmt.Sprintf("waiting for response: %v", err))
		return
	}
	if !response.Accepted {
		m.updateStatus(ts, model.StatusCanceled, "Transfer rejected by recipient")
		return
	}

	m.updateStatus(ts, model.StatusInProgress, "")

	if ts.info.FileSize == 0 {
		m.finishOutboundTransfer(ts)
		return
	}

	data, err := m.files.ReadFile(ts.info.FilePath, nil)
	if err != nil {
		m.failTransfer(ts, fmt.Sprintf("read file: %v", err))
		return
	}

	password := m.activeEncryptionPassword()
	var sent int64
	for chunkIndex := 0; chunkIndex < ts.totalChunks; chunkIndex++ {
		select {
		case <-ts.cancel:
			return
		default:
		}

		start := int64(chunkIndex) * ChunkSize
		end := start + ChunkSize
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		chunk := data[start:end]

		payload := chunk
		if password != "" {
			encrypted, err := crypto.Encrypt(chunk, password)
			if err != nil {
				m.failTransfer(ts, fmt.Sprintf("encrypt chunk %d: %v", chunkIndex, err))
				return
			}
			payload = encrypted
		}

		if err := m.sendMessage(ts.endpoint, wire.FileData{
			Type:        wire.TypeFileData,
			TransferID:  ts.info.ID,
			ChunkIndex:  uint32(chunkIndex),
			TotalChunks: uint32(ts.totalChunks),
			Data:        payload,
		}); err != nil {
			m.failTransfer(ts, fmt.Sprintf("send chunk %d: %v", chunkIndex, err))
			return
		}

		sent += end - start
		m.updateProgress(ts, sent)
	}

	m.finishOutboundTransfer(ts)
}

func (m *Manager) finishOutboundTransfer(ts *transferState) {
	if err := m.sendMessage(ts.endpoint, wire.TransferComplete{
		Type:       wire.TypeTransferComplete,
		TransferID: ts.info.ID,
		Success:    true,
		FileHash:   ts.fileHash,
	}); err != nil {
		m.failTransfer(ts, err.Error())
		return
	}

	complete, err := m.waitForComplete(ts, defaultCompleteTimeout)
	if err != nil {
		m.failTransfer(ts, fmt.Sprintf("waiting for completion ack: %v", err))
		return
	}
	if !complete.Success {
		m.updateStatus(ts, model.StatusFailed, "receiver reported integrity failure")
		return
	}

	m.updateStatus(ts, model.StatusCompleted, "")
}

func (m *Manager) waitForResponse(ts *transferState, timeout time.Duration) (wire.TransferResponse, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case event := <-ts.events:
			if event.response != nil {
				return *event.response, nil
			}
		case <-timer.C:
			return wire.TransferResponse{}, fmt.Errorf("timed out after %s", timeout)
		case <-ts.cancel:
			return wire.TransferResponse{}, fmt.Errorf("canceled")
		}
	}
}

func (m *Manager) waitForComplete(ts *transferState, timeout time.Duration) (wire.TransferComplete, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case event := <-ts.events:
			if event.complete != nil {
				return *event.complete, nil
			}
		case <-timer.C:
			return wire.TransferComplete{}, fmt.Errorf("timed out after %s", timeout)
		case <-ts.cancel:
			return wire.TransferComplete{}, fmt.Errorf("canceled")
		}
	}
}

func chunkCount(size int64) int {
	if size <= 0 {
		return 0
	}
	chunks := int(size / ChunkSize)
	if size%ChunkSize != 0 {
		chunks++
	}
	return chunks
}

package transfer

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lanxfer/fileio"
	"lanxfer/model"
	"lanxfer/socket"
)

type staticPeers struct {
	peers map[string]model.PeerInfo
}

func (s staticPeers) Peer(id string) (model.PeerInfo, bool) {
	p, ok := s.peers[id]
	return p, ok
}

func newTestPair(t *testing.T, senderDir, receiverDir string) (*Manager, *Manager, *socket.Engine, *socket.Engine) {
	t.Helper()

	senderEngine := socket.New()
	receiverEngine := socket.New()
	t.Cleanup(func() {
		_ = senderEngine.Shutdown()
		_ = receiverEngine.Shutdown()
	})

	receiverFiles := fileio.NewLocal(receiverDir)
	senderFiles := fileio.NewLocal(senderDir)

	var receiverMgr *Manager
	receiverMgr = New(receiverEngine, receiverFiles, staticPeers{}, "receiver-id", "Receiver", func(req IncomingRequest) Decision {
		return Decision{Accept: true, FilePath: filepath.Join(receiverDir, req.FileName)}
	})

	receiverPort, err := receiverEngine.InitTCPServer(0, receiverMgr.OnTCPData, receiverMgr.OnTCPStatus)
	if err != nil {
		t.Fatalf("InitTCPServer failed: %v", err)
	}

	senderMgr := New(senderEngine, senderFiles, staticPeers{peers: map[string]model.PeerInfo{
		"receiver-id": {ID: "receiver-id", Name: "Receiver", IPAddress: "127.0.0.1", Port: receiverPort},
	}}, "sender-id", "Sender", nil)

	return senderMgr, receiverMgr, senderEngine, receiverEngine
}

func TestSendFileRoundTrip(t *testing.T) {
	senderDir := t.TempDir()
	receiverDir := t.TempDir()

	senderMgr, receiverMgr, _, _ := newTestPair(t, senderDir, receiverDir)

	content := bytes.Repeat([]byte{0x5c}, 3*ChunkSize+777)
	srcPath := filepath.Join(senderDir, "payload.bin")
	if err := os.WriteFile(srcPath, content, 0o600); err != nil {
		t.Fatalf("seed source file: %v", err)
	}

	transferID, err := senderMgr.SendFile("receiver-id", srcPath)
	if err != nil {
		t.Fatalf("SendFile failed: %v", err)
	}

	waitForTransferStatus(t, senderMgr, transferID, model.StatusCompleted, 5*time.Second)

	var receiverID string
	waitForCondition(t, 5*time.Second, func() bool {
		for _, info := range receiverMgr.ListTransfers() {
			if info.Status.Terminal() {
				receiverID = info.ID
				return true
			}
		}
		return false
	})
	waitForTransferStatus(t, receiverMgr, receiverID, model.StatusCompleted, 5*time.Second)

	destPath := filepath.Join(receiverDir, "payload.bin")
	written, err := os.ReadFile(destPath)
	if err != nil {
		t.Fatalf("read received file: %v", err)
	}
	if !bytes.Equal(written, content) {
		t.Fatalf("received content does not match source")
	}
}

func TestSendFileRejected(t *testing.T) {
	senderDir := t.TempDir()
	receiverDir := t.TempDir()

	senderEngine := socket.New()
	receiverEngine := socket.New()
	t.Cleanup(func() {
		_ = senderEngine.Shutdown()
		_ = receiverEngine.Shutdown()
	})

	receiverMgr := New(receiverEngine, fileio.NewLocal(receiverDir), staticPeers{}, "receiver-id", "Receiver", func(req IncomingRequest) Decision {
		return Decision{Accept: false}
	})
	receiverPort, err := receiverEngine.InitTCPServer(0, receiverMgr.OnTCPData, receiverMgr.OnTCPStatus)
	if err != nil {
		t.Fatalf("InitTCPServer failed: %v", err)
	}

	senderMgr := New(senderEngine, fileio.NewLocal(senderDir), staticPeers{peers: map[string]model.PeerInfo{
		"receiver-id": {ID: "receiver-id", Name: "Receiver", IPAddress: "127.0.0.1", Port: receiverPort},
	}}, "sender-id", "Sender", nil)

	srcPath := filepath.Join(senderDir, "rejected.bin")
	if err := os.WriteFile(srcPath, []byte("hello"), 0o600); err != nil {
		t.Fatalf("seed source file: %v", err)
	}

	transferID, err := senderMgr.SendFile("receiver-id", srcPath)
	if err != nil {
		t.Fatalf("SendFile failed: %v", err)
	}

	waitForTransferStatus(t, senderMgr, transferID, model.StatusCanceled, 5*time.Second)
}

func TestSendFileEncryptedRoundTrip(t *testing.T) {
	senderDir := t.TempDir()
	receiverDir := t.TempDir()

	senderMgr, receiverMgr, _, _ := newTestPair(t, senderDir, receiverDir)
	senderMgr.SetEncryptionPassword("correct-horse-battery-staple")
	senderMgr.SetEncryptionEnabled(true)
	receiverMgr.SetEncryptionPassword("correct-horse-battery-staple")
	receiverMgr.SetEncryptionEnabled(true)

	content := []byte("small encrypted payload")
	srcPath := filepath.Join(senderDir, "secret.txt")
	if err := os.WriteFile(srcPath, content, 0o600); err != nil {
		t.Fatalf("seed source file: %v", err)
	}

	transferID, err := senderMgr.SendFile("receiver-id", srcPath)
	if err != nil {
		t.Fatalf("SendFile failed: %v", err)
	}

	waitForTransferStatus(t, senderMgr, transferID, model.StatusCompleted, 5*time.Second)

	destPath := filepath.Join(receiverDir, "secret.txt")
	written, err := os.ReadFile(destPath)
	if err != nil {
		t.Fatalf("read received file: %v", err)
	}
	if !bytes.Equal(written, content) {
		t.Fatalf("decrypted content does not match source")
	}
}

func waitForTransferStatus(t *testing.T, mgr *Manager, transferID string, status model.TransferStatus, timeout time.Duration) {
	t.Helper()
	waitForCondition(t, timeout, func() bool {
		info, ok := mgr.Transfer(transferID)
		return ok && info.Status == status
	})
}

func waitForCondition(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before timeout %s", timeout)
}

package model

// TransferStatus is the lifecycle state of one file transfer.
type TransferStatus string

const (
	StatusInitializing TransferStatus = "Initializing"
	StatusWaiting      TransferStatus = "Waiting"
	StatusInProgress   TransferStatus = "InProgress"
	StatusCompleted    TransferStatus = "Completed"
	StatusFailed       TransferStatus = "Failed"
	StatusCanceled     TransferStatus = "Canceled"
)

// Terminal reports whether no further transitions are allowed from status.
func (s TransferStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// TransferDirection distinguishes outgoing sends from incoming receives.
type TransferDirection string

const (
	DirectionIncoming TransferDirection = "Incoming"
	DirectionOutgoing TransferDirection = "Outgoing"
)

// TransferInfo is a point-in-time, by-value snapshot of one file transfer.
//
// Callers never receive a pointer into the registry: the Transfer Manager
// owns the only mutable copy and hands out values like this one.
type TransferInfo struct {
	ID               string            `json:"id"`
	PeerID           string            `json:"peer_id"`
	PeerName         string            `json:"peer_name"`
	PeerAddress      string            `json:"peer_address"`
	Direction        TransferDirection `json:"direction"`
	Status           TransferStatus    `json:"status"`
	FilePath         string            `json:"file_path"`
	FileName         string            `json:"file_name"`
	FileSize         int64             `json:"file_size"`
	BytesTransferred int64             `json:"bytes_transferred"`
	Progress         int               `json:"progress"`
	StartTimeMs      int64             `json:"start_time_ms"`
	EndTimeMs        int64             `json:"end_time_ms"`
	ErrorMessage     string            `json:"error_message"`
}

// DeriveProgress computes the 0-100 progress value for a byte count.
func DeriveProgress(bytesTransferred, fileSize int64) int {
	if fileSize <= 0 {
		return 100
	}
	progress := int(100 * bytesTransferred / fileSize)
	if progress > 100 {
		progress = 100
	}
	if progress < 0 {
		progress = 0
	}
	return progress
}

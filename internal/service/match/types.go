package match

import "time"

type JoinQueueRequest struct {
	UserID int64
	Stake  int64
	Name   string
	IP     string
}

type CancelQueueRequest struct {
	UserID int64
	Stake  int64
	Reason string
}

type QueueStatus string

const (
	QueueStatusIdle    QueueStatus = "idle"
	QueueStatusQueued  QueueStatus = "queued"
	QueueStatusMatched QueueStatus = "matched"
)

type StatusResult struct {
	Status    QueueStatus `json:"status"`
	Stake     int64       `json:"stake,omitempty"`
	SessionID *string     `json:"sessionId,omitempty"`
	JoinedAt  *time.Time  `json:"joinedAt,omitempty"`
}

type queueMember struct {
	UserID          int64     `json:"userId"`
	Stake           int64     `json:"stake"`
	Name            string    `json:"name"`
	IP              string    `json:"ip"`
	BalanceSnapshot int64     `json:"balanceSnapshot"`
	JoinedAt        time.Time `json:"joinedAt"`
}

type matchNotifyPayload struct {
	Stake     int64  `json:"stake"`
	SessionID string `json:"sessionId"`
}

package domain

import "time"

// Worker is the handshake a worker sends when it connects
type Worker struct {
	IP         string `json:"ip" validate:"required" db:"ip"`
	Address    string `json:"address" validate:"required" db:"address"`
	Hardware   string `json:"hardware" validate:"required" db:"hardware"`
	HardwareID string `json:"hardware_id" validate:"required" db:"hardware_id"`
	Caption    string `json:"caption" validate:"required" db:"caption"`
}

// WorkerConnection is the persisted record of one connect/disconnect pair
type WorkerConnection struct {
	ID             int64      `db:"id"`
	ConnectedAt    time.Time  `db:"connected_at"`
	DisconnectedAt *time.Time `db:"disconnected_at"`
}

package domain

import (
	"encoding/json"
	"time"
)

// JobInput is a job submitted by a node connection
type JobInput struct {
	EpochChallenge json.RawMessage `json:"epoch_challenge" validate:"required"`
	ProofTarget    int64           `json:"proof_target"`
	BlockHeight    int64           `json:"block_height"`
}

// UnmarshalJSON decodes the job and requires the numeric fields to be present.
// Zero is a valid target and height.
func (j *JobInput) UnmarshalJSON(data []byte) error {
	type plain JobInput
	if err := json.Unmarshal(data, (*plain)(j)); err != nil {
		return err
	}
	return requireKeys(data, "proof_target", "block_height")
}

// Validate rejects jobs whose challenge is not an object
func (j JobInput) Validate() error {
	return requireObject("epoch_challenge", j.EpochChallenge)
}

// StoredJob is the persisted projection of a job
type StoredJob struct {
	TaskID      string    `db:"task_id"`
	BlockHeight int64     `db:"block_height"`
	CreatedAt   time.Time `db:"created_at"`
}

// JobAnnouncement is broadcast to every worker connection after a job is newly stored
type JobAnnouncement struct {
	TaskID         string          `json:"task_id" validate:"required"`
	EpochChallenge json.RawMessage `json:"epoch_challenge" validate:"required"`
	BlockHeight    int64           `json:"block_height"`
	CreatedAt      time.Time       `json:"created_at" validate:"required"`
}

func (a *JobAnnouncement) UnmarshalJSON(data []byte) error {
	type plain JobAnnouncement
	if err := json.Unmarshal(data, (*plain)(a)); err != nil {
		return err
	}
	return requireKeys(data, "block_height")
}

// Validate rejects announcements whose challenge is not an object
func (a JobAnnouncement) Validate() error {
	return requireObject("epoch_challenge", a.EpochChallenge)
}

// JobOutput is what a worker connection receives
type JobOutput struct {
	TaskID         string          `json:"task_id"`
	EpochChallenge json.RawMessage `json:"epoch_challenge"`
}

// Announce builds the announcement for a stored job
func (j JobInput) Announce(stored StoredJob) JobAnnouncement {
	return JobAnnouncement{
		TaskID:         stored.TaskID,
		EpochChallenge: j.EpochChallenge,
		BlockHeight:    stored.BlockHeight,
		CreatedAt:      stored.CreatedAt,
	}
}

// Output strips the announcement down to what the worker needs
func (a JobAnnouncement) Output() JobOutput {
	return JobOutput{TaskID: a.TaskID, EpochChallenge: a.EpochChallenge}
}

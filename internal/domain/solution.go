package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// RawSolutionInput is a solution as submitted by a worker
type RawSolutionInput struct {
	TaskID         string          `json:"task_id" validate:"required"`
	Solution       json.RawMessage `json:"solution" validate:"required"`
	SolutionTarget int64           `json:"solution_target"`
}

func (r *RawSolutionInput) UnmarshalJSON(data []byte) error {
	type plain RawSolutionInput
	if err := json.Unmarshal(data, (*plain)(r)); err != nil {
		return err
	}
	return requireKeys(data, "solution_target")
}

// Validate rejects solutions without a usable nonce
func (r RawSolutionInput) Validate() error {
	_, err := UniqueKey(r.Solution)
	return err
}

// Stamp attaches the submitting worker's identity
func (r RawSolutionInput) Stamp(worker Worker) SolutionInput {
	return SolutionInput{
		HardwareID:     worker.HardwareID,
		Caption:        worker.Caption,
		TaskID:         r.TaskID,
		Solution:       r.Solution,
		SolutionTarget: r.SolutionTarget,
	}
}

// SolutionInput is a stamped solution travelling to the solution processor
type SolutionInput struct {
	HardwareID     string          `json:"hardware_id" validate:"required"`
	Caption        string          `json:"caption" validate:"required"`
	TaskID         string          `json:"task_id" validate:"required"`
	Solution       json.RawMessage `json:"solution" validate:"required"`
	SolutionTarget int64           `json:"solution_target"`
}

func (s *SolutionInput) UnmarshalJSON(data []byte) error {
	type plain SolutionInput
	if err := json.Unmarshal(data, (*plain)(s)); err != nil {
		return err
	}
	return requireKeys(data, "solution_target")
}

// Validate rejects solutions without a usable nonce
func (s SolutionInput) Validate() error {
	_, err := UniqueKey(s.Solution)
	return err
}

// UniqueKey returns the dedup identity of the solution
func (s SolutionInput) UniqueKey() (string, error) {
	return UniqueKey(s.Solution)
}

// StoredSolution is the persisted projection of a solution
type StoredSolution struct {
	UniqueKey string    `db:"unique_key"`
	CreatedAt time.Time `db:"created_at"`
}

// SolutionAnnouncement is broadcast to every node connection after a solution is newly stored
type SolutionAnnouncement struct {
	TaskID         string          `json:"task_id" validate:"required"`
	SolutionTarget int64           `json:"solution_target"`
	Solution       json.RawMessage `json:"solution" validate:"required"`
	SolutionHeight int64           `json:"solution_height"`
}

func (a *SolutionAnnouncement) UnmarshalJSON(data []byte) error {
	type plain SolutionAnnouncement
	if err := json.Unmarshal(data, (*plain)(a)); err != nil {
		return err
	}
	return requireKeys(data, "solution_target", "solution_height")
}

// Announce builds the announcement for a solution answering a job at height
func (s SolutionInput) Announce(height int64) SolutionAnnouncement {
	return SolutionAnnouncement{
		TaskID:         s.TaskID,
		SolutionTarget: s.SolutionTarget,
		Solution:       s.Solution,
		SolutionHeight: height,
	}
}

type solutionNonce struct {
	PartialSolution *struct {
		Nonce json.RawMessage `json:"nonce"`
	} `json:"partial_solution"`
}

// UniqueKey derives the dedup identity from solution.partial_solution.nonce.
// String nonces are used verbatim, numeric nonces by their decimal text.
func UniqueKey(solution json.RawMessage) (string, error) {
	var parsed solutionNonce
	if err := json.Unmarshal(solution, &parsed); err != nil {
		return "", fmt.Errorf("%w: solution is not an object: %v", ErrInvalidPayload, err)
	}
	if parsed.PartialSolution == nil || len(parsed.PartialSolution.Nonce) == 0 {
		return "", fmt.Errorf("%w: solution.partial_solution.nonce is missing", ErrInvalidPayload)
	}

	decoder := json.NewDecoder(bytes.NewReader(parsed.PartialSolution.Nonce))
	decoder.UseNumber()

	var nonce any
	if err := decoder.Decode(&nonce); err != nil {
		return "", fmt.Errorf("%w: malformed nonce: %v", ErrInvalidPayload, err)
	}

	switch v := nonce.(type) {
	case string:
		if v == "" {
			return "", fmt.Errorf("%w: nonce is empty", ErrInvalidPayload)
		}
		return v, nil
	case json.Number:
		return v.String(), nil
	default:
		return "", fmt.Errorf("%w: nonce must be a string or number, got %T", ErrInvalidPayload, nonce)
	}
}

package forwarding

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Job asks the forwarder to send one stored purchase to the ads platform.
type Job struct {
	StoreID    uuid.UUID `json:"store_id"`
	EventID    string    `json:"event_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Validate checks the job identifies a stored event.
func (j Job) Validate() error {
	if j.StoreID == uuid.Nil {
		return errors.New("store id is required")
	}
	if strings.TrimSpace(j.EventID) == "" {
		return errors.New("event id is required")
	}
	return nil
}

// Encode serializes the job for transport.
func (j Job) Encode() ([]byte, error) {
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(j)
}

// DecodeJob reads a job produced by Encode.
func DecodeJob(data []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, fmt.Errorf("decode forwarding job: %w", err)
	}
	if err := job.Validate(); err != nil {
		return Job{}, err
	}
	return job, nil
}

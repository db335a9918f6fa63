// stgworker/protocol.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

// Package stgworker is the client side of the storage worker protocol:
// connect with a timeout, start a job naming its read and write storage
// lists, hand the worker its bootstrap, send the literal command "run",
// and read back termination status and counters.
package stgworker

import "github.com/google/uuid"

// JobStatus mirrors the host's single-letter SDJobStatus codes closely
// enough for the consolidator to act on them.
type JobStatus string

const (
	StatusTerminated         JobStatus = "T"
	StatusTerminatedWarnings JobStatus = "W"
	StatusErrorTerminated    JobStatus = "E"
	StatusCanceled           JobStatus = "A"
	StatusRunning            JobStatus = "R"
)

// Terminal reports whether status represents a worker that has stopped
// running, successfully or not.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusTerminated, StatusTerminatedWarnings, StatusErrorTerminated, StatusCanceled:
		return true
	default:
		return false
	}
}

// message is the envelope exchanged over the REQ/REP socket. Type
// dispatches on the receiving side; Payload carries the type-specific
// JSON body. The "run" command is sent with Type set to runMessage and
// an empty Payload, matching the protocol's description of a bare text
// command.
type message struct {
	RequestId string `json:"request_id"`
	Type      string `json:"type"`
	Payload   []byte `json:"payload,omitempty"`
}

// newRequestId generates the correlation id stamped on every request so
// a worker's logs can be grepped for a single exchange.
func newRequestId() string {
	return uuid.New().String()
}

const (
	startJobMessage = "start"
	runMessage      = "run"
	statusMessage   = "status"
)

// StartJobRequest is the payload of a startJobMessage.
type StartJobRequest struct {
	ReadStorage  []string `json:"read_storage"`
	WriteStorage []string `json:"write_storage"`
	SendBSR      bool     `json:"send_bsr"`
	BSR          []byte   `json:"bsr,omitempty"`
}

// StartJobResponse acknowledges a StartJobRequest.
type StartJobResponse struct {
	OK  bool   `json:"ok"`
	Err string `json:"err,omitempty"`
}

// Ack acknowledges the "run" command.
type Ack struct {
	OK bool `json:"ok"`
}

// TerminationStatus is the worker's reported outcome and counters,
// returned in response to a statusMessage poll.
type TerminationStatus struct {
	SDJobStatus JobStatus `json:"sd_job_status"`
	JobFiles    int64     `json:"job_files"`
	ReadBytes   int64     `json:"read_bytes"`
	JobBytes    int64     `json:"job_bytes"`
	JobErrors   int64     `json:"job_errors"`
}

package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRequestStart Stage = "REQUEST_START"
	StageRequestDone  Stage = "REQUEST_DONE"
	StageRequestError Stage = "REQUEST_ERROR"
	StageProbeDone    Stage = "PROBE_DONE"
	StageSplit        Stage = "SPLIT"
	StageTruncated    Stage = "TRUNCATION_ACCEPTED"
	StageFetchDone    Stage = "FETCH_DONE"
	StageFetchError   Stage = "FETCH_ERROR"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for call completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single milestone of a request.
type Event struct {
	// RequestID identifies one user request using the 16-byte UUID form.
	RequestID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or call milestone occurred.
	Stage Stage
	// Node labels the remote node (host or short name) for call events.
	Node string
	// Descriptor is the human-readable query descriptor.
	Descriptor string
	// Bytes carries the payload size for fetches.
	Bytes int64
	// Rows counts transitions extracted by a fetch.
	Rows int64
	// StatusClass groups HTTP response codes (2xx, 3xx, etc).
	StatusClass StatusClass
	// Dur captures call latency or request wall time.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RequestID == [16]byte{} {
		return errors.New("request id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRequestStart, StageRequestDone, StageRequestError:
	case StageProbeDone, StageSplit, StageTruncated, StageFetchError:
		if e.Node == "" {
			return fmt.Errorf("%s requires node", e.Stage)
		}
	case StageFetchDone:
		if e.Node == "" {
			return errors.New("fetch done requires node")
		}
		if e.StatusClass == "" {
			return errors.New("fetch done requires status class")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RequestUUID converts the binary request ID to uuid.UUID.
func (e Event) RequestUUID() uuid.UUID {
	return uuid.UUID(e.RequestID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ParseRequestID converts a textual UUID into the Event form; unparsable input
// yields the zero ID, which Validate rejects.
func ParseRequestID(raw string) [16]byte {
	id, err := uuid.Parse(raw)
	if err != nil {
		return [16]byte{}
	}
	return UUIDToBytes(id)
}

// ClassifyStatus groups HTTP status codes for call events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}

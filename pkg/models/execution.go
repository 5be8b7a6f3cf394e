// Package models contains shared data models used across the pavi codebase.
package models

import (
	"context"
	"encoding/json"
)

// ExecutionStatus is the state of one backend execution as reported by Describe.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionSucceeded ExecutionStatus = "SUCCEEDED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionTimedOut  ExecutionStatus = "TIMED_OUT"
	ExecutionAborted   ExecutionStatus = "ABORTED"
)

// ExecutionBackend is the interface every pipeline executor must implement.
// Callers depend on this interface, never on a concrete backend.
type ExecutionBackend interface {
	// Start submits one pipeline execution and returns its opaque handle.
	Start(ctx context.Context, req StartRequest) (string, error)
	// Describe reports the current state of the execution behind handle.
	// It has no side effects on the execution.
	Describe(ctx context.Context, handle string) (ExecutionDescription, error)
	// Name returns the backend identifier (e.g., "stepfunctions", "local").
	Name() string
}

// StartRequest is the input to ExecutionBackend.Start.
type StartRequest struct {
	ExecutionName string
	Input         ExecutionInput
}

// ExecutionInput is the document handed to the pipeline.
type ExecutionInput struct {
	JobID       string      `json:"job_id"`
	SeqRegions  []SeqRegion `json:"seq_regions"`
	JobQueueARN string      `json:"job_queue_arn"`
}

// ExecutionDescription is the output of ExecutionBackend.Describe. Stage and
// SequencesProcessed are optional progress hints; zero values mean "not reported".
type ExecutionDescription struct {
	Status             ExecutionStatus
	Output             json.RawMessage
	Error              string
	Cause              string
	Stage              JobStage
	SequencesProcessed int
}

// ExecutionOutput is the success payload emitted by the pipeline.
type ExecutionOutput struct {
	ResultS3URI string `json:"result_s3_uri"`
}

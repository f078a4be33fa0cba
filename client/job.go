package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hashfleet/hashfleet/job"
	"github.com/hashfleet/hashfleet/wire"
)

// JobSpec describes a cracking job to submit.
type JobSpec struct {
	Name       string
	HashType   string
	Hashes     []string
	Attack     job.Attack
	Priority   int
	TotalSpace uint64
}

// JobResult contains the outcome of a submit operation.
type JobResult struct {
	JobID string `json:"job_id"`
	Units int    `json:"units"`
	State string `json:"state"`
}

// SubmitJob submits a job to the cluster leader.
func (c *Client) SubmitJob(ctx context.Context, spec JobSpec) (*JobResult, error) {
	resp, err := c.request(ctx, wire.MethodJobSubmit, wire.JobSubmitRequest{
		Name:       spec.Name,
		HashType:   spec.HashType,
		Hashes:     spec.Hashes,
		Attack:     spec.Attack,
		Priority:   spec.Priority,
		TotalSpace: spec.TotalSpace,
	})
	if err != nil {
		return nil, err
	}

	var result JobResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &result, nil
}

// GetJob retrieves a job's progress view by ID. The raw payload
// mirrors the leader's aggregated progress: the job record, its units,
// overall fraction, cracked credentials, and the ETA.
func (c *Client) GetJob(ctx context.Context, jobID string) (json.RawMessage, error) {
	resp, err := c.request(ctx, wire.MethodJobGet, wire.JobGetRequest{
		JobID: jobID,
	})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// CancelJob cancels a job by ID.
func (c *Client) CancelJob(ctx context.Context, jobID string) error {
	_, err := c.request(ctx, wire.MethodJobCancel, wire.JobCancelRequest{
		JobID: jobID,
	})
	return err
}

// ListJobs pages through the cluster's jobs, optionally filtered by
// state.
func (c *Client) ListJobs(ctx context.Context, state string, limit, offset int) ([]*job.Job, error) {
	resp, err := c.request(ctx, wire.MethodJobList, wire.JobListRequest{
		State:  state,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, err
	}

	var jobs []*job.Job
	if err := json.Unmarshal(resp.Data, &jobs); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return jobs, nil
}

// Status retrieves the cluster status from the coordinator.
func (c *Client) Status(ctx context.Context) (json.RawMessage, error) {
	resp, err := c.request(ctx, wire.MethodStatus, nil)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// ForceElection asks the coordinator to trigger an immediate election.
func (c *Client) ForceElection(ctx context.Context) error {
	_, err := c.request(ctx, wire.MethodElectionForce, nil)
	return err
}

package dto

import (
	"encoding/json"

	"exportd/internal/job"
)

type CreateJobRequest struct {
	ProjectRef string          `json:"project_ref" binding:"required"`
	JobType    string          `json:"job_type" binding:"required"`
	InputRef   string          `json:"input_ref" binding:"required"`
	Params     json.RawMessage `json:"params,omitempty"`
}

type CreateJobResponse struct {
	JobID            string `json:"job_id"`
	Status           string `json:"status"`
	SubscribeAddress string `json:"subscribe_address"`
}

type ListJobsRequest struct {
	ProjectRef string `form:"project_ref"`
	JobType    string `form:"job_type"`
	Status     string `form:"status"`
	PageSize   int    `form:"page_size"`
	Cursor     string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []job.Record `json:"jobs"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

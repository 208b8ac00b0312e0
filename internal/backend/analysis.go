package backend

import (
	"context"
	"net/http"
	"net/url"

	"mymove-wizard/internal/wizard"
)

// StartAnalysis starts AI detection for videoID, linking offerID when set.
func (c *Client) StartAnalysis(ctx context.Context, videoID, offerID string) (wizard.AnalysisJob, error) {
	path := "/v1/ai/analyze/" + pathID(videoID)
	if offerID != "" {
		path += "?offerId=" + url.QueryEscape(offerID)
	}
	var out wizard.AnalysisJob
	err := c.doJSON(ctx, http.MethodPost, path, nil, &out)
	return out, err
}

// CheckAnalysisStatus asks the backend to refresh and return the job.
func (c *Client) CheckAnalysisStatus(ctx context.Context, jobID string) (wizard.AnalysisJob, error) {
	var out wizard.AnalysisJob
	err := c.doJSON(ctx, http.MethodPost, "/v1/ai/jobs/"+pathID(jobID)+"/check-status", nil, &out)
	return out, err
}

// GetJob reads a job without triggering a refresh.
func (c *Client) GetJob(ctx context.Context, jobID string) (wizard.AnalysisJob, error) {
	var out wizard.AnalysisJob
	err := c.doJSON(ctx, http.MethodGet, "/v1/ai/jobs/"+pathID(jobID), nil, &out)
	return out, err
}

// GetJobByOffer reads the job linked to offerID.
func (c *Client) GetJobByOffer(ctx context.Context, offerID string) (wizard.AnalysisJob, error) {
	var out wizard.AnalysisJob
	err := c.doJSON(ctx, http.MethodGet, "/v1/ai/jobs/by-offer/"+pathID(offerID), nil, &out)
	return out, err
}

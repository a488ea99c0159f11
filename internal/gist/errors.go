package gist

import "errors"

// Sentinel errors describing how an entry or a run failed.
var (
	// ErrFetchFailed marks a listing failure after retries; fatal to the run.
	ErrFetchFailed = errors.New("fetch entries failed")
	// ErrCollaborator marks an external collaborator that returned no result.
	ErrCollaborator = errors.New("collaborator returned no result")
	// ErrRender marks a markdown or sanitization failure.
	ErrRender = errors.New("render failed")
	// ErrNoWatermark is returned when content carries no generated summary.
	ErrNoWatermark = errors.New("watermark not found")
)

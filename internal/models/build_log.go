package models

import "time"

// BuildLogSourceAll is the source tag for whole-build output.
const BuildLogSourceAll = "ALL"

// BuildLog is one raw output line recorded during a build's execution.
// Rows are deleted once the build's logs are archived to object storage.
type BuildLog struct {
	ID        int64     `json:"id"`
	BuildID   int64     `json:"build_id"`
	Source    string    `json:"source"`
	Output    string    `json:"output"`
	CreatedAt time.Time `json:"created_at"`
}

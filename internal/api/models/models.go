// Package models holds the request and response bodies of the HTTP API.
package models

import (
	"github.com/smazurov/feednode/internal/fanout"
	"github.com/smazurov/feednode/internal/ffmpeg"
	"github.com/smazurov/feednode/internal/logging"
	"github.com/smazurov/feednode/internal/pipeline"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"1.0.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc123" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2025-01-27" doc:"Build date"`
	BuildID   string `json:"build_id" example:"42" doc:"Build identifier"`
	GoVersion string `json:"go_version" example:"go1.24.1" doc:"Go version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Go compiler"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"OS/architecture"`
}

type VersionResponse struct {
	Body VersionData
}

// Run models
type RunResponse struct {
	Body pipeline.Status
}

type BranchListData struct {
	Branches []fanout.BranchStats `json:"branches" doc:"Per-branch queue counters"`
	Count    int                  `json:"count" example:"3" doc:"Number of branches"`
}

type BranchListResponse struct {
	Body BranchListData
}

// Schedule models
type ChangeData struct {
	Trigger uint64 `json:"trigger" example:"100" doc:"Sequence number the change applies at"`
	Caps    string `json:"caps" example:"video/x-raw,format=I420,width=640,height=480,framerate=30/1" doc:"Caps applied from the trigger on"`
}

type ScheduleData struct {
	NextSeq uint64       `json:"next_seq" example:"250" doc:"Sequence number of the next buffer"`
	Every   uint64       `json:"every" example:"100" doc:"Cycle period in buffers"`
	Cycle   []string     `json:"cycle" doc:"Cycle table"`
	Pending []ChangeData `json:"pending" doc:"Explicit changes not yet applied"`
	File    string       `json:"file,omitempty" example:"schedule.toml" doc:"Schedule file"`
}

type ScheduleResponse struct {
	Body ScheduleData
}

type ScheduleChangeRequestData struct {
	Trigger uint64 `json:"trigger" example:"300" doc:"Sequence number the change applies at"`
	Caps    string `json:"caps" minLength:"1" example:"video/x-raw,format=I420,width=640,height=480,framerate=30/1" doc:"Caps to apply"`
	Persist bool   `json:"persist,omitempty" doc:"Also record the change in the schedule file"`
}

type ScheduleChangeRequest struct {
	Body ScheduleChangeRequestData
}

type ScheduleChangeResponse struct {
	Body ChangeData
}

// Encode option models
type OptionsData struct {
	Options []ffmpeg.Option `json:"options" doc:"Available encode options"`
}

type OptionsResponse struct {
	Body OptionsData
}

// Logging models

// LogsRequest filters the log history.
type LogsRequest struct {
	Since uint64 `query:"since" doc:"Only return entries with a higher sequence number"`
}

type LogsData struct {
	Entries []logging.LogEntry `json:"entries" doc:"Recent log entries, oldest first"`
	Count   int                `json:"count" example:"120" doc:"Number of entries"`
}

type LogsResponse struct {
	Body LogsData
}

type LogLevelsData struct {
	Levels []logging.ModuleLevel `json:"levels" doc:"Effective level per module"`
}

type LogLevelsResponse struct {
	Body LogLevelsData
}

type SetLogLevelRequestData struct {
	Module string `json:"module,omitempty" example:"feed" doc:"Module name; empty sets the global level"`
	Level  string `json:"level" enum:"debug,info,warn,error" example:"debug" doc:"New level"`
}

type SetLogLevelRequest struct {
	Body SetLogLevelRequestData
}

package models

import (
	"encoding/json"
	"time"
)

type CommandType string

const (
	CmdScrapeNow    CommandType = "scrape_now"
	CmdScrapeTarget CommandType = "scrape_target"
	CmdPause        CommandType = "pause"
	CmdResume       CommandType = "resume"
	CmdReapJobs     CommandType = "reap_jobs"
)

type Command struct {
	ID          int64           `json:"id" db:"id"`
	Command     CommandType     `json:"command" db:"command"`
	Params      json.RawMessage `json:"params" db:"params"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
}

type CommandParams struct {
	TargetID  string `json:"target_id,omitempty"`
	Mode      string `json:"mode,omitempty"`
	City      string `json:"city,omitempty"`
	Group     string `json:"group,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	DaysStale int    `json:"days_stale,omitempty"`
}

// ParseParams decodes Params, tolerating an empty payload
func (c *Command) ParseParams() (*CommandParams, error) {
	var p CommandParams
	if len(c.Params) == 0 || string(c.Params) == "null" {
		return &p, nil
	}
	if err := json.Unmarshal(c.Params, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

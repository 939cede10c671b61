package model

import "time"

// BlockedIP is a row of `blocked_ips`.  While now < BlockedUntil every
// request from IPAddress is rejected before rate accounting runs.
type BlockedIP struct {
	IPAddress    string    `json:"ip"`
	BlockedUntil time.Time `json:"blocked_until"`
	Reason       string    `json:"reason"`
}

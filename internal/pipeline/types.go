// Package pipeline defines core types shared across subsystems.
package pipeline

import (
	"strings"
	"time"
)

// CommandType discriminates the variants of a parsed SMS command.
type CommandType string

// Command variants produced by the intent parser.
const (
	CommandHelp    CommandType = "help"
	CommandStatus  CommandType = "status"
	CommandList    CommandType = "list"
	CommandFees    CommandType = "fees"
	CommandInspect CommandType = "inspect"
	CommandUnknown CommandType = "unknown"
)

// ListFilter narrows a list command. Only open permits are supported.
type ListFilter string

// ListFilterOpen selects permits that are not yet finaled or expired.
const ListFilterOpen ListFilter = "open"

// Command is the typed result of parsing one inbound SMS. Exactly one
// variant is active, discriminated by Type; unused fields stay zero.
type Command struct {
	Type CommandType `json:"type"`

	// Status
	Query string `json:"query,omitempty"`

	// List
	Filter ListFilter `json:"filter,omitempty"`

	// Inspect
	PermitNumber string `json:"permit_number,omitempty"`
	TimeWindow   string `json:"time_window,omitempty"`
	Notes        string `json:"notes,omitempty"`

	// Unknown keeps the raw text for the failure reply.
	OriginalText string `json:"original_text,omitempty"`
}

// JobStatus represents the lifecycle state of a job.
type JobStatus string

// Job status values recorded in the audit trail.
const (
	JobStatusQueued       JobStatus = "queued"
	JobStatusClaimed      JobStatus = "claimed"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusFailed       JobStatus = "failed"
	JobStatusDeadLettered JobStatus = "dead_lettered"
)

// Job is one unit of work: a parsed command bound to the sender that
// issued it. The queue owns the job until a worker claims it.
type Job struct {
	ID              string    `json:"id"`
	PhoneNumber     string    `json:"phone_number"`
	Command         Command   `json:"command"`
	OriginalMessage string    `json:"original_message"`
	EnqueuedAt      time.Time `json:"enqueued_at"`
	Attempt         int       `json:"attempt"`
}

// PermitData is a partial permit record filled progressively by search
// and detail-scrape steps. Missing fields stay empty.
type PermitData struct {
	PermitNumber  string `json:"permit_number,omitempty"`
	Address       string `json:"address,omitempty"`
	Type          string `json:"type,omitempty"`
	Status        string `json:"status,omitempty"`
	LastAction    string `json:"last_action,omitempty"`
	NextAction    string `json:"next_action,omitempty"`
	SubmittedDate string `json:"submitted_date,omitempty"`
	URL           string `json:"url,omitempty"`
}

// Empty reports whether no field was scraped at all.
func (p PermitData) Empty() bool {
	return p == PermitData{}
}

// QuotaStatus reports a sender's position inside the current
// rate-limit window.
type QuotaStatus struct {
	Count     int
	Limit     int
	Remaining int
	ResetAt   *time.Time
}

// NormalizePhone canonicalizes a phone number to an E.164-like form:
// digits only, "+" prefixed, bare 10-digit numbers assumed US.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 10 {
		digits = "1" + digits
	}
	if digits == "" {
		return ""
	}
	return "+" + digits
}

// NormalizePermitNumber uppercases and strips whitespace so portal row
// text can be compared against user input.
func NormalizePermitNumber(raw string) string {
	return strings.ToUpper(strings.Join(strings.Fields(raw), ""))
}

// LooksLikePermitNumber decides whether a status query should be run
// as a permit-number search rather than an address search. Permit
// numbers carry digits and no spaces once trimmed.
func LooksLikePermitNumber(query string) bool {
	q := strings.TrimSpace(query)
	if q == "" || strings.ContainsAny(q, " \t") {
		return false
	}
	for _, r := range q {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

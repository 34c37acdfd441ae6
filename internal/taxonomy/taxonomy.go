// Package taxonomy holds the closed set of categories a job-search message can be assigned.
package taxonomy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type Category string

const (
	Offer                 Category = "OFFER"
	OARequired            Category = "OA_REQUIRED"
	InterviewSchedule     Category = "INTERVIEW_SCHEDULE"
	InterviewConfirmation Category = "INTERVIEW_CONFIRMATION"
	FollowUp              Category = "FOLLOW_UP"
	RecruiterOutreach     Category = "RECRUITER_OUTREACH"
	ApplicationReceived   Category = "APPLICATION_RECEIVED"
	StatusUpdate          Category = "STATUS_UPDATE"
	Rejection             Category = "REJECTION"
	NotJobRelated         Category = "NOT_JOB_RELATED"
)

var ErrInvalidCategory = errors.New("invalid category")

// Info describes one category. Priority 1 is the most urgent.
type Info struct {
	Key         Category `json:"key"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Priority    int      `json:"priority"`
	Actionable  bool     `json:"actionable"`
}

var table = map[Category]Info{
	Offer:                 {Offer, "Offer", "Job offer received", 1, true},
	OARequired:            {OARequired, "Online Assessment", "Requires completing a coding test or assessment", 2, true},
	InterviewSchedule:     {InterviewSchedule, "Schedule Interview", "Action needed to schedule an interview", 3, true},
	InterviewConfirmation: {InterviewConfirmation, "Interview Confirmed", "Interview date/time confirmed", 4, false},
	FollowUp:              {FollowUp, "Follow Up Needed", "Requires a response or action from you", 5, true},
	RecruiterOutreach:     {RecruiterOutreach, "Recruiter Outreach", "Initial contact from a recruiter or job opportunity", 6, false},
	ApplicationReceived:   {ApplicationReceived, "Application Received", "Acknowledgement of application submission", 7, false},
	StatusUpdate:          {StatusUpdate, "Status Update", "Update on application progress", 8, false},
	Rejection:             {Rejection, "Rejection", "Application was not successful", 9, false},
	NotJobRelated:         {NotJobRelated, "Not Job Related", "Email not related to job applications", 10, false},
}

// Lookup returns a copy of the entry for key.
func Lookup(key Category) (Info, bool) {
	info, ok := table[key]
	return info, ok
}

func IsValid(key Category) bool {
	_, ok := table[key]
	return ok
}

// IsActionable reports whether the action-completion toggle applies to key.
func IsActionable(key Category) bool {
	return table[key].Actionable
}

// Parse normalizes s and validates it against the table.
func Parse(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	if !IsValid(c) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
	}
	return c, nil
}

// All returns every category ordered by priority.
func All() []Info {
	out := make([]Info, 0, len(table))
	for _, info := range table {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

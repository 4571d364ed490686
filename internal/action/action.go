// Package action records user-initiated state-changing operations and their
// lifecycle within one session.
package action

import (
	"fmt"
	"time"

	"welcome/internal/blockchain"
	apperrors "welcome/internal/errors"
)

// Action is the kind of operation a user requested.
type Action string

const (
	AddParticipant Action = "add_participant"
	AddOrganizer   Action = "add_organizer"
	CheckIn        Action = "check_in"
)

type ID string

type Status string

const (
	InProgress Status = "in-progress"
	Success    Status = "success"
	Failed     Status = "error"
)

var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "action not found")

// Record is one action and its outcome. FinalizedTxData is set on success and,
// when the network surfaced it, on error.
type Record struct {
	ID              ID
	Action          Action
	Status          Status
	StartedAt       time.Time
	FinalizedTxData *blockchain.FinalizedTxData
	Error           string
}

// Result is the outcome attached to a record when its status changes.
type Result struct {
	FinalizedTxData *blockchain.FinalizedTxData
	Error           string
}

// History is an immutable value; every mutation returns a new History.
type History struct {
	all    map[ID]Record
	order  []ID
	latest ID
}

func (h History) Append(record Record) History {
	all := make(map[ID]Record, len(h.all)+1)
	for id, r := range h.all {
		all[id] = r
	}
	order := make([]ID, 0, len(h.order)+1)
	order = append(order, h.order...)
	if _, exists := h.all[record.ID]; !exists {
		order = append(order, record.ID)
	}
	all[record.ID] = record
	return History{all: all, order: order, latest: record.ID}
}

func (h History) UpdateStatus(id ID, status Status, result Result) (History, error) {
	record, ok := h.all[id]
	if !ok {
		return h, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	record.Status = status
	record.FinalizedTxData = result.FinalizedTxData
	record.Error = result.Error

	all := make(map[ID]Record, len(h.all))
	for k, r := range h.all {
		all[k] = r
	}
	all[id] = record
	return History{all: all, order: h.order, latest: h.latest}, nil
}

func (h History) Succeed(id ID, tx blockchain.FinalizedTxData) (History, error) {
	return h.UpdateStatus(id, Success, Result{FinalizedTxData: &tx})
}

func (h History) Fail(id ID, message string, partial *blockchain.FinalizedTxData) (History, error) {
	return h.UpdateStatus(id, Failed, Result{FinalizedTxData: partial, Error: message})
}

func (h History) Get(id ID) (Record, bool) {
	r, ok := h.all[id]
	return r, ok
}

// Latest returns the most recently appended record.
func (h History) Latest() (Record, bool) {
	if h.latest == "" {
		return Record{}, false
	}
	return h.Get(h.latest)
}

func (h History) Len() int {
	return len(h.order)
}

// Records returns the records in insertion order.
func (h History) Records() []Record {
	records := make([]Record, 0, len(h.order))
	for _, id := range h.order {
		records = append(records, h.all[id])
	}
	return records
}

// StatusesEqual compares histories by latest id and per-id status only.
// Timestamps and transaction payloads are ignored.
func StatusesEqual(a, b History) bool {
	if a.latest != b.latest || len(a.all) != len(b.all) {
		return false
	}
	for id, r := range a.all {
		other, ok := b.all[id]
		if !ok || other.Status != r.Status {
			return false
		}
	}
	return true
}

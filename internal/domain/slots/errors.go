package slots

import "errors"

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrNoFreeSlot      = errors.New("no free worker slot")
	ErrSlotOutOfRange  = errors.New("slot index out of range")
	ErrSlotBusy        = errors.New("worker slot is busy")
	ErrIssueNotActive  = errors.New("issue has no active worker slot")
	ErrInvalidDocument = errors.New("invalid state document")
)

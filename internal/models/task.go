package models

import "time"

type SyncTask struct {
	ID            int64      `json:"id"`
	ObjectID      int64      `json:"object_id"`
	ObjectType    string     `json:"object_type"`
	SyncType      string     `json:"sync_type"`
	Priority      int        `json:"priority"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	LeaseToken    string     `json:"-"`
	LeasedAt      *time.Time `json:"leased_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	Data          Payload    `json:"data"`
	ErrorMessage  string     `json:"error_message,omitempty"`
}

// QueueCounts is the number of tasks per status.
type QueueCounts struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Failed     int64 `json:"failed"`
	Completed  int64 `json:"completed"`
}

func (c QueueCounts) Total() int64 {
	return c.Pending + c.Processing + c.Failed + c.Completed
}

// SyncResult summarises one batch run.
type SyncResult struct {
	Leased    int     `json:"leased"`
	Completed int     `json:"completed"`
	Retried   int     `json:"retried"`
	Failed    int     `json:"failed"`
	Skipped   int     `json:"skipped"`
	Errors    []error `json:"-"`
}

// EntityLink records that a local entity corresponds to a remote record.
type EntityLink struct {
	ObjectType   string    `json:"object_type"`
	ObjectID     int64     `json:"object_id"`
	Service      string    `json:"service"`
	RemoteModule string    `json:"remote_module"`
	RemoteID     string    `json:"remote_id"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type SyncLogEntry struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Level      string    `json:"level"`
	Source     string    `json:"source"`
	ObjectID   int64     `json:"object_id,omitempty"`
	ObjectType string    `json:"object_type,omitempty"`
	Message    string    `json:"message"`
	Details    Payload   `json:"details,omitempty"`
}

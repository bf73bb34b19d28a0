package reconciler

import (
	"fmt"
)

// FetchError reports that a poller could not obtain (part of) a snapshot.
type FetchError struct {
	PartitionKey string
	Source       string
	StatusCode   int
	Err          error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s for partition %s: HTTP %d", e.Source, e.PartitionKey, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s for partition %s: %v", e.Source, e.PartitionKey, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsAuth reports whether the upstream rejected the session credentials.
func (e *FetchError) IsAuth() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// PersistenceError reports a failed Store call for a single entity.
type PersistenceError struct {
	Op           string
	PartitionKey string
	Identity     string
	Err          error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s/%s: %v", e.Op, e.PartitionKey, e.Identity, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

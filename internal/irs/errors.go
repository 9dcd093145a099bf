package irs

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ConfigurationError reports a static configuration that can never be made
// safe at runtime. It is raised before any network interaction.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// RemoteReadError wraps a failed or timed out query against a contract.
type RemoteReadError struct {
	Op     string
	Target common.Address
	Err    error
}

func (e *RemoteReadError) Error() string {
	return fmt.Sprintf("read %s on %s: %v", e.Op, e.Target.Hex(), e.Err)
}

func (e *RemoteReadError) Unwrap() error { return e.Err }

// RemoteWriteError wraps a transaction that could not be submitted, was
// reverted, or was not confirmed in time.
type RemoteWriteError struct {
	Op     string
	Target common.Address
	TxHash common.Hash
	Err    error
}

func (e *RemoteWriteError) Error() string {
	if e.TxHash != (common.Hash{}) {
		return fmt.Sprintf("write %s on %s (tx %s): %v", e.Op, e.Target.Hex(), e.TxHash.Hex(), e.Err)
	}
	return fmt.Sprintf("write %s on %s: %v", e.Op, e.Target.Hex(), e.Err)
}

func (e *RemoteWriteError) Unwrap() error { return e.Err }

// InconsistentStateError means a read after a confirmed write did not show the
// value the write should have produced, usually because another writer touched
// the same contract.
type InconsistentStateError struct {
	Target   common.Address
	Field    string
	Expected uint64
	Actual   uint64
}

func (e *InconsistentStateError) Error() string {
	return fmt.Sprintf("inconsistent %s on %s: expected %d, observed %d", e.Field, e.Target.Hex(), e.Expected, e.Actual)
}

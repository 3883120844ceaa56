package corectl

import "github.com/couchbase/gocbclientcore/request"

// ReconfigurationCompleted is published after a reconcile pass applies
// cleanly (even if it had nothing to do).
type ReconfigurationCompleted struct{}

// EventName implements eventbus.Event.
func (ReconfigurationCompleted) EventName() string { return "ReconfigurationCompleted" }

// ReconfigurationIgnored is published when a config arrives while a
// reconcile is already in flight; the arriving config is not dropped,
// it's folded into the in-flight reconcile's follow-up pass.
type ReconfigurationIgnored struct{}

// EventName implements eventbus.Event.
func (ReconfigurationIgnored) EventName() string { return "ReconfigurationIgnored" }

// ReconfigurationErrorDetected is published instead of
// ReconfigurationCompleted when at least one per-service reconfigure
// failed during the pass. The pass still ran to completion.
type ReconfigurationErrorDetected struct{}

// EventName implements eventbus.Event.
func (ReconfigurationErrorDetected) EventName() string { return "ReconfigurationErrorDetected" }

// ServiceReconfigurationFailed is published for each per-service
// add/remove failure during reconcile; the reconcile continues past
// it.
type ServiceReconfigurationFailed struct {
	Node        string
	ServiceType request.ServiceType
	Cause       error
}

// EventName implements eventbus.Event.
func (ServiceReconfigurationFailed) EventName() string { return "ServiceReconfigurationFailed" }

// ShutdownCompleted is published exactly once, after Shutdown tears
// down every managed node and bucket.
type ShutdownCompleted struct{}

// EventName implements eventbus.Event.
func (ShutdownCompleted) EventName() string { return "ShutdownCompleted" }

// Package action projects live friction points into UI-ready actionable
// items and offers a façade for executing an elimination by item id. It
// owns no state of its own; every projection is recomputed from the
// detectors' live sets so stale items disappear on the next call.
package action

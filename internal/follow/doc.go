// Package follow connects a change tracker to the change-log store.
//
// The Follower is the tracker's consumer: it receives parsed change entries
// on the tracker's owning goroutine, hands them to a flush loop over a
// bounded buffer (the tracker's backpressure bounds what is in flight), and
// batches them into the store by size and interval, checkpointing the latest
// sequence after each flush. Backoff supplies the tracker's reconnect delays.
package follow

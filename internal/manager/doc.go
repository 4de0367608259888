// Package manager coordinates hot-swapping the active inference backend.
// It is structured into small files by concern:
//
//   - manager.go: core Manager type, constructor, routing-state reads, Status.
//   - reload.go: the reload state machine (Idle -> Reloading -> Swapped|Failed),
//     initial boot, and the crashed-backend exit handler.
//   - errors.go: typed errors and predicates (IsReloadInProgress, IsReloadFailed).
//   - events.go / eventpub_memory.go: lifecycle event publishing.
//
// The Manager is the only writer of the routing state. Port numbers are
// allocated monotonically and never reused, even when a reload fails; the
// swap order (start new, probe, route, then drain old) guarantees a ready
// backend is reachable at every instant of a successful reload.
package manager

// Package events defines the typed events the turn controller emits.
//
// Event kinds are grouped by receiver-facing namespaces:
//
//   - turn_state.*
//   - assistant_response.*
//   - status.*
//   - persistence.*
//   - narration.*
//
// turn_state events
//
//   - TurnStarted (turn_state.started): a turn began streaming.
//   - TurnCancelling (turn_state.cancelling): cancellation was requested, the
//     fetch worker has not stopped yet.
//   - TurnCancelled (turn_state.cancelled): the turn stopped, nothing was
//     committed to history.
//   - TurnFailed (turn_state.failed): the model stream failed, nothing was
//     committed to history.
//   - TurnCompleted (turn_state.completed): the reply was committed and every
//     finalize step ran.
//
// assistant_response events
//
//   - AssistantResponseProgress (assistant_response.progress): number of
//     characters shown so far for the streaming reply.
//
// status events
//
//   - StatusUpdated (status.updated): the status sheet was replaced, rows carry
//     change flags against the previous sheet.
//   - StatusRefreshFailed (status.refresh_failed): the status sheet could not
//     be refreshed and was kept as is.
//
// persistence events
//
//   - SaveCompleted (persistence.save_completed): a save file was written.
//   - SaveFailed (persistence.save_failed): writing a save file failed.
//
// narration events
//
//   - NarrationFailed (narration.failed): handing the reply to the narrator
//     failed. Narration is best effort, the turn is not affected.
package events

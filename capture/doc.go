// Package capture implements the capture-delivery loop for one streamer.
//
// Every iteration starts from the parsed streamer config, injects the
// streamer name, date and clock stamps and the State carried over from the
// previous iteration, and resolves templates. Live metadata and part suffixes
// are applied on top, one backend runs its external pipeline, and the outcome
// becomes the next State. Each iteration works on a fresh clone of the parsed
// config, so edits to title, playlist, description and file names are dropped
// with it and never reach the next iteration; only State is carried forward.
//
// Configuration and precondition problems (unknown source or backend, missing
// credential files) are fatal and wrap ErrFatal. Everything else is logged and
// retried after the schedule.Policy delay, forever.
package capture

// Package hearing models the listener profile sent with every enhancement
// request: a two-ear audiogram over a fixed set of test frequencies and the
// tuning gain percentage.
//
// Both types are plain values. Copying an Audiogram or TuningGain yields an
// independent snapshot, so a request can capture them while the user keeps
// editing.
package hearing

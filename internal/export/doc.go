// Package export turns the current enhancement result into a downloadable
// blob named enhancedAudio.<format> and hands it to one or more sinks
// (a local directory, an S3 bucket).
//
// The requested format only sets the declared media type and file name. The
// service's bytes are passed through unchanged, so Detect is used to flag a
// blob whose real container does not match what was asked for.
package export

// Package enhance is the HTTP client for the remote audio enhancement service.
//
// Submit sends one file per request as multipart field "file". The listener
// profile is small structured control data, so it travels out of band in the
// x-hearing-loss (canonical audiogram JSON) and x-tuning-gain headers. The
// service answers {"processed_file": "..."}; the reported path is reduced to a
// bare filename and joined to /download/ to form the retrieval URL.
//
// Failures are split in two: *NetworkError when no response arrived and
// *ServiceError when the response was unusable. ErrEmptyFile is raised before
// anything touches the network.
package enhance

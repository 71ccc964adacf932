// Package fetcher retrieves single pages of patient records from the remote
// patients API.
//
// Every failure is returned as *Error, which carries the HTTP status code
// (0 for transport and decode failures) and, when the server supplied one,
// the retry_after hint in seconds. The retry package decides what to do with
// it; the resty client used here never retries on its own.
package fetcher

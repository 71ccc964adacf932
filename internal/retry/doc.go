// Package retry decides whether a failed request is retried and how long to
// wait before the next attempt.
//
// Policy governs page fetches and is shared by the first page and every
// subsequent page:
//
//   - 429: always retried. The wait is retry_after plus a fixed padding when
//     the server supplied retry_after, otherwise a capped exponential fallback.
//   - 5xx: retried while attempt < ServerErrorAttempts, with a fixed delay.
//   - anything else, including network failures: never retried.
//
// SubmitPolicy governs assessment submission: 4xx are final, everything
// else is retried up to MaxRetries times with capped exponential delay.
//
// In both, attempt is the 0-based number of failures already retried.
package retry

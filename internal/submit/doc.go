// Package submit posts alert lists to the scoring endpoint and decodes the
// graded feedback.
//
// Submitter.Submit sends one AlertLists document with the submission retry
// policy: 4xx responses are final, anything else is retried twice with
// exponential delay. Submitter also implements monitor.Listener so the
// server can submit every report whose lists changed since the last
// successful submission.
package submit

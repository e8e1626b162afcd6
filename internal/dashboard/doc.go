// Package dashboard is the business boundary of the feedback prioritizer.
// It validates submissions, drives the stage sequencer and result store for
// each cycle, and records committed batches in the archive.
package dashboard

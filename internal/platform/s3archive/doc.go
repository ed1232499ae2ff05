// Package s3archive stores a gzipped JSON copy of every dead-lettered task
// in an S3 or S3-compatible bucket for later inspection and replay.
package s3archive

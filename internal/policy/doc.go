// Package policy decodes the comment-tolerant JSON policy documents that
// steer a run: the required-part policy, the source PDF set, extraction
// thresholds and the quality threshold profile.
//
// Documents are decoded into typed structs and checked with validator tags.
// A missing required key fails fast with services.ErrConfiguration naming
// the key and the file.
package policy

// Package types defines the core data model shared by every stage of
// the classification-and-routing pipeline, plus the unified error
// taxonomy used across stages.
package types

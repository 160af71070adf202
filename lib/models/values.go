package models

import "fmt"

// Fetch statuses recorded on a Feed after a refresh attempt. The zero
// value means the feed has never been fetched.
const (
	FetchStatusOK    = "ok"
	FetchStatusError = "error"
)

// Annotation types.
const (
	AnnotationHighlight = "highlight"
	AnnotationComment   = "comment"
)

// ValidAnnotationType reports whether t is one of the known annotation
// types.
func ValidAnnotationType(t string) bool {
	return t == AnnotationHighlight || t == AnnotationComment
}

// TagTarget is the closed set of entities a tag can attach to. The storage
// layer keeps the string-pair encoding; callers go through ParseTagTarget
// instead of passing raw strings around.
type TagTarget string

const (
	TagTargetFeed      TagTarget = "feed"
	TagTargetSavedItem TagTarget = "saved_item"
)

func ParseTagTarget(s string) (TagTarget, error) {
	switch TagTarget(s) {
	case TagTargetFeed, TagTargetSavedItem:
		return TagTarget(s), nil
	}
	return "", fmt.Errorf("unknown tag target type: %q", s)
}

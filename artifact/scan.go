// Package artifact finds object-storage links embedded in assistant replies and
// resolves them into downloadable artifacts.
package artifact

import (
	"fmt"
	"regexp"
	"strings"
)

// Scheme is the locator prefix of the deployment's object store.
const Scheme = "s3://"

// DefaultDisplayName is used when a key has no final path segment.
const DefaultDisplayName = "download"

// linkPattern matches [label](s3://...) with a non-empty label.
var linkPattern = regexp.MustCompile(`\[([^\]]+)\]\((` + regexp.QuoteMeta(Scheme) + `[^)]+)\)`)

// locatorPattern splits a locator into bucket and key. The key may contain further slashes.
var locatorPattern = regexp.MustCompile(`(?s)^` + regexp.QuoteMeta(Scheme) + `([^/]+)/(.*)$`)

// SegmentKind tags a Segment.
type SegmentKind int

const (
	// Plain is unmatched prose.
	Plain SegmentKind = iota
	// ObjectLink is a markdown link whose target uses Scheme.
	ObjectLink
)

func (k SegmentKind) String() string {
	switch k {
	case Plain:
		return "plain"
	case ObjectLink:
		return "object_link"
	default:
		return fmt.Sprintf("SegmentKind(%d)", int(k))
	}
}

// Segment is one contiguous span of a reply. Text is set for Plain segments;
// Label and Locator are set for ObjectLink segments.
type Segment struct {
	Kind    SegmentKind
	Text    string
	Label   string
	Locator string
}

// PlainSegment builds a Plain segment.
func PlainSegment(text string) Segment {
	return Segment{Kind: Plain, Text: text}
}

// LinkSegment builds an ObjectLink segment.
func LinkSegment(label, locator string) Segment {
	return Segment{Kind: ObjectLink, Label: label, Locator: locator}
}

// Markdown renders the segment back to its source form.
func (s Segment) Markdown() string {
	if s.Kind == ObjectLink {
		return "[" + s.Label + "](" + s.Locator + ")"
	}
	return s.Text
}

// Scan splits text into Plain and ObjectLink segments in source order.
//
// Every link that matches the pattern is reported as ObjectLink, even when its
// locator does not parse; deciding whether it can be fetched is left to the
// renderer (see Render). Text without links, including the empty string,
// yields a single Plain segment.
func Scan(text string) []Segment {
	matches := linkPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return []Segment{PlainSegment(text)}
	}

	segments := make([]Segment, 0, 2*len(matches)+1)
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		if start > last {
			segments = append(segments, PlainSegment(text[last:start]))
		}
		segments = append(segments, LinkSegment(text[m[2]:m[3]], text[m[4]:m[5]]))
		last = end
	}
	if last < len(text) {
		segments = append(segments, PlainSegment(text[last:]))
	}
	return segments
}

// Locator identifies one object in the store.
type Locator struct {
	Bucket string
	Key    string
}

// DisplayName is the last path segment of the key, or DefaultDisplayName when
// that segment is empty or a dot path element.
func (l Locator) DisplayName() string {
	name := l.Key[strings.LastIndex(l.Key, "/")+1:]
	switch name {
	case "", ".", "..":
		return DefaultDisplayName
	}
	return name
}

// ValidationError reports a locator that cannot be split into bucket and key.
type ValidationError struct {
	Locator string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid object locator %q: %s", e.Locator, e.Reason)
}

// ParseLocator parses and validates a locator. Both bucket and key must be non-empty.
func ParseLocator(raw string) (Locator, error) {
	loc, err := splitLocator(raw)
	if err != nil {
		return Locator{}, err
	}
	if loc.Key == "" {
		return Locator{}, &ValidationError{Locator: raw, Reason: "empty key"}
	}
	return loc, nil
}

// splitLocator only requires the scheme and a bucket. The cache uses it for
// callers that already validated the locator.
func splitLocator(raw string) (Locator, error) {
	m := locatorPattern.FindStringSubmatch(raw)
	if m == nil {
		return Locator{}, &ValidationError{Locator: raw, Reason: "expected " + Scheme + "bucket/key"}
	}
	return Locator{Bucket: m[1], Key: m[2]}, nil
}

package artifact

import "context"

// Fetcher resolves a locator to an artifact. *Cache satisfies it through FetcherFor.
type Fetcher func(ctx context.Context, locator string) (*Artifact, error)

// FetcherFor binds a cache to a region.
func FetcherFor(cache *Cache, region string) Fetcher {
	return func(ctx context.Context, locator string) (*Artifact, error) {
		return cache.Fetch(ctx, locator, region)
	}
}

// Rendered is a segment together with the outcome of resolving it.
type Rendered struct {
	Segment
	// Artifact is set when the link was downloaded.
	Artifact *Artifact
	// Err is a *ValidationError or *DownloadError for a degraded link.
	Err error
}

// Downloadable reports whether the segment should be shown as a download.
func (r Rendered) Downloadable() bool {
	return r.Kind == ObjectLink && r.Artifact != nil
}

// Text is the display text: the label for downloads, the original markdown for
// degraded links, and the prose itself for plain segments.
func (r Rendered) Text() string {
	if r.Downloadable() {
		return r.Label
	}
	return r.Markdown()
}

// Render resolves every ObjectLink in segments. Links whose locator does not
// parse are degraded without a fetch; links whose download fails are degraded
// too. Neither affects the other segments.
func Render(ctx context.Context, segments []Segment, fetch Fetcher) []Rendered {
	out := make([]Rendered, 0, len(segments))
	for _, seg := range segments {
		r := Rendered{Segment: seg}
		if seg.Kind == ObjectLink {
			if _, err := ParseLocator(seg.Locator); err != nil {
				r.Err = err
			} else if artifact, err := fetch(ctx, seg.Locator); err != nil {
				r.Err = err
			} else {
				r.Artifact = artifact
			}
		}
		out = append(out, r)
	}
	return out
}

package assembly

import (
	"net/url"
	"strings"

	"github.com/poiesic/groundrag/core"
)

// dedup drops candidates that duplicate an earlier one. Input must already
// be ranked, so the survivor of each group is the best-scored instance.
func dedup(ranked []core.Candidate) []core.Candidate {
	out := make([]core.Candidate, 0, len(ranked))
	seenURLs := make(map[string]struct{})

	for _, c := range ranked {
		switch c.Kind {
		case core.CandidateWeb:
			key := webKey(c)
			if _, ok := seenURLs[key]; ok {
				continue
			}
			seenURLs[key] = struct{}{}
		default:
			if overlapsKept(out, c) {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

func overlapsKept(kept []core.Candidate, c core.Candidate) bool {
	for _, k := range kept {
		if k.Kind == core.CandidateWeb {
			continue
		}
		if sameRange(k.Citation, c.Citation) {
			return true
		}
	}
	return false
}

// sameRange reports whether two vector citations point at approximately the
// same passage: same chunk, or same document with ranges overlapping by more
// than half of the shorter one.
func sameRange(a, b core.Citation) bool {
	if a.ChunkID != "" && a.ChunkID == b.ChunkID {
		return true
	}
	if a.DocumentID == "" || a.DocumentID != b.DocumentID {
		return false
	}
	overlap := min(a.End, b.End) - max(a.Start, b.Start)
	if overlap <= 0 {
		return false
	}
	shorter := min(a.End-a.Start, b.End-b.Start)
	return 2*overlap > shorter
}

func webKey(c core.Candidate) string {
	if c.Citation.SourceURL == "" {
		return "text:" + c.Text
	}
	return "url:" + normalizeURL(c.Citation.SourceURL)
}

// normalizeURL lower-cases scheme and host and drops the fragment and any
// trailing slash.
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return strings.TrimRight(strings.ToLower(raw), "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String()
}

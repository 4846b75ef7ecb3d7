package onlinedb

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Suggestion limits of a search by partial metadata.
const (
	MinSimilarity  = .5
	MaxSuggestions = 3
)

// ErrNotFound is returned for an unknown release id.
var ErrNotFound = errors.New("release not found")

// Catalog is an in-memory Searcher over a fixed set of releases.
type Catalog struct {
	mu       sync.RWMutex
	releases map[int]*Release
}

func NewCatalog(releases ...*Release) *Catalog {
	c := &Catalog{releases: make(map[int]*Release)}
	for _, r := range releases {
		c.Add(r)
	}
	return c
}

// LoadCatalog reads a JSON array of releases.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "onlinedb: read catalog")
	}
	var releases []*Release
	if err := json.Unmarshal(data, &releases); err != nil {
		return nil, errors.Wrapf(err, "onlinedb: parse catalog %s", path)
	}
	return NewCatalog(releases...), nil
}

// Add stores r under its ID, replacing a release with the same ID.
func (c *Catalog) Add(r *Release) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releases[r.ID] = r
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.releases)
}

func (c *Catalog) ReleaseByID(ctx context.Context, id int) (*Release, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.releases[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "id %d", id)
	}
	return r, nil
}

// SearchReleases ranks the catalog against the fields set in query and
// returns at most MaxSuggestions releases scoring MinSimilarity or more,
// best first.
func (c *Catalog) SearchReleases(ctx context.Context, query *Release) ([]Suggestion, error) {
	if _, ok := similarity(query, &Release{}); !ok {
		return nil, errors.New("empty release query")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var suggestions []Suggestion
	for _, r := range c.releases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if score, _ := similarity(query, r); score >= MinSimilarity {
			suggestions = append(suggestions, Suggestion{Entity: r, SourceSimilarity: score})
		}
	}
	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].SourceSimilarity != suggestions[j].SourceSimilarity {
			return suggestions[i].SourceSimilarity > suggestions[j].SourceSimilarity
		}
		return suggestions[i].Entity.ID < suggestions[j].Entity.ID
	})
	if len(suggestions) > MaxSuggestions {
		suggestions = suggestions[:MaxSuggestions]
	}
	return suggestions, nil
}

// similarity averages the per-field scores of the fields set in query.
// ok is false when query sets none of them.
func similarity(query, r *Release) (score float64, ok bool) {
	var total float64
	var n int
	if query.Title != "" {
		total += titleScore(query.Title, r.Title)
		n++
	}
	if query.Year != 0 {
		if query.Year == r.Year {
			total++
		}
		n++
	}
	if len(query.Publishing) > 0 {
		total += publishingScore(query.Publishing, r.Publishing)
		n++
	}
	if len(query.Recording.Actors) > 0 {
		total += actorScore(query.Recording.Actors, r.Recording.Actors)
		n++
	}
	if n == 0 {
		return 0, false
	}
	return total / float64(n), true
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func titleScore(query, title string) float64 {
	q, t := normalize(query), normalize(title)
	switch {
	case q == t:
		return 1
	case t != "" && (strings.Contains(t, q) || strings.Contains(q, t)):
		return .7
	}
	return 0
}

// publishingScore is 1 for a matching label and catalog number, .5 for the label alone.
func publishingScore(query, labels []Publishing) float64 {
	var best float64
	for _, q := range query {
		for _, l := range labels {
			if normalize(q.Name) != normalize(l.Name) {
				continue
			}
			if q.Catno == "" || normalize(q.Catno) == normalize(l.Catno) {
				return 1
			}
			best = .5
		}
	}
	return best
}

// actorScore is the share of query actors credited on the release.
func actorScore(query, actors []Actor) float64 {
	var found int
	for _, q := range query {
		for _, a := range actors {
			if normalize(q.Name) == normalize(a.Name) {
				found++
				break
			}
		}
	}
	return float64(found) / float64(len(query))
}

package onlinedb

// Release is the part of the release metadata the search command exchanges.
type Release struct {
	ID         int          `json:"id,omitempty"`
	Year       int          `json:"year,omitempty"`
	Title      string       `json:"title,omitempty"`
	Country    string       `json:"country,omitempty"`
	Publishing []Publishing `json:"publishing,omitempty"`
	Recording  Recording    `json:"recording"`
}

// Publishing is a label the release was published on.
type Publishing struct {
	Name  string `json:"name"`
	Catno string `json:"catno,omitempty"`
}

type Recording struct {
	Actors []Actor `json:"actors,omitempty"`
}

// Actor is a person or band with its roles, e.g. "performer".
type Actor struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles,omitempty"`
}

// Suggestion is one candidate release found by a search.
type Suggestion struct {
	Entity           *Release `json:"entity"`
	ServiceName      string   `json:"service_name"`
	OnlineSuggestion bool     `json:"online_suggestion"`
	SourceSimilarity float64  `json:"source_similarity"`
}

// SearchParams is the params object of the search command. Exactly one of
// the fields is expected to be set.
type SearchParams struct {
	ReleaseID *int     `json:"release_id,omitempty"`
	Release   *Release `json:"release,omitempty"`
}

package onlinedb

import (
	"context"
	"mqrpc/message"
	"mqrpc/middleware"
	"mqrpc/server"

	"github.com/pkg/errors"
)

// Discogs service description reported by info.
const (
	DiscogsSubsystem   = "audio"
	DiscogsDescription = "Discogs client"
)

// DiscogsVersion is what the Discogs worker answers to info.
var DiscogsVersion = message.Version{
	Subsystem:   DiscogsSubsystem,
	Name:        DiscogsQueue,
	Description: DiscogsDescription,
}

// Searcher is the backend a search worker queries.
type Searcher interface {
	ReleaseByID(ctx context.Context, id int) (*Release, error)
	SearchReleases(ctx context.Context, r *Release) ([]Suggestion, error)
}

// NewWorker returns a server answering ping, info and search with s.
func NewWorker(version message.Version, s Searcher, opts ...server.Option) *server.Server {
	svr := server.NewServer(version, opts...)
	svr.Handle(CmdSearch, SearchHandler(version.Name, s))
	return svr
}

// SearchHandler serves the search command. The params shape selects the
// lookup: "release_id" fetches one release, "release" searches by partial
// metadata.
func SearchHandler(service string, s Searcher) middleware.HandlerFunc {
	return func(ctx context.Context, req *message.Request) *message.Reply {
		var params SearchParams
		if err := req.DecodeParams(&params); err != nil {
			return &message.Reply{Error: err.Error()}
		}
		switch {
		case params.ReleaseID != nil:
			r, err := s.ReleaseByID(ctx, *params.ReleaseID)
			if err != nil {
				return &message.Reply{Error: errors.Wrap(err, "release by id").Error()}
			}
			return server.JSON([]Suggestion{{
				Entity:           r,
				ServiceName:      service,
				OnlineSuggestion: true,
				SourceSimilarity: 1,
			}}, nil)
		case params.Release != nil:
			suggestions, err := s.SearchReleases(ctx, params.Release)
			if err != nil {
				return &message.Reply{Error: errors.Wrap(err, "release by incomplete data").Error()}
			}
			for i := range suggestions {
				suggestions[i].ServiceName = service
				suggestions[i].OnlineSuggestion = true
			}
			if suggestions == nil {
				suggestions = []Suggestion{}
			}
			return server.JSON(suggestions, nil)
		}
		return &message.Reply{Error: "expected release_id or release param"}
	}
}

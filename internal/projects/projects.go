// Package projects reshapes a GitHub user's repositories into public project summaries.
package projects

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/go-github/v60/github"
	"github.com/rs/zerolog"

	"github.com/jxtnz/portfolio-relay/internal/metrics"
	"github.com/jxtnz/portfolio-relay/internal/requestid"
)

// MaxProjects is the maximum number of summaries returned.
const MaxProjects = 5

// ErrorMessage is the only failure detail exposed to callers.
const ErrorMessage = "Unable to load projects right now."

// Summary is the public shape of one repository.
type Summary struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
	URL         string  `json:"url"`
	Language    *string `json:"language"`
	Stars       *int    `json:"stars,omitempty"`
	UpdatedAt   string  `json:"updatedAt,omitempty"`
}

// Aggregator fetches and summarizes repositories.
type Aggregator struct {
	source  Source
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewAggregator creates an Aggregator. m may be nil.
func NewAggregator(source Source, m *metrics.Metrics, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		source:  source,
		metrics: m,
		logger:  logger.With().Str("component", "projects").Logger(),
	}
}

// Summaries fetches the repositories and returns at most MaxProjects summaries.
func (a *Aggregator) Summaries(ctx context.Context) ([]Summary, error) {
	repos, err := a.source.ListRepos(ctx)
	if err != nil {
		return nil, err
	}
	return Summarize(repos)
}

// Handler serves GET /api/projects.
func (a *Aggregator) Handler(c *fiber.Ctx) error {
	summaries, err := a.Summaries(c.UserContext())
	if err != nil {
		a.logger.Error().
			Err(err).
			Str("request_id", requestid.FromContext(c.UserContext())).
			Msg("failed to fetch GitHub repos")
		if a.metrics != nil {
			a.metrics.RecordError("projects", "fetch_failed")
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": ErrorMessage})
	}
	return c.JSON(summaries)
}

// Summarize drops forks, orders by stars descending (missing counts as 0,
// ties keep input order) and maps the first MaxProjects entries. A null
// entry in the list is malformed upstream data and fails the whole call.
func Summarize(repos []*github.Repository) ([]Summary, error) {
	kept := make([]*github.Repository, 0, len(repos))
	for i, r := range repos {
		if r == nil {
			return nil, fmt.Errorf("repository %d is null", i)
		}
		if r.GetFork() {
			continue
		}
		kept = append(kept, r)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].GetStargazersCount() > kept[j].GetStargazersCount()
	})

	if len(kept) > MaxProjects {
		kept = kept[:MaxProjects]
	}

	out := make([]Summary, 0, len(kept))
	for _, r := range kept {
		out = append(out, toSummary(r))
	}
	return out, nil
}

func toSummary(r *github.Repository) Summary {
	s := Summary{
		ID:          r.GetID(),
		Name:        r.GetName(),
		Description: r.Description,
		URL:         r.GetHTMLURL(),
		Language:    r.Language,
		Stars:       r.StargazersCount,
	}
	if r.UpdatedAt != nil {
		s.UpdatedAt = r.UpdatedAt.Time.UTC().Format(time.RFC3339)
	}
	return s
}

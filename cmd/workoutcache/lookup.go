package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/workoutcache/internal/domain/schema"
	"github.com/kailas-cloud/workoutcache/internal/domain/search/filter"
	"github.com/kailas-cloud/workoutcache/internal/domain/search/request"
	chiTransport "github.com/kailas-cloud/workoutcache/internal/transport/chi"
	searchuc "github.com/kailas-cloud/workoutcache/internal/usecase/search"
)

type lookupOutput struct {
	Decision string        `json:"decision"`
	Hit      bool          `json:"hit"`
	Degraded bool          `json:"degraded"`
	Cause    string        `json:"cause,omitempty"`
	Matches  []matchOutput `json:"matches"`
}

type matchOutput struct {
	ID       string  `json:"id"`
	Score    float64 `json:"score"`
	Decision string  `json:"decision"`
	Text     string  `json:"text"`
}

func (c *cli) lookupCmd() *cobra.Command {
	var (
		filters  string
		limit    int
		minScore float64
	)
	cmd := &cobra.Command{
		Use:   "lookup <text>",
		Short: "Ask the cache for workouts similar to text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildRequest(strings.Join(args, " "), filters, limit, cmd.Flags().Changed("min-score"), minScore)
			if err != nil {
				return err
			}

			_, a, _, err := c.bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			v, err := a.Search.Lookup(cmd.Context(), &req)
			if err != nil {
				return fmt.Errorf("lookup: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), lookupToOutput(v))
		},
	}
	cmd.Flags().StringVar(&filters, "filters", "", `JSON filters, e.g. '{"sport_type":"run","duration_seconds":{"lte":3600}}'`)
	cmd.Flags().IntVar(&limit, "limit", request.DefaultLimit, "maximum number of matches")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "drop matches scoring below this")
	return cmd
}

func buildRequest(text, rawFilters string, limit int, hasMin bool, minScore float64) (request.Request, error) {
	var expr filter.Expression
	if rawFilters != "" {
		var err error
		if expr, err = chiTransport.ParseFilters([]byte(rawFilters), schema.Workout()); err != nil {
			return request.Request{}, fmt.Errorf("--filters: %w", err)
		}
	}
	var ms *float64
	if hasMin {
		ms = &minScore
	}
	req, err := request.New(text, expr, limit, ms)
	if err != nil {
		return request.Request{}, fmt.Errorf("query: %w", err)
	}
	return req, nil
}

func lookupToOutput(v searchuc.Verdict) lookupOutput {
	out := lookupOutput{
		Decision: v.Decision.String(),
		Hit:      v.Decision.IsHit(),
		Degraded: v.Degraded,
		Matches:  make([]matchOutput, len(v.Matches)),
	}
	if v.Cause != nil {
		out.Cause = v.Cause.Error()
	}
	for i, m := range v.Matches {
		out.Matches[i] = matchOutput{
			ID:       m.Result.ID(),
			Score:    m.Result.Score(),
			Decision: m.Decision.String(),
			Text:     m.Result.Item().Text(),
		}
	}
	return out
}

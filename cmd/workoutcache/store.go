package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	dombatch "github.com/kailas-cloud/workoutcache/internal/domain/batch"
	"github.com/kailas-cloud/workoutcache/internal/domain/item"
	chiTransport "github.com/kailas-cloud/workoutcache/internal/transport/chi"
)

type storeOutput struct {
	Stored int              `json:"stored"`
	Failed int              `json:"failed"`
	Items  []storeItemState `json:"items"`
}

type storeItemState struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (c *cli) storeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "store <file|->",
		Short: "Store workouts from a JSON file (one object or an array)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open input: %w", err)
				}
				defer f.Close()
				r = f
			}
			items, err := readItems(r)
			if err != nil {
				return err
			}

			_, a, _, err := c.bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			out := storeToOutput(a.Ingest.StoreBatch(cmd.Context(), items))
			if err := printJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if out.Failed > 0 {
				return fmt.Errorf("%d of %d workouts failed", out.Failed, len(items))
			}
			return nil
		},
	}
}

// readItems decodes a single workout object or an array of them.
func readItems(r io.Reader) ([]item.Item, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("input is empty")
	}

	var raw []chiTransport.BatchItem
	if data[0] == '[' {
		err = json.Unmarshal(data, &raw)
	} else {
		var one chiTransport.BatchItem
		err = json.Unmarshal(data, &one)
		raw = []chiTransport.BatchItem{one}
	}
	if err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}

	items := make([]item.Item, 0, len(raw))
	for i, b := range raw {
		it, err := item.New(b.ID, b.Text, b.Tags, b.Numerics, b.Payload)
		if err != nil {
			return nil, fmt.Errorf("workout %d: %w", i, err)
		}
		if len(b.Embedding) > 0 {
			it = it.WithEmbedding(b.Embedding, b.EmbeddingModel)
		}
		items = append(items, it)
	}
	return items, nil
}

func storeToOutput(rs []dombatch.Result) storeOutput {
	out := storeOutput{Items: make([]storeItemState, len(rs))}
	out.Stored, out.Failed = dombatch.Summary(rs)
	for i, r := range rs {
		out.Items[i] = storeItemState{ID: r.ID(), Status: string(r.Status())}
		if err := r.Err(); err != nil {
			out.Items[i].Error = err.Error()
		}
	}
	return out
}

// Package utils carries small helpers shared across the runtime.
package utils

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/pkoukk/tiktoken-go"
	"golang.org/x/sync/errgroup"
)

const fallbackEncoding = "cl100k_base"

// CountTokens counts BPE tokens for the given model, falling back to the
// cl100k_base encoding for models tiktoken does not know.
func CountTokens(model, text string) (int, error) {
	encoder, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoder, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return 0, fmt.Errorf("failed to load token encoding: %w", err)
		}
	}
	return len(encoder.Encode(text, nil, nil)), nil
}

// CountChunks tokenizes chunks concurrently and returns the total count.
// The group is fully joined before returning.
func CountChunks(ctx context.Context, model string, chunks []string) (int, error) {
	var total atomic.Int64

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, chunk := range chunks {
		g.Go(func() error {
			n, err := CountTokens(model, chunk)
			if err != nil {
				return err
			}
			total.Add(int64(n))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}
	return int(total.Load()), nil
}

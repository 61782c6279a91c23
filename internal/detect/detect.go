// Package detect runs backend type detection for a set of files.
package detect

import (
	"context"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/finbase/docingest/internal/api"
)

// Classifier identifies a document's category from its name and content.
// *api.Client satisfies this.
type Classifier interface {
	DetectDocumentType(ctx context.Context, filename string, content io.Reader) (string, error)
}

// Input is one file to classify. Open returns a fresh reader over the file
// content; it is called once per detection attempt.
type Input struct {
	Key  string
	Name string
	Open func() (io.ReadCloser, error)
}

// Result is the detection outcome for one input. Category is empty when the
// classifier could not identify the file or when the attempt failed; Err
// carries the per-file failure, if any.
type Result struct {
	Key      string
	Category string
	Err      error
}

// Run classifies all inputs concurrently. Each file's outcome is independent:
// a failed or unrecognized file yields an empty category for that file only.
// Run returns a non-nil error only for failures that invalidate the whole
// batch, an authentication rejection or a cancelled context.
func Run(ctx context.Context, classifier Classifier, inputs []Input) ([]Result, error) {
	results := make([]Result, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	for i, input := range inputs {
		g.Go(func() error {
			results[i] = detectOne(gctx, classifier, input)
			if api.IsAuthError(results[i].Err) {
				return results[i].Err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

func detectOne(ctx context.Context, classifier Classifier, input Input) Result {
	result := Result{Key: input.Key}

	reader, err := input.Open()
	if err != nil {
		result.Err = err
		return result
	}
	defer reader.Close()

	category, err := classifier.DetectDocumentType(ctx, input.Name, reader)
	if err != nil {
		result.Err = err
		return result
	}
	result.Category = category
	return result
}

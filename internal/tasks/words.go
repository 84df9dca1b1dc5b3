package tasks

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/aescanero/canvas/pkg/domain"
	"github.com/aescanero/canvas/pkg/task"
)

// DefaultChunkLines is how many lines split_text puts in one chunk.
const DefaultChunkLines = 100

// splitText cuts a text into chunks of at most lines lines.
func splitText(tc *task.Context, args []any, kwargs map[string]any) (any, error) {
	lines := DefaultChunkLines
	rest := kwargs
	if raw, ok := kwargs["lines"]; ok {
		n, err := task.Int(raw)
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			return nil, domain.NewTaskError(domain.KindTypeError, "lines must be positive, got %d", n)
		}
		lines = n
		rest = make(map[string]any, len(kwargs))
		for k, v := range kwargs {
			if k != "lines" {
				rest[k] = v
			}
		}
	}

	text, err := task.Strings(args, rest, "text")
	if err != nil {
		return nil, err
	}

	all := strings.SplitAfter(text[0], "\n")
	if n := len(all); n > 0 && all[n-1] == "" {
		all = all[:n-1]
	}

	chunks := make([]string, 0, (len(all)+lines-1)/lines)
	for start := 0; start < len(all); start += lines {
		end := start + lines
		if end > len(all) {
			end = len(all)
		}
		chunks = append(chunks, strings.Join(all[start:end], ""))
	}

	tc.Logger.Info("split text", zap.Int("lines", len(all)), zap.Int("chunks", len(chunks)))
	return chunks, nil
}

func countWords(_ *task.Context, args []any, kwargs map[string]any) (any, error) {
	chunk, err := task.Strings(args, kwargs, "chunk")
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, w := range strings.Fields(chunk[0]) {
		counts[w]++
	}
	return counts, nil
}

func mergeCounts(_ *task.Context, args []any, kwargs map[string]any) (any, error) {
	bound, err := task.Bind(args, kwargs, "counts")
	if err != nil {
		return nil, err
	}
	parts, err := task.List(bound[0])
	if err != nil {
		return nil, err
	}

	total := make(map[string]int)
	for i, p := range parts {
		m, ok := p.(map[string]any)
		if !ok {
			return nil, domain.NewTaskError(domain.KindTypeError, "element %d: expected a mapping, got %T", i, p)
		}
		for w, c := range m {
			n, err := task.Int(c)
			if err != nil {
				return nil, fmt.Errorf("element %d, word %q: %w", i, w, err)
			}
			total[w] += n
		}
	}
	return total, nil
}

func registerWords(reg *task.Registry, _ Deps) error {
	none := task.WithUnwrap(task.UnwrapNone)
	if err := reg.Register("split_text", splitText, none); err != nil {
		return err
	}
	if err := reg.Register("count_words", countWords, none); err != nil {
		return err
	}
	return reg.Register("merge_counts", mergeCounts, none)
}

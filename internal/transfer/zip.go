package transfer

import (
	"context"
	"sort"

	"github.com/portagehq/portage/internal/errdefs"
	"github.com/portagehq/portage/internal/metadata"
	"github.com/portagehq/portage/internal/metrics"
	"github.com/portagehq/portage/internal/paths"
	"github.com/portagehq/portage/internal/provider"
	"github.com/portagehq/portage/internal/streams"
)

// Zip produces a single-pass ZIP archive of a folder subtree. Member names
// are relative to root; folders appear as empty members with a trailing
// slash. The walk is depth-first with siblings ordered by name, so the same
// tree always archives identically regardless of backend listing order.
// Listings and file content are fetched lazily as the consumer reads, so the
// archive never lands on disk or in memory as a whole.
func (e *Engine) Zip(ctx context.Context, p provider.Provider, root paths.Path) (streams.Stream, error) {
	if !root.IsFolder() {
		return nil, errdefs.InvalidArgument("zip requires a folder path, got %q", root.String())
	}
	w := &zipWalk{p: p, root: root}
	return &meteredStream{
		Stream:   streams.NewZipStream(ctx, w.next),
		op:       "zip",
		provider: p.Name(),
		sink:     e.metrics,
	}, nil
}

// zipWalk yields archive members depth-first. The queue holds discovered but
// unvisited items; visiting a folder prepends its children so a subtree
// completes before the next sibling starts.
type zipWalk struct {
	p      provider.Provider
	root   paths.Path
	queue  []zipTodo
	seeded bool
}

type zipTodo struct {
	item metadata.Item
	rel  string // archive directory of the item, "" at the top
}

func (w *zipWalk) next(ctx context.Context) (*streams.ZipEntry, error) {
	if !w.seeded {
		w.seeded = true
		children, err := w.p.List(ctx, w.root)
		if err != nil {
			return nil, err
		}
		w.prepend(children, "")
	}
	if len(w.queue) == 0 {
		return nil, nil
	}
	todo := w.queue[0]
	w.queue = w.queue[1:]

	switch item := todo.item.(type) {
	case *metadata.Folder:
		rel := todo.rel + item.Name + "/"
		children, err := w.p.List(ctx, item.Path)
		if err != nil {
			return nil, err
		}
		w.prepend(children, rel)
		return &streams.ZipEntry{Name: rel}, nil
	case *metadata.File:
		path := item.Path
		return &streams.ZipEntry{
			Name:     todo.rel + item.Name,
			Modified: item.Modified,
			Open: func(ctx context.Context) (streams.Stream, error) {
				dl, err := w.p.Download(ctx, path, provider.DownloadOptions{Direct: true})
				if err != nil {
					return nil, err
				}
				if dl.Stream == nil {
					return nil, errdefs.ProviderError("%s returned no byte stream for %q", w.p.Name(), path.String())
				}
				return dl.Stream, nil
			},
		}, nil
	default:
		return nil, errdefs.Unexpected("listing for %q returned an unknown metadata variant", todo.rel)
	}
}

func (w *zipWalk) prepend(items []metadata.Item, rel string) {
	todos := make([]zipTodo, len(items), len(items)+len(w.queue))
	for i, item := range items {
		todos[i] = zipTodo{item: item, rel: rel}
	}
	sort.Slice(todos, func(i, j int) bool {
		return todos[i].item.ItemName() < todos[j].item.ItemName()
	})
	w.queue = append(todos, w.queue...)
}

// meteredStream reports consumed bytes to the metrics sink once on close.
type meteredStream struct {
	streams.Stream
	op       string
	provider string
	sink     metrics.Sink
	n        int64
	reported bool
}

func (s *meteredStream) Read(p []byte) (int, error) {
	n, err := s.Stream.Read(p)
	s.n += int64(n)
	return n, err
}

func (s *meteredStream) Close() error {
	if !s.reported {
		s.reported = true
		s.sink.ObserveTransfer(s.op, s.provider, s.n)
	}
	return s.Stream.Close()
}

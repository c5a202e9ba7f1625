package process

import (
	"github.com/blockmesh/process/internal/block"
	"github.com/blockmesh/process/internal/request"
)

// subscription is one outstanding Subscribe: endpoint names a block (in
// endpoint[0]) and a path inside it; delta selects Delta-mode over
// Update-mode responses (spec.md §4.5).
type subscription struct {
	id       string
	endpoint []string
	delta    bool
	respChan chan request.Response
}

func hasPrefix(path, prefix []string) bool {
	if len(path) < len(prefix) {
		return false
	}
	for i, p := range prefix {
		if path[i] != p {
			return false
		}
	}
	return true
}

// initialResponse computes the inline Subscribe response seeded from the
// block's current snapshot at the subscription's endpoint, delivered
// before any notify-round response for the same subscription (spec.md
// §4.5's "Initial Subscribe response is produced outside the coalescing
// path").
func initialResponse(sub *subscription, b *block.Block) (request.Response, error) {
	snapshot, err := b.Resolve(sub.endpoint[1:])
	if err != nil {
		return nil, err
	}
	if sub.delta {
		return &request.Delta{
			ID: sub.id,
			Changes: []request.DeltaChange{
				{Path: nil, Value: snapshot},
			},
		}, nil
	}
	return &request.Update{ID: sub.id, Value: snapshot}, nil
}

// notifyResponse computes, for one subscription, the response to a
// BlockNotify round given the full ordered list of pending changes for
// that block. It returns (nil, nil) when nothing in pending matches the
// subscription's endpoint — no response is due this round.
func notifyResponse(sub *subscription, b *block.Block, pending []block.Change) (request.Response, error) {
	var relevant []block.Change
	for _, c := range pending {
		if hasPrefix(c.Path, sub.endpoint) {
			relevant = append(relevant, c)
		}
	}
	if len(relevant) == 0 {
		return nil, nil
	}

	if !sub.delta {
		snapshot, err := b.Resolve(sub.endpoint[1:])
		if err != nil {
			return nil, err
		}
		return &request.Update{ID: sub.id, Value: snapshot}, nil
	}

	changes := make([]request.DeltaChange, 0, len(relevant))
	for _, c := range relevant {
		stripped := c.Path[len(sub.endpoint):]
		if c.Delete {
			changes = append(changes, request.DeltaChange{Path: stripped, Deleted: true})
		} else {
			changes = append(changes, request.DeltaChange{Path: stripped, Value: c.Value})
		}
	}
	return &request.Delta{ID: sub.id, Changes: changes}, nil
}

// Package process implements the single-writer message loop that owns a
// set of Blocks: all block mutation, subscription bookkeeping, and
// response routing happens on one goroutine draining one channel, while
// producers (transports, controllers, device goroutines) only ever
// enqueue (spec.md §4.4, §5).
package process

import (
	"github.com/blockmesh/process/internal/block"
	"github.com/blockmesh/process/internal/request"
)

// event is the tagged union the loop's queue carries. Exactly one of
// the typed fields below is populated per event; which one is
// determined by kind.
type event struct {
	kind eventKind

	// BlockAdd
	blockName string
	block     *block.Block

	// Get / Put / Post / Subscribe / Unsubscribe
	req      request.Request
	respChan chan request.Response

	// BlockChanged
	change block.Change

	// BlockNotify
	notifyBlock string

	// BlockRespond
	resp     request.Response
	respDest chan request.Response

	// BlockList
	clientCommsID string
	remoteNames   []string
}

type eventKind int

const (
	eventBlockAdd eventKind = iota
	eventRequest
	eventBlockChanged
	eventBlockNotify
	eventBlockRespond
	eventBlockList
	eventStop
)

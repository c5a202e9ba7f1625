package process

import (
	"github.com/blockmesh/process/internal/block"
	"github.com/blockmesh/process/internal/meta"
)

// newProcessBlock builds the synthetic block every Process hosts under
// its own name, exposing which blocks it owns and which remote blocks
// its client comms have announced (spec.md §4.4 BlockAdd/BlockList
// handlers; mirrors pymalcolm's Process.process_block).
func newProcessBlock(name string) (*block.Block, *block.Attribute, *block.Attribute) {
	b := block.New(name)

	blocks := block.NewAttribute(meta.NewStringArrayMeta("Blocks hosted by this Process"), []string{})
	b.AddChild("blocks", blocks)

	remoteBlocks := block.NewAttribute(meta.NewStringArrayMeta("Blocks hosted by remote processes"), []string{})
	b.AddChild("remoteBlocks", remoteBlocks)

	return b, blocks, remoteBlocks
}

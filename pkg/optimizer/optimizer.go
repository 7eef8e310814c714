package optimizer

import (
	"github.com/xplshn/bflift/pkg/config"
	"github.com/xplshn/bflift/pkg/ir"
)

// Pass rewrites a routine in place and reports how many rewrites it made.
type Pass interface {
	Name() string
	Run(rtn *ir.Routine) int
}

type Stats struct {
	Pass    string
	Changes int
	Before  Profile
	After   Profile
}

// Profile summarizes the shape of a routine.
type Profile struct {
	Blocks       int
	Instructions int
	Branches     int
	Temps        int
}

func ProfileOf(rtn *ir.Routine) Profile {
	p := Profile{Blocks: rtn.NumBlocks(), Temps: rtn.TempCount}
	for _, block := range rtn.Explored {
		p.Instructions += len(block.Stream)
		if last := block.Last(); last != nil && last.Op == ir.OpJs {
			p.Branches++
		}
	}
	return p
}

var registry = map[config.Feature]Pass{
	config.FeatFoldMoves:        foldMoves{},
	config.FeatFoldCells:        foldCells{},
	config.FeatClearLoops:       clearLoops{},
	config.FeatPruneUnreachable: pruneUnreachable{},
}

// FromConfig returns the enabled passes in pipeline order.
func FromConfig(cfg *config.Config) []Pass {
	var passes []Pass
	for ft := config.Feature(0); ft < config.FeatCount; ft++ {
		if cfg.IsFeatureEnabled(ft) {
			passes = append(passes, registry[ft])
		}
	}
	return passes
}

// Apply runs each pass once, in order.
func Apply(rtn *ir.Routine, passes ...Pass) []Stats {
	stats := make([]Stats, 0, len(passes))
	for _, pass := range passes {
		before := ProfileOf(rtn)
		n := pass.Run(rtn)
		stats = append(stats, Stats{Pass: pass.Name(), Changes: n, Before: before, After: ProfileOf(rtn)})
	}
	return stats
}

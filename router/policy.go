package router

import (
	"github.com/xlayer/rpcrouter/common"
	"github.com/xlayer/rpcrouter/evm"
)

type RouteDecision uint8

const (
	RouteLocal RouteDecision = iota
	RouteLegacy
)

func (d RouteDecision) String() string {
	if d == RouteLegacy {
		return "legacy"
	}
	return "local"
}

// Decide picks the backend for a call that refers to ref. Anything that is
// not provably older than the cutoff block is served locally, including the
// cutoff block itself.
func Decide(cfg *common.RouterConfig, ref evm.BlockRef) RouteDecision {
	if cfg == nil || !cfg.Enabled {
		return RouteLocal
	}
	switch ref.Kind {
	case evm.BlockRefEarliest:
		if cfg.CutoffBlock > 0 {
			return RouteLegacy
		}
	case evm.BlockRefNumber:
		if ref.Number < cfg.CutoffBlock {
			return RouteLegacy
		}
	}
	return RouteLocal
}

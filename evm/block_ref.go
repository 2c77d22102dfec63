package evm

import (
	"math"
	"strconv"
	"strings"

	"github.com/bytedance/sonic/ast"
)

type BlockRefKind uint8

const (
	BlockRefUnresolvable BlockRefKind = iota
	BlockRefNumber
	BlockRefEarliest
	BlockRefLatestOrPending
)

func (k BlockRefKind) String() string {
	switch k {
	case BlockRefNumber:
		return "number"
	case BlockRefEarliest:
		return "earliest"
	case BlockRefLatestOrPending:
		return "latest"
	default:
		return "unresolvable"
	}
}

// BlockRef is the block a call refers to, as far as it can be told from its
// params. Number is only meaningful for BlockRefNumber (and is 0 for
// BlockRefEarliest).
type BlockRef struct {
	Kind   BlockRefKind
	Number uint64
}

var Unresolvable = BlockRef{Kind: BlockRefUnresolvable}

func NumberRef(n uint64) BlockRef {
	return BlockRef{Kind: BlockRefNumber, Number: n}
}

func (r BlockRef) String() string {
	if r.Kind == BlockRefNumber {
		return strconv.FormatUint(r.Number, 10)
	}
	return r.Kind.String()
}

// ResolveBlockRef interprets one JSON value as a block identifier. It never
// fails: anything it does not recognize is Unresolvable.
func ResolveBlockRef(raw []byte) BlockRef {
	if len(raw) == 0 {
		return Unresolvable
	}
	node, err := ast.NewSearcher(string(raw)).GetByPath()
	if err != nil {
		return Unresolvable
	}
	return resolveNode(&node)
}

// ResolveBlockParam resolves the positional param at index. Params that are
// not a JSON array (named params, garbage) and short arrays are Unresolvable.
func ResolveBlockParam(params []byte, index uint32) BlockRef {
	if len(params) == 0 || index > math.MaxInt32 {
		return Unresolvable
	}
	searcher := ast.NewSearcher(string(params))
	searcher.CopyReturn = false
	node, err := searcher.GetByPath(int(index))
	if err != nil {
		return Unresolvable
	}
	return resolveNode(&node)
}

func resolveNode(node *ast.Node) BlockRef {
	switch node.TypeSafe() {
	case ast.V_STRING:
		s, err := node.StrictString()
		if err != nil {
			return Unresolvable
		}
		return resolveTag(s)
	case ast.V_NUMBER:
		raw, err := node.Raw()
		if err != nil {
			return Unresolvable
		}
		return resolveNumber(strings.TrimSpace(raw))
	default:
		return Unresolvable
	}
}

func resolveTag(s string) BlockRef {
	switch s {
	case "latest", "pending":
		return BlockRef{Kind: BlockRefLatestOrPending}
	case "earliest":
		return BlockRef{Kind: BlockRefEarliest}
	}
	if strings.HasPrefix(s, "0x") {
		n, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return Unresolvable
		}
		return NumberRef(n)
	}
	return Unresolvable
}

// resolveNumber accepts plain JSON integers only. 7.0 and 1e3 are not block numbers.
func resolveNumber(raw string) BlockRef {
	if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
		return NumberRef(n)
	}
	return Unresolvable
}

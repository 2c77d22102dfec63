package evm

// Position of the block identifier in the positional params of each method
// that reads historical state.
var defaultBlockParamIndex = map[string]uint32{
	"eth_getBlockByNumber":                    0,
	"eth_getBlockTransactionCountByNumber":    0,
	"eth_getUncleCountByBlockNumber":          0,
	"eth_getUncleByBlockNumberAndIndex":       0,
	"eth_getTransactionByBlockNumberAndIndex": 0,
	"eth_getBlockReceipts":                    0,
	"debug_traceBlockByNumber":                0,
	"trace_block":                             0,
	"trace_replayBlockTransactions":           0,

	"eth_getBalance":          1,
	"eth_getCode":             1,
	"eth_getTransactionCount": 1,
	"eth_call":                1,
	"eth_estimateGas":         1,
	"eth_createAccessList":    1,
	"eth_getAccount":          1,
	"eth_feeHistory":          1,
	"debug_traceCall":         1,

	// address, slot, block
	"eth_getStorageAt": 2,
	"eth_getProof":     2,
	"trace_call":       2,
}

// MethodParamTable maps a method to the index of its block parameter. It is
// built once and only read afterwards.
type MethodParamTable struct {
	rules map[string]uint32
}

// NewMethodParamTable returns the default catalogue merged with overrides.
func NewMethodParamTable(overrides map[string]uint32) *MethodParamTable {
	rules := make(map[string]uint32, len(defaultBlockParamIndex)+len(overrides))
	for m, idx := range defaultBlockParamIndex {
		rules[m] = idx
	}
	for m, idx := range overrides {
		rules[m] = idx
	}
	return &MethodParamTable{rules: rules}
}

func (t *MethodParamTable) ParamIndex(method string) (uint32, bool) {
	idx, ok := t.rules[method]
	return idx, ok
}

func (t *MethodParamTable) Len() int {
	return len(t.rules)
}

// Resolve returns the block a call refers to. Methods without a rule are
// Unresolvable.
func (t *MethodParamTable) Resolve(method string, params []byte) BlockRef {
	idx, ok := t.rules[method]
	if !ok {
		return Unresolvable
	}
	return ResolveBlockParam(params, idx)
}

package pipeline

import (
	"github.com/xlayer/rpcrouter/common"
)

// CountCalls returns how many requests in reqs expect a response.
func CountCalls(reqs []*common.JsonRpcRequest) int {
	n := 0
	for _, req := range reqs {
		if !req.IsNotification() {
			n++
		}
	}
	return n
}

// ResponseSlots maps each request index to its position in the response
// slice. Notifications map to -1.
func ResponseSlots(reqs []*common.JsonRpcRequest) []int {
	slots := make([]int, len(reqs))
	next := 0
	for i, req := range reqs {
		if req.IsNotification() {
			slots[i] = -1
			continue
		}
		slots[i] = next
		next++
	}
	return slots
}

// FillMissing replaces nil entries with an internal error for the matching
// request, so a batch answer always has one response per call.
func FillMissing(reqs []*common.JsonRpcRequest, responses []*common.JsonRpcResponse) []*common.JsonRpcResponse {
	slot := 0
	for _, req := range reqs {
		if req.IsNotification() {
			continue
		}
		if slot >= len(responses) {
			responses = append(responses, nil)
		}
		if responses[slot] == nil {
			responses[slot] = common.NewJsonRpcErrorResponse(req.ID, common.JsonRpcErrorInternalException, "no response produced for request", nil)
		}
		slot++
	}
	return responses
}

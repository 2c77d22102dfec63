package common

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic/ast"
)

// JsonRpcPayload is an inbound body split into the requests the pipeline
// should serve plus the elements that were rejected while parsing.
type JsonRpcPayload struct {
	IsBatch  bool
	Requests []*JsonRpcRequest

	// Positions (in the original batch) of elements that are not valid
	// requests, with the error response that takes their place.
	rejected map[int]*JsonRpcResponse
	size     int
}

// ParseJsonRpcPayload decodes a single request or a batch. A body that is
// not valid JSON, or an empty batch, is returned as an error; individual
// invalid batch elements are kept as rejected entries instead.
func ParseJsonRpcPayload(body []byte) (*JsonRpcPayload, error) {
	if !SonicCfg.Valid(body) {
		return nil, NewErrInvalidRequest(NewErrJsonParse(errors.New("body is not valid json")))
	}
	root, err := ast.NewSearcher(string(body)).GetByPath()
	if err != nil {
		return nil, NewErrInvalidRequest(NewErrJsonParse(err))
	}

	switch root.TypeSafe() {
	case ast.V_OBJECT:
		req, err := jsonRpcRequestFromNode(&root)
		if err != nil {
			return nil, NewErrInvalidRequest(err)
		}
		return &JsonRpcPayload{
			Requests: []*JsonRpcRequest{req},
			size:     1,
		}, nil

	case ast.V_ARRAY:
		nodes, err := root.ArrayUseNode()
		if err != nil {
			return nil, NewErrInvalidRequest(NewErrJsonParse(err))
		}
		if len(nodes) == 0 {
			return nil, NewErrInvalidRequest(errors.New("empty batch"))
		}
		p := &JsonRpcPayload{
			IsBatch:  true,
			Requests: make([]*JsonRpcRequest, 0, len(nodes)),
			size:     len(nodes),
		}
		for i := range nodes {
			if nodes[i].TypeSafe() != ast.V_OBJECT {
				p.reject(i, NullID, fmt.Errorf("batch element %d is not an object", i))
				continue
			}
			req, err := jsonRpcRequestFromNode(&nodes[i])
			if err != nil {
				id, _ := nodes[i].GetByPath("id").Raw()
				p.reject(i, json.RawMessage(id), err)
				continue
			}
			p.Requests = append(p.Requests, req)
		}
		return p, nil

	default:
		return nil, NewErrInvalidRequest(errors.New("request body must be a json object or array"))
	}
}

func (p *JsonRpcPayload) reject(idx int, id json.RawMessage, cause error) {
	if p.rejected == nil {
		p.rejected = make(map[int]*JsonRpcResponse)
	}
	p.rejected[idx] = NewJsonRpcErrorResponse(id, JsonRpcErrorInvalidRequest, "invalid request", cause.Error())
}

// Assemble places pipeline responses (one per non-notification request, in
// order) and rejected-element errors back into input order.
func (p *JsonRpcPayload) Assemble(responses []*JsonRpcResponse) []*JsonRpcResponse {
	out := make([]*JsonRpcResponse, 0, p.size)
	reqIdx, respIdx := 0, 0
	for i := 0; i < p.size; i++ {
		if rj, ok := p.rejected[i]; ok {
			out = append(out, rj)
			continue
		}
		req := p.Requests[reqIdx]
		reqIdx++
		if req.IsNotification() {
			continue
		}
		if respIdx < len(responses) && responses[respIdx] != nil {
			out = append(out, responses[respIdx])
		} else {
			out = append(out, NewJsonRpcErrorResponse(req.ID, JsonRpcErrorInternalException, "no response produced for request", nil))
		}
		respIdx++
	}
	return out
}

func jsonRpcRequestFromNode(node *ast.Node) (*JsonRpcRequest, error) {
	req := &JsonRpcRequest{}

	if v, err := node.GetByPath("jsonrpc").StrictString(); err == nil {
		req.JSONRPC = v
	}
	method, err := node.GetByPath("method").StrictString()
	if err != nil {
		return nil, errors.New("method is required and must be a string")
	}
	req.Method = method

	if rawID, err := node.GetByPath("id").Raw(); err == nil && rawID != "" {
		req.ID = json.RawMessage(rawID)
	}
	if rawParams, err := node.GetByPath("params").Raw(); err == nil && rawParams != "" && rawParams != "null" {
		req.Params = json.RawMessage(rawParams)
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.JSONRPC == "" {
		req.JSONRPC = JsonRpcVersion
	}
	return req, nil
}

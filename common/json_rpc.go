package common

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/bytedance/sonic/ast"
	"github.com/rs/zerolog"
)

const JsonRpcVersion = "2.0"

// NullID is used for responses whose request id could not be determined.
var NullID = json.RawMessage("null")

// JsonRpcRequest keeps id and params as raw JSON so a call can be relayed to
// another backend byte-for-byte.
type JsonRpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type JsonRpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *JsonRpcError) Error() string {
	return fmt.Sprintf("json-rpc error %d: %s", e.Code, e.Message)
}

type JsonRpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JsonRpcError   `json:"error,omitempty"`
}

func NewJsonRpcRequest(id interface{}, method string, params ...interface{}) (*JsonRpcRequest, error) {
	req := &JsonRpcRequest{
		JSONRPC: JsonRpcVersion,
		Method:  method,
	}
	if id != nil {
		idb, err := SonicCfg.Marshal(id)
		if err != nil {
			return nil, err
		}
		req.ID = idb
	}
	if params == nil {
		params = []interface{}{}
	}
	pb, err := SonicCfg.Marshal(params)
	if err != nil {
		return nil, err
	}
	req.Params = pb
	return req, nil
}

// IsNotification reports whether the request carries no id, meaning the
// caller expects no response. An explicit "id": null is still a request.
func (r *JsonRpcRequest) IsNotification() bool {
	return len(r.ID) == 0
}

func (r *JsonRpcRequest) Validate() error {
	if r.Method == "" {
		return errors.New("method is required")
	}
	if r.JSONRPC != "" && r.JSONRPC != JsonRpcVersion {
		return fmt.Errorf("unsupported jsonrpc version '%s'", r.JSONRPC)
	}
	if len(r.Params) > 0 {
		switch firstByte(r.Params) {
		case '[', '{':
		default:
			return errors.New("params must be an array or an object")
		}
	}
	return nil
}

func (r *JsonRpcRequest) MarshalZerologObject(e *zerolog.Event) {
	e.Str("method", r.Method)
	if len(r.ID) > 0 {
		e.RawJSON("id", r.ID)
	}
	if len(r.Params) > 0 {
		e.RawJSON("params", r.Params)
	}
}

func NewJsonRpcResponse(id json.RawMessage, result json.RawMessage) *JsonRpcResponse {
	if len(id) == 0 {
		id = NullID
	}
	if len(result) == 0 {
		result = NullID
	}
	return &JsonRpcResponse{
		JSONRPC: JsonRpcVersion,
		ID:      id,
		Result:  result,
	}
}

func NewJsonRpcErrorResponse(id json.RawMessage, code int, message string, data interface{}) *JsonRpcResponse {
	if len(id) == 0 {
		id = NullID
	}
	jre := &JsonRpcError{
		Code:    code,
		Message: message,
	}
	if data != nil {
		if db, err := SonicCfg.Marshal(data); err == nil {
			jre.Data = db
		}
	}
	return &JsonRpcResponse{
		JSONRPC: JsonRpcVersion,
		ID:      id,
		Error:   jre,
	}
}

// NewJsonRpcErrorResponseFromError converts an internal error into the error
// object returned to the caller, keeping the request id.
func NewJsonRpcErrorResponseFromError(id json.RawMessage, err error) *JsonRpcResponse {
	var jre *JsonRpcError
	if errors.As(err, &jre) {
		return &JsonRpcResponse{
			JSONRPC: JsonRpcVersion,
			ID:      orNull(id),
			Error:   jre,
		}
	}

	msg := err.Error()
	var data interface{}
	var se StandardError
	if errors.As(err, &se) {
		msg = se.Base().Message
		data = map[string]interface{}{
			"errorCode": se.CodeChain(),
			"cause":     causeMessage(se.GetCause()),
		}
	}
	return NewJsonRpcErrorResponse(id, JsonRpcErrorCodeOf(err), msg, data)
}

func causeMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (r *JsonRpcResponse) IsError() bool {
	return r.Error != nil
}

// IsResultEmptyish reports a null, empty array, empty object or empty string result.
func (r *JsonRpcResponse) IsResultEmptyish() bool {
	if r.Error != nil {
		return false
	}
	switch string(bytes.TrimSpace(r.Result)) {
	case "", "null", "[]", "{}", `""`, `"0x"`:
		return true
	}
	return false
}

// WithID returns a shallow copy carrying a different id.
func (r *JsonRpcResponse) WithID(id json.RawMessage) *JsonRpcResponse {
	cp := *r
	cp.ID = orNull(id)
	return &cp
}

func (r *JsonRpcResponse) MarshalZerologObject(e *zerolog.Event) {
	if len(r.ID) > 0 {
		e.RawJSON("id", r.ID)
	}
	if r.Error != nil {
		e.Int("errorCode", r.Error.Code).Str("errorMessage", r.Error.Message)
	} else {
		e.Int("resultSize", len(r.Result))
	}
}

// ParseJsonRpcResponse decodes a single response object and checks that it is
// a well-formed JSON-RPC response: an object with an id and either a result or an error.
func ParseJsonRpcResponse(body []byte) (*JsonRpcResponse, error) {
	if !SonicCfg.Valid(body) {
		return nil, errors.New("json-rpc response is not valid json")
	}
	root, err := ast.NewSearcher(string(body)).GetByPath()
	if err != nil {
		return nil, err
	}
	if root.TypeSafe() != ast.V_OBJECT {
		return nil, errors.New("json-rpc response is not an object")
	}
	return jsonRpcResponseFromNode(&root)
}

// ParseJsonRpcBatchResponse decodes an array of responses.
func ParseJsonRpcBatchResponse(body []byte) ([]*JsonRpcResponse, error) {
	if !SonicCfg.Valid(body) {
		return nil, errors.New("json-rpc batch response is not valid json")
	}
	root, err := ast.NewSearcher(string(body)).GetByPath()
	if err != nil {
		return nil, err
	}
	if root.TypeSafe() != ast.V_ARRAY {
		return nil, errors.New("json-rpc batch response is not an array")
	}
	nodes, err := root.ArrayUseNode()
	if err != nil {
		return nil, err
	}
	resps := make([]*JsonRpcResponse, 0, len(nodes))
	for i := range nodes {
		if nodes[i].TypeSafe() != ast.V_OBJECT {
			return nil, fmt.Errorf("batch response element %d is not an object", i)
		}
		resp, err := jsonRpcResponseFromNode(&nodes[i])
		if err != nil {
			return nil, fmt.Errorf("batch response element %d: %w", i, err)
		}
		resps = append(resps, resp)
	}
	return resps, nil
}

func jsonRpcResponseFromNode(node *ast.Node) (*JsonRpcResponse, error) {
	rawID, err := node.GetByPath("id").Raw()
	if err != nil || rawID == "" {
		return nil, errors.New("json-rpc response has no id")
	}
	resp := &JsonRpcResponse{
		JSONRPC: JsonRpcVersion,
		ID:      json.RawMessage(rawID),
	}

	if rawError, err := node.GetByPath("error").Raw(); err == nil && rawError != "null" {
		jre := &JsonRpcError{}
		if err := SonicCfg.UnmarshalFromString(rawError, jre); err != nil {
			return nil, fmt.Errorf("json-rpc error object is invalid: %w", err)
		}
		// Some servers send "result": null alongside the error, the error wins.
		resp.Error = jre
		return resp, nil
	}

	rawResult, err := node.GetByPath("result").Raw()
	if err != nil || rawResult == "" {
		return nil, errors.New("json-rpc response has neither result nor error")
	}
	resp.Result = json.RawMessage(rawResult)
	return resp, nil
}

// IDsEqual compares two raw ids. Byte equality is tried first; otherwise the
// values are decoded so that 1 and 1.0 or differently spaced strings match.
func IDsEqual(a, b json.RawMessage) bool {
	ta, tb := bytes.TrimSpace(a), bytes.TrimSpace(b)
	if bytes.Equal(ta, tb) {
		return true
	}
	if len(ta) == 0 || len(tb) == 0 {
		return false
	}
	var va, vb interface{}
	if err := SonicCfg.Unmarshal(ta, &va); err != nil {
		return false
	}
	if err := SonicCfg.Unmarshal(tb, &vb); err != nil {
		return false
	}
	return reflect.DeepEqual(va, vb)
}

func orNull(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return NullID
	}
	return id
}

func firstByte(b []byte) byte {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return c
		}
	}
	return 0
}

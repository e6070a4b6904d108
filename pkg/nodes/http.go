package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	weavererrors "github.com/wehubfusion/Weaver/pkg/errors"
	"github.com/wehubfusion/Weaver/pkg/execution"
	"github.com/wehubfusion/Weaver/pkg/workflow"
)

func (o *Operations) httpRequest(ctx context.Context, node workflow.Node, _ interface{}, _ *execution.Context) (interface{}, error) {
	url := node.Config.String("url")
	if url == "" {
		return nil, weavererrors.NewConfigError("URL is required")
	}

	method := node.Config.String("method")
	if method == "" {
		method = http.MethodGet
	}

	headers, err := requestHeaders(node.Config["headers"])
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if method == http.MethodPost || method == http.MethodPut {
		payload, err := requestBody(node.Config["body"])
		if err != nil {
			return nil, err
		}
		if payload != nil {
			body = bytes.NewReader(payload)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, weavererrors.NewNetworkError(err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	o.logger.Debug("sending http request",
		zap.String("node_id", node.ID),
		zap.String("method", method),
		zap.String("url", url))

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, weavererrors.NewNetworkError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, weavererrors.NewNetworkError(err)
	}

	var data interface{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if !gjson.ValidBytes(raw) {
			return nil, weavererrors.NewParseError(
				fmt.Sprintf("Invalid JSON response: %s", truncate(raw, 64)), nil)
		}
		data = gjson.ParseBytes(raw).Value()
	}

	return map[string]interface{}{
		"status":     resp.StatusCode,
		"statusText": statusText(resp),
		"data":       data,
	}, nil
}

// requestHeaders accepts a JSON object string or a decoded map. Empty
// strings and nil mean no headers.
func requestHeaders(v interface{}) (map[string]string, error) {
	headers := map[string]string{}
	switch t := v.(type) {
	case nil:
		return headers, nil
	case string:
		if strings.TrimSpace(t) == "" {
			return headers, nil
		}
		parsed := gjson.Parse(t)
		if !gjson.Valid(t) || !parsed.IsObject() {
			return nil, weavererrors.NewConfigError("Invalid headers JSON")
		}
		parsed.ForEach(func(key, value gjson.Result) bool {
			headers[key.String()] = value.String()
			return true
		})
	case map[string]interface{}:
		for k, val := range t {
			headers[k] = fmt.Sprint(val)
		}
	case map[string]string:
		for k, val := range t {
			headers[k] = val
		}
	default:
		return nil, weavererrors.NewConfigError("Invalid headers JSON")
	}
	return headers, nil
}

// requestBody returns the bytes to send. JSON strings are compacted, other
// strings are sent verbatim and structured values are JSON encoded.
func requestBody(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		if t == "" {
			return nil, nil
		}
		if compact, ok := compactJSON(t); ok {
			return []byte(compact), nil
		}
		return []byte(t), nil
	default:
		encoded, err := json.Marshal(t)
		if err != nil {
			return nil, weavererrors.NewConfigError("Invalid body: " + err.Error())
		}
		return encoded, nil
	}
}

func statusText(resp *http.Response) string {
	text := strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode))
	text = strings.TrimSpace(text)
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}

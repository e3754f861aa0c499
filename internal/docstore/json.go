package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// decodeJSONDocument 解析 JSON 文档；数字保留为 json.Number，交给字段解码器判断整型/浮点
func decodeJSONDocument(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return data, nil
}

package json

import (
	"io"

	"github.com/bytedance/sonic"
)

// json 为本仓库统一使用的 JSON 编解码实现（基于 bytedance/sonic）。
//
// 说明：
//   - 业务代码不应直接 import 标准库 encoding/json 或 sonic，
//     统一通过本包完成编解码，便于全局替换实现；
//   - ConfigStd 与标准库行为对齐（HTML 转义、key 排序等）。
var json = sonic.ConfigStd

var (
	Marshal       = json.Marshal
	Unmarshal     = json.Unmarshal
	MarshalIndent = json.MarshalIndent
	NewDecoder    = func(r io.Reader) sonic.Decoder { return json.NewDecoder(r) }
	NewEncoder    = func(w io.Writer) sonic.Encoder { return json.NewEncoder(w) }
)

// RawMessage 为延迟解码的原始 JSON 字节。
type RawMessage []byte

// MarshalJSON 原样返回 m。
func (m RawMessage) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	return m, nil
}

// UnmarshalJSON 将 data 复制到 *m。
func (m *RawMessage) UnmarshalJSON(data []byte) error {
	*m = append((*m)[0:0], data...)
	return nil
}

// Package voice 主播麦克风分片的采集编码与接收端顺序播放
package voice

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrEmptyChunk 空分片
var ErrEmptyChunk = errors.New("voice: empty chunk")

// EncodeChunk 把一段音频编码为传输文本
func EncodeChunk(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeChunk 解码传输文本
func DecodeChunk(text string) ([]byte, error) {
	if text == "" {
		return nil, ErrEmptyChunk
	}
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("decode voice chunk: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyChunk
	}
	return data, nil
}

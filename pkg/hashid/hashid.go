package hashid

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
)

const chunkSize = 64 * 1024

// Identity 文件内容的稳定标识，hex 用作去重键，base64 供外部服务引用
type Identity struct {
	Hex    string
	Base64 string
}

// Compute 以固定大小分块读取 r 并计算 SHA-256，内存占用与输入大小无关。
// 只会返回底层读取错误。
func Compute(r io.Reader) (Identity, error) {
	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return Identity{}, err
	}
	sum := h.Sum(nil)
	return Identity{
		Hex:    hex.EncodeToString(sum),
		Base64: base64.StdEncoding.EncodeToString(sum),
	}, nil
}

// ComputeBytes 对内存中的字节计算内容标识
func ComputeBytes(b []byte) Identity {
	sum := sha256.Sum256(b)
	return Identity{
		Hex:    hex.EncodeToString(sum[:]),
		Base64: base64.StdEncoding.EncodeToString(sum[:]),
	}
}

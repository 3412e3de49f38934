package platform

import (
	"io"
	"os"
	"sync"
)

const bufferSize = 1 << 20 // 1 MiB

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, bufferSize)
		return &b
	},
}

// GetBuffer borrows a pooled copy buffer. Return it with PutBuffer.
func GetBuffer() *[]byte {
	return bufPool.Get().(*[]byte) //nolint:forcetypeassert // pool only holds *[]byte
}

// PutBuffer returns a buffer obtained from GetBuffer.
func PutBuffer(b *[]byte) {
	bufPool.Put(b)
}

// copyReadWrite streams the source through a pooled buffer, so memory use
// does not grow with file size.
func copyReadWrite(params CopyFileParams) (CopyResult, error) {
	src, err := os.Open(params.SrcPath)
	if err != nil {
		return CopyResult{}, err
	}
	defer src.Close()

	bufp := GetBuffer()
	defer PutBuffer(bufp)

	n, err := io.CopyBuffer(onlyWriter{params.DstFd}, src, *bufp)
	return CopyResult{BytesWritten: n, Method: ReadWrite}, err
}

// CopyReadWrite is the exported version for use by other packages during testing.
func CopyReadWrite(params CopyFileParams) (CopyResult, error) {
	return copyReadWrite(params)
}

// onlyWriter hides *os.File's ReadFrom so io.CopyBuffer really uses the buffer.
type onlyWriter struct {
	io.Writer
}

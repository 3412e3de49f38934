//go:build !linux && !darwin

package platform

// CopyFile falls back to read/write on platforms without a kernel copy offload.
func CopyFile(params CopyFileParams) (CopyResult, error) {
	preallocate(params.DstFd, params.SrcSize)
	return copyReadWrite(params)
}

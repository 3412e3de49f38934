//go:build darwin

package platform

// CopyFile streams the file on macOS. clonefile(2) needs a destination path
// that does not exist yet, and callers always hand over an open temp file.
func CopyFile(params CopyFileParams) (CopyResult, error) {
	preallocate(params.DstFd, params.SrcSize)
	return copyReadWrite(params)
}

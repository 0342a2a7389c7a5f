package exosyscall

import (
	"os"

	"github.com/spf13/afero"
)

// FileBlockDevice implements BlockDevice over a single afero file,
// treating it as a flat array of fixed-size blocks. Production use
// would back this with a real block device; tests back it with
// afero.NewMemMapFs() so the marshal -> verify -> transfer path runs
// without touching a real disk.
type FileBlockDevice struct {
	fs        afero.Fs
	path      string
	blockSize int64
}

// NewFileBlockDevice opens (creating if absent) path on fs as a block
// device with the given fixed block size.
func NewFileBlockDevice(fs afero.Fs, path string, blockSize int64) (*FileBlockDevice, error) {
	f, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	_ = f.Close()
	return &FileBlockDevice{fs: fs, path: path, blockSize: blockSize}, nil
}

func (d *FileBlockDevice) ReadBlockAt(blockno int64, buf []byte) (int, error) {
	f, err := d.fs.OpenFile(d.path, os.O_RDONLY, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n, err := f.ReadAt(buf, blockno*d.blockSize)
	if err != nil && n == 0 {
		return 0, nil // reading past the current end of file yields a zeroed block
	}
	return n, nil
}

func (d *FileBlockDevice) WriteBlockAt(blockno int64, buf []byte) (int, error) {
	f, err := d.fs.OpenFile(d.path, os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.WriteAt(buf, blockno*d.blockSize)
}

//go:build !linux

package backend

import (
	"errors"
	"os"
)

func getBlockDeviceSize(f *os.File) (int64, error) {
	return 0, errors.New("block devices are only supported on linux")
}

func getSectorSizes(f *os.File) (int64, int64, error) {
	return 0, 0, errors.New("block devices are only supported on linux")
}

func syncData(f *os.File) error {
	return f.Sync()
}

//go:build !darwin && !linux

package storage

import "errors"

func detectFilesystem(string) (string, error) {
	return "", errors.New("filesystem detection is unsupported on this platform")
}

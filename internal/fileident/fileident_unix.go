//go:build unix

package fileident

import (
	"os"
	"strconv"
	"syscall"
)

func resolve(path string) (Identity, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return Identity{}, false
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return Identity{}, false
	}
	return Identity{
		Device: strconv.FormatUint(uint64(st.Dev), 10),
		Value:  strconv.FormatUint(st.Ino, 10),
	}, true
}

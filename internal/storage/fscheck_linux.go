//go:build linux

package storage

import (
	"fmt"
	"syscall"
)

// statfs f_type values, from linux/magic.h and the filesystems' own headers.
var linuxFilesystemNames = map[uint64]string{
	0xEF53:     "ext4",
	0x58465342: "xfs",
	0x9123683E: "btrfs",
	0x01021994: "tmpfs",
	0x794C7630: "overlay",
	0x65735546: "fuse",
	0x4D44:     "vfat",
	0x2011BAB0: "exfat",
	0x6969:     "nfs",
	0xFF534D42: "cifs",
	0x517B:     "smbfs",
	0xFE534D42: "smb2",
	0x01021997: "9p",
}

func detectFilesystemType(path string) (string, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return "", fmt.Errorf("statfs %q: %w", path, err)
	}
	return linuxFilesystemName(uint64(st.Type)), nil
}

// linuxFilesystemName maps a statfs magic number to a name; unknown magics
// are returned in hex.
func linuxFilesystemName(magic uint64) string {
	if name, ok := linuxFilesystemNames[magic]; ok {
		return name
	}
	return fmt.Sprintf("0x%x", magic)
}

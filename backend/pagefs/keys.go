package pagefs

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Key schema. Every key starts with a single tag byte:
//
//	'S'                                  superblock
//	'I' + be_u64(inode)                  inode record
//	'D' + be_u64(parent) + ':' + name    directory entry -> be_u64(child)
//	'P' + be_u64(inode) + ':' + be_u64(page)  fixed-size page
const (
	tagSuperblock = 'S'
	tagInode      = 'I'
	tagDirEntry   = 'D'
	tagPage       = 'P'
)

func superblockKey() []byte {
	return []byte{tagSuperblock}
}

func inodeKey(inode uint64) []byte {
	key := make([]byte, 9)
	key[0] = tagInode
	binary.BigEndian.PutUint64(key[1:], inode)
	return key
}

func dirEntryKey(parent uint64, name string) []byte {
	key := make([]byte, 0, 10+len(name))
	key = append(key, tagDirEntry)
	key = binary.BigEndian.AppendUint64(key, parent)
	key = append(key, ':')
	key = append(key, name...)
	return key
}

func dirPrefix(parent uint64) []byte {
	key := make([]byte, 0, 10)
	key = append(key, tagDirEntry)
	key = binary.BigEndian.AppendUint64(key, parent)
	key = append(key, ':')
	return key
}

func pageKey(inode, page uint64) []byte {
	key := make([]byte, 0, 18)
	key = append(key, tagPage)
	key = binary.BigEndian.AppendUint64(key, inode)
	key = append(key, ':')
	key = binary.BigEndian.AppendUint64(key, page)
	return key
}

func pagePrefix(inode uint64) []byte {
	key := make([]byte, 0, 10)
	key = append(key, tagPage)
	key = binary.BigEndian.AppendUint64(key, inode)
	key = append(key, ':')
	return key
}

// decodeDirEntryKey recovers (parent, name) from a directory entry key.
func decodeDirEntryKey(key []byte) (parent uint64, name string, err error) {
	if len(key) < 10 || key[0] != tagDirEntry || key[9] != ':' {
		return 0, "", fmt.Errorf("malformed directory entry key %q", key)
	}
	return binary.BigEndian.Uint64(key[1:9]), string(key[10:]), nil
}

// decodePageKey recovers (inode, page) from a page key.
func decodePageKey(key []byte) (inode, page uint64, err error) {
	if len(key) != 18 || key[0] != tagPage || key[9] != ':' {
		return 0, 0, fmt.Errorf("malformed page key %q", key)
	}
	return binary.BigEndian.Uint64(key[1:9]), binary.BigEndian.Uint64(key[10:]), nil
}

// decodeInodeKey recovers the inode id from an inode key.
func decodeInodeKey(key []byte) (uint64, error) {
	if len(key) != 9 || key[0] != tagInode {
		return 0, fmt.Errorf("malformed inode key %q", key)
	}
	return binary.BigEndian.Uint64(key[1:]), nil
}

// encodeChild encodes a directory entry value.
func encodeChild(inode uint64) []byte {
	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, inode)
	return value
}

// decodeChild decodes a directory entry value.
func decodeChild(value []byte) (uint64, error) {
	if len(value) != 8 {
		return 0, fmt.Errorf("malformed directory entry value of %d bytes", len(value))
	}
	return binary.BigEndian.Uint64(value), nil
}

// isDirEntryKey reports whether key belongs to the directory index.
func isDirEntryKey(key []byte) bool {
	return len(key) >= 10 && key[0] == tagDirEntry && bytes.IndexByte(key[9:10], ':') == 0
}

package keys

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rimechain/rime/src/common"
)

// NodeKeyfile reads and writes the plaintext node key as a raw hex dump on
// local disk. This file is the one place plaintext key material is allowed
// outside process memory: the supervised node binary reads its identity from
// it. It lives on the node's data volume and never goes near the object
// store.
type NodeKeyfile struct {
	l    sync.Mutex
	path string
}

// NewNodeKeyfile ...
func NewNodeKeyfile(path string) *NodeKeyfile {
	return &NodeKeyfile{
		path: path,
	}
}

// Path returns the location of the underlying file.
func (k *NodeKeyfile) Path() string {
	return k.path
}

// checkFileInfo verifies that the file exists and has user permissions only.
func (k *NodeKeyfile) checkFileInfo() error {
	info, err := os.Stat(k.path)
	if err != nil {
		return err
	}

	perm := info.Mode().Perm()

	// build 000111111 mask
	var nonUserMask os.FileMode = (1 << 6) - 1

	// get permissions for 'groups' and 'others'
	nonUserPerm := perm & nonUserMask

	if nonUserPerm != 0 {
		return fmt.Errorf("key file permissions should exclude 'groups' and 'others'. Got %o", perm)
	}

	return nil
}

// ReadKey reads the key from the underlying file, which is expected to
// contain a hex dump of the key's D value as produced by WriteKey. The 0x
// prefix is optional on read.
func (k *NodeKeyfile) ReadKey() (*ecdsa.PrivateKey, error) {
	k.l.Lock()
	defer k.l.Unlock()

	if err := k.checkFileInfo(); err != nil {
		return nil, err
	}

	buf, err := os.ReadFile(k.path)
	if err != nil {
		return nil, err
	}

	raw, err := common.DecodeFromString(strings.TrimSpace(string(buf)))
	if err != nil {
		return nil, err
	}

	return ParsePrivateKey(raw)
}

// WriteKey writes a 0x-prefixed hex dump of the key's D value to the
// underlying file, readable by the owning user only.
func (k *NodeKeyfile) WriteKey(key *ecdsa.PrivateKey) error {
	k.l.Lock()
	defer k.l.Unlock()

	rawKey := common.EncodeToString(DumpPrivateKey(key))

	if err := os.MkdirAll(filepath.Dir(k.path), 0700); err != nil {
		return err
	}

	return os.WriteFile(k.path, []byte(rawKey), 0600)
}

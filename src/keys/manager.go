package keys

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/rimechain/rime/src/common"
	"github.com/rimechain/rime/src/storage"
)

const (
	// stage name used in fault reporting
	stageKeys = "keys"

	// sealerRetries bounds retries against the key-encryption service.
	// Throttling is common right after a fleet boots, when every instance
	// hits the service at once.
	sealerRetries = 8

	// KeyInfoFile is the name of the derived-address artifact written next
	// to the key on the data volume. It never contains key material.
	KeyInfoFile = "key_info.yaml"

	// KeyFile is the name of the plaintext key file consumed by the node
	// binary.
	KeyFile = "node.key"
)

// envelope is the persisted form of the node key: the sealer's ciphertext
// plus enough metadata to validate it. This is the only representation of
// the private key that ever leaves the process.
type envelope struct {
	KeyID      string `json:"key_id"`
	Ciphertext []byte `json:"ciphertext"`
	CreatedAt  int64  `json:"created_at"`
}

// NodeKey is the in-memory handle to a provisioned identity: the plaintext
// private key and the identifiers derived from it.
type NodeKey struct {
	PrivateKey *ecdsa.PrivateKey
	Addresses  *AddressBundle
}

// NodeID returns the node's bech32 node ID.
func (k *NodeKey) NodeID() string {
	return k.Addresses.NodeID
}

// Manager provisions or loads the node's envelope-encrypted identity key.
type Manager struct {
	store     storage.Store
	sealer    Sealer
	clusterID string
	networkID uint32
	logger    *logrus.Entry
}

// NewManager ...
func NewManager(store storage.Store, sealer Sealer, clusterID string, networkID uint32, logger *logrus.Entry) *Manager {
	return &Manager{
		store:     store,
		sealer:    sealer,
		clusterID: clusterID,
		networkID: networkID,
		logger:    logger,
	}
}

// keyPath returns the deterministic object path for a machine's sealed key.
// It is keyed by the provisioning-layer machine ID because the key-derived
// node ID does not exist until the key has been generated.
func (m *Manager) keyPath(machineID string) string {
	return fmt.Sprintf("%s/pki/%s", m.clusterID, machineID)
}

// ProvisionOrLoad loads and unseals this machine's key if one exists, or
// generates, seals and persists a new one. Either way it returns a NodeKey
// whose derived identifiers have passed the recompute self-check.
func (m *Manager) ProvisionOrLoad(ctx context.Context, machineID string) (*NodeKey, error) {
	keyID, err := m.describeWithRetry(ctx)
	if err != nil {
		return nil, common.NewFault(common.Transient, stageKeys, fmt.Errorf("key-encryption key unusable: %v", err))
	}

	path := m.keyPath(machineID)

	var priv *ecdsa.PrivateKey

	data, err := m.store.Get(ctx, path)
	switch {
	case err == nil:
		priv, err = m.unseal(ctx, data)
		if err != nil {
			// An unverifiable identity is never safe to proceed with.
			return nil, common.NewFault(common.Corruption, stageKeys, err)
		}
		m.logger.WithField("path", path).Info("loaded existing sealed key")

	case storage.IsNotFound(err):
		priv, err = m.generateAndSeal(ctx, path, keyID)
		if err != nil {
			return nil, err
		}
		m.logger.WithField("path", path).Info("generated and sealed new key")

	default:
		return nil, common.NewFault(common.Transient, stageKeys, err)
	}

	bundle, err := DeriveAddresses(&priv.PublicKey, m.networkID)
	if err != nil {
		return nil, common.NewFault(common.Corruption, stageKeys, err)
	}

	// Self-test: deriving twice from the same key must be byte-identical. A
	// mismatch means the process memory or the derivation tables are bad.
	if err := VerifyDerivations(&priv.PublicKey, m.networkID, bundle); err != nil {
		return nil, common.NewFault(common.Corruption, stageKeys, err)
	}

	m.logger.WithFields(logrus.Fields{
		"node_id": bundle.NodeID,
		"network": m.networkID,
	}).Info("node identity ready")

	return &NodeKey{
		PrivateKey: priv,
		Addresses:  bundle,
	}, nil
}

// WriteArtifacts writes the plaintext key file for the node binary and the
// derived-address artifact into dir. The key info artifact deliberately
// excludes key material.
func (m *Manager) WriteArtifacts(key *NodeKey, dir string) error {
	keyfile := NewNodeKeyfile(filepath.Join(dir, KeyFile))
	if err := keyfile.WriteKey(key.PrivateKey); err != nil {
		return common.NewFault(common.ResourceUnavailable, stageKeys, err)
	}

	info, err := yaml.Marshal(key.Addresses)
	if err != nil {
		return common.NewFault(common.Corruption, stageKeys, err)
	}
	if err := os.WriteFile(filepath.Join(dir, KeyInfoFile), info, 0600); err != nil {
		return common.NewFault(common.ResourceUnavailable, stageKeys, err)
	}

	return nil
}

func (m *Manager) unseal(ctx context.Context, data []byte) (*ecdsa.PrivateKey, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed key envelope: %v", err)
	}
	if len(env.Ciphertext) == 0 {
		return nil, fmt.Errorf("key envelope has empty ciphertext")
	}

	plaintext, err := m.sealer.Decrypt(ctx, env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("cannot decrypt key envelope: %v", err)
	}

	return ParsePrivateKey(plaintext)
}

func (m *Manager) generateAndSeal(ctx context.Context, path, keyID string) (*ecdsa.PrivateKey, error) {
	priv, err := GenerateKey()
	if err != nil {
		return nil, common.NewFault(common.Corruption, stageKeys, err)
	}

	var ciphertext []byte
	err = m.retry(ctx, func() error {
		var encErr error
		ciphertext, encErr = m.sealer.Encrypt(ctx, DumpPrivateKey(priv))
		return encErr
	})
	if err != nil {
		return nil, common.NewFault(common.Transient, stageKeys, fmt.Errorf("cannot encrypt key: %v", err))
	}

	env, err := json.Marshal(envelope{
		KeyID:      keyID,
		Ciphertext: ciphertext,
		CreatedAt:  time.Now().Unix(),
	})
	if err != nil {
		return nil, common.NewFault(common.Corruption, stageKeys, err)
	}

	err = m.retry(ctx, func() error {
		return m.store.Put(ctx, path, env)
	})
	if err != nil {
		return nil, common.NewFault(common.Transient, stageKeys, fmt.Errorf("cannot persist key envelope: %v", err))
	}

	return priv, nil
}

func (m *Manager) describeWithRetry(ctx context.Context) (string, error) {
	var keyID string
	err := m.retry(ctx, func() error {
		var descErr error
		keyID, descErr = m.sealer.Describe(ctx)
		return descErr
	})
	return keyID, err
}

func (m *Manager) retry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), sealerRetries), ctx)
	return backoff.Retry(op, policy)
}

package keys

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// KMSAPI is the subset of the KMS client used by KMSSealer.
type KMSAPI interface {
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
	DescribeKey(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)
}

// KMSSealer implements Sealer with an AWS KMS key. The encryption context
// binds ciphertext to the cluster, so key material restored into the wrong
// cluster fails to decrypt instead of silently producing a foreign identity.
type KMSSealer struct {
	client    KMSAPI
	keyID     string
	clusterID string
}

// NewKMSSealer ...
func NewKMSSealer(client KMSAPI, keyID, clusterID string) *KMSSealer {
	return &KMSSealer{
		client:    client,
		keyID:     keyID,
		clusterID: clusterID,
	}
}

func (s *KMSSealer) encryptionContext() map[string]string {
	return map[string]string{
		"cluster": s.clusterID,
	}
}

// Encrypt implements Sealer.
func (s *KMSSealer) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	out, err := s.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:             aws.String(s.keyID),
		Plaintext:         plaintext,
		EncryptionContext: s.encryptionContext(),
	})
	if err != nil {
		return nil, err
	}
	return out.CiphertextBlob, nil
}

// Decrypt implements Sealer.
func (s *KMSSealer) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	out, err := s.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:             aws.String(s.keyID),
		CiphertextBlob:    ciphertext,
		EncryptionContext: s.encryptionContext(),
	})
	if err != nil {
		return nil, err
	}
	return out.Plaintext, nil
}

// Describe implements Sealer.
func (s *KMSSealer) Describe(ctx context.Context) (string, error) {
	out, err := s.client.DescribeKey(ctx, &kms.DescribeKeyInput{
		KeyId: aws.String(s.keyID),
	})
	if err != nil {
		return "", err
	}
	if out.KeyMetadata == nil || out.KeyMetadata.Arn == nil {
		return "", fmt.Errorf("describe key %s returned no metadata", s.keyID)
	}
	return aws.ToString(out.KeyMetadata.Arn), nil
}

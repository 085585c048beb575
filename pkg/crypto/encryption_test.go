package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type EncryptorTestSuite struct {
	suite.Suite
	encryptor *Encryptor
}

func (suite *EncryptorTestSuite) SetupTest() {
	var err error
	suite.encryptor, err = NewEncryptor(strings.Repeat("k", 32))
	suite.Require().NoError(err)
}

func TestEncryptorTestSuite(t *testing.T) {
	suite.Run(t, new(EncryptorTestSuite))
}

func TestNewEncryptor_KeyLength(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid 32 byte key", strings.Repeat("a", 32), false},
		{"empty key", "", true},
		{"too short", "shortkey", true},
		{"too long", strings.Repeat("a", 40), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewEncryptor(tt.key)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "32 bytes")
				assert.Nil(t, enc)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, enc)
			}
		})
	}
}

func (suite *EncryptorTestSuite) TestEncryptDecrypt_RoundTrip() {
	for _, plaintext := range []string{
		"",
		"sk-live-9f8e7d6c5b4a",
		strings.Repeat("a", 2000),
		"ключ世界🔐!@#$%^&*()",
	} {
		ciphertext, err := suite.encryptor.Encrypt(plaintext)
		suite.NoError(err)
		suite.NotEmpty(ciphertext)

		decrypted, err := suite.encryptor.Decrypt(ciphertext)
		suite.NoError(err)
		suite.Equal(plaintext, decrypted)
	}
}

func (suite *EncryptorTestSuite) TestEncrypt_UniqueNonce() {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		ct, err := suite.encryptor.Encrypt("same plaintext")
		suite.NoError(err)
		seen[ct] = true
	}
	suite.Equal(100, len(seen), "every ciphertext should carry a fresh nonce")
}

func (suite *EncryptorTestSuite) TestDecrypt_InvalidBase64() {
	_, err := suite.encryptor.Decrypt("not-valid-base64!!!")
	suite.Error(err)
	suite.Contains(err.Error(), "decode")
}

func (suite *EncryptorTestSuite) TestDecrypt_CorruptedCiphertext() {
	ciphertext, err := suite.encryptor.Encrypt("api key")
	suite.Require().NoError(err)

	corrupted := "A" + ciphertext[1:]
	_, err = suite.encryptor.Decrypt(corrupted)
	suite.Error(err)
}

func (suite *EncryptorTestSuite) TestDecrypt_WrongKey() {
	ciphertext, err := suite.encryptor.Encrypt("api key")
	suite.Require().NoError(err)

	other, err := NewEncryptor(strings.Repeat("x", 32))
	suite.Require().NoError(err)

	_, err = other.Decrypt(ciphertext)
	suite.Error(err)
}

package jwt

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/matchwise/location-agent/pkg/encryption"
	"github.com/matchwise/location-agent/pkg/file"
)

// JWTManagerInterface defines methods to manage the session token and its
// refresh token. It doubles as the session gate: GetJWT returns "" until a
// valid, unexpired token exists.
type JWTManagerInterface interface {
	Initialize(secretPath string) error
	LoadTokens() error
	SaveTokens(token, refreshToken string) error
	GetJWT() string
	GetRefreshToken() string
	IsJWTValid() (bool, error)
	ValidateJWT(token string) (*jwt.Token, error)
}

// tokenData holds both JWT and refresh token for storage.
type tokenData struct {
	JWTToken     string `json:"jwt_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// JWTManager manages JWT and refresh tokens with file operations. The token
// file is AES-GCM encrypted at rest.
type JWTManager struct {
	TokenFilePath     string
	Token             string
	RefreshToken      string
	FileOps           file.FileOperations
	EncryptionManager encryption.EncryptionManagerInterface
	Secret            []byte
}

// NewJWTManager initializes a new JWTManager instance with a single file path.
func NewJWTManager(tokenFilePath string, fileOps file.FileOperations, encryptionManager encryption.EncryptionManagerInterface) JWTManagerInterface {
	return &JWTManager{
		TokenFilePath:     tokenFilePath,
		FileOps:           fileOps,
		EncryptionManager: encryptionManager,
	}
}

// Initialize loads the signing secret and any previously stored tokens.
func (jm *JWTManager) Initialize(secretPath string) error {
	secret, err := jm.FileOps.ReadFileRaw(secretPath)
	if err != nil || len(secret) == 0 {
		return errors.New("failed to read or validate secret key")
	}
	jm.Secret = secret

	return jm.LoadTokens()
}

// LoadTokens reads the JWT and refresh token from the token file. A missing
// or empty file initializes both to empty strings.
func (jm *JWTManager) LoadTokens() error {
	data, err := jm.FileOps.ReadFileRaw(jm.TokenFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			jm.Token = ""
			jm.RefreshToken = ""
			return nil
		}
		return err
	}

	if len(data) == 0 {
		jm.Token = ""
		jm.RefreshToken = ""
		return nil
	}

	decryptedData, err := jm.EncryptionManager.Decrypt(data)
	if err != nil {
		return err
	}

	var tokens tokenData
	if err := json.Unmarshal(decryptedData, &tokens); err != nil {
		return errors.New("failed to parse token data: " + err.Error())
	}

	jm.Token = tokens.JWTToken
	jm.RefreshToken = tokens.RefreshToken
	return nil
}

// SaveTokens validates the JWT's signature and writes both tokens to the
// encrypted token file. An empty refreshToken preserves the stored one.
func (jm *JWTManager) SaveTokens(token, refreshToken string) error {
	if _, err := jm.ValidateJWT(token); err != nil {
		return errors.New("invalid JWT signature: " + err.Error())
	}

	if refreshToken == "" {
		refreshToken = jm.RefreshToken
	}

	tokens := tokenData{
		JWTToken:     token,
		RefreshToken: refreshToken,
	}

	data, err := json.Marshal(tokens)
	if err != nil {
		return errors.New("failed to serialize token data: " + err.Error())
	}

	encryptedTokens, err := jm.EncryptionManager.Encrypt(data)
	if err != nil {
		return errors.New("failed to encrypt token data: " + err.Error())
	}

	if err := jm.FileOps.WriteFileRaw(jm.TokenFilePath, encryptedTokens); err != nil {
		return err
	}

	jm.Token = token
	jm.RefreshToken = refreshToken
	return nil
}

// GetJWT retrieves the current JWT token only if it is valid.
func (jm *JWTManager) GetJWT() string {
	if jm.Token == "" {
		return ""
	}

	isValid, err := jm.IsJWTValid()
	if err != nil || !isValid {
		return ""
	}

	return jm.Token
}

// GetRefreshToken returns the current refresh token, "" when none exists.
func (jm *JWTManager) GetRefreshToken() string {
	return jm.RefreshToken
}

// IsJWTValid checks if the current JWT token is valid, including signature
// verification and expiry.
func (jm *JWTManager) IsJWTValid() (bool, error) {
	if jm.Token == "" {
		return false, nil
	}

	token, err := jm.ValidateJWT(jm.Token)
	if err != nil {
		return false, nil // Invalid tokens are considered expired/invalid, not an error
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return false, errors.New("invalid JWT claims format")
	}

	exp, ok := claims["exp"].(float64)
	if !ok {
		return false, errors.New("JWT expiration (exp) claim missing or invalid")
	}

	expiryTime := time.Unix(int64(exp), 0)
	if time.Now().After(expiryTime) {
		return false, nil
	}

	return true, nil
}

// ValidateJWT checks the given JWT token for validity and signature.
func (jm *JWTManager) ValidateJWT(tokenString string) (*jwt.Token, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method: " + token.Header["alg"].(string))
		}
		return jm.Secret, nil
	})

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid JWT token")
	}

	return token, nil
}

package utils

import (
	"testing"
	"time"

	"smart-bookmark-backend/pkg/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestGenerateTokenPairAndValidate(t *testing.T) {
	svc := NewJWTService(testSecret)

	access, refresh, expiresIn, err := svc.GenerateTokenPair("user-1", "user@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)
	assert.Greater(t, expiresIn, time.Now().Unix())

	claims, err := svc.ValidateToken(access)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.Equal(t, "access", claims.Type)

	refreshClaims, err := svc.ValidateRefreshToken(refresh)
	require.NoError(t, err)
	assert.Equal(t, "refresh", refreshClaims.Type)
}

func TestValidateRefreshTokenRejectsAccessToken(t *testing.T) {
	svc := NewJWTService(testSecret)

	access, _, err := svc.GenerateAccessToken("user-1", "user@example.com")
	require.NoError(t, err)

	_, err = svc.ValidateRefreshToken(access)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid token type")
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	svc := NewJWTService(testSecret)
	other := NewJWTService("another-secret")

	access, _, err := svc.GenerateAccessToken("user-1", "user@example.com")
	require.NoError(t, err)

	_, err = other.ValidateToken(access)
	require.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	svc := NewJWTService(testSecret)

	// 手工签发一个已过期的token
	now := time.Now()
	claims := &models.TokenClaims{
		UserID: "user-1",
		Email:  "user@example.com",
		Type:   "access",
		Exp:    now.Add(-time.Hour).Unix(),
		Iat:    now.Add(-2 * time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = svc.ValidateToken(tokenString)
	require.Error(t, err)
}

func TestRefreshAccessToken(t *testing.T) {
	svc := NewJWTService(testSecret)

	_, refresh, _, err := svc.GenerateTokenPair("user-1", "user@example.com")
	require.NoError(t, err)

	newAccess, expiresIn, err := svc.RefreshAccessToken(refresh)
	require.NoError(t, err)
	require.NotEmpty(t, newAccess)
	assert.Greater(t, expiresIn, time.Now().Unix())

	claims, err := svc.ValidateToken(newAccess)
	require.NoError(t, err)
	assert.Equal(t, "access", claims.Type)
	assert.Equal(t, "user-1", claims.UserID)
}

func TestRefreshAccessTokenRejectsGarbage(t *testing.T) {
	svc := NewJWTService(testSecret)

	_, _, err := svc.RefreshAccessToken("not-a-token")
	require.Error(t, err)
}

func TestGenerateURLToken(t *testing.T) {
	token, err := GenerateURLToken(24)
	require.NoError(t, err)
	assert.Len(t, token, 32) // 24字节 → base64url 32字符

	// 非法长度回退到默认
	token2, err := GenerateURLToken(0)
	require.NoError(t, err)
	assert.NotEmpty(t, token2)

	// 两次生成不应相同
	token3, err := GenerateURLToken(24)
	require.NoError(t, err)
	assert.NotEqual(t, token, token3)
}

package utils

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	userID := uuid.New()
	token, err := GenerateToken("secret", userID, "admin", time.Hour)
	require.NoError(t, err)

	gotID, role, err := ParseToken("secret", token)
	require.NoError(t, err)
	assert.Equal(t, userID, gotID)
	assert.Equal(t, "admin", role)

	_, _, err = ParseToken("other-secret", token)
	assert.Error(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	token, err := GenerateToken("secret", uuid.New(), "customer", -time.Minute)
	require.NoError(t, err)

	_, _, err = ParseToken("secret", token)
	assert.Error(t, err)
}

func TestHashPassword(t *testing.T) {
	_, err := HashPassword("short")
	require.ErrorIs(t, err, ErrPasswordTooShort)

	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "correct horse"))
	assert.False(t, CheckPassword(hash, "wrong horse"))
}

func TestParsePagination(t *testing.T) {
	app := fiber.New()
	var got Pagination
	app.Get("/", func(c *fiber.Ctx) error {
		got = ParsePagination(c)
		return nil
	})

	cases := []struct {
		query string
		want  Pagination
	}{
		{query: "", want: Pagination{Page: 1, Limit: 20, Offset: 0}},
		{query: "?page=3&limit=10", want: Pagination{Page: 3, Limit: 10, Offset: 20}},
		{query: "?page=-2&limit=0", want: Pagination{Page: 1, Limit: 20, Offset: 0}},
		{query: "?page=2&limit=1000", want: Pagination{Page: 2, Limit: 100, Offset: 100}},
		{query: "?page=abc", want: Pagination{Page: 1, Limit: 20, Offset: 0}},
	}
	for _, tc := range cases {
		_, err := app.Test(httptest.NewRequest("GET", "/"+tc.query, nil), -1)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, tc.query)
	}

	assert.Equal(t, 3, Pagination{Limit: 10}.TotalPages(25))
	assert.Equal(t, 0, Pagination{Limit: 10}.TotalPages(0))
}

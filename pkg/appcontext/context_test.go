package appcontext_test

import (
	"context"
	"testing"

	"github.com/sellpoint/sellpoint-client/pkg/appcontext"
	"github.com/stretchr/testify/assert"
)

func TestAuthToken(t *testing.T) {
	ctx := appcontext.WithAuthToken(context.Background(), "token-123")

	token, ok := appcontext.GetAuthToken(ctx)
	assert.True(t, ok)
	assert.Equal(t, "token-123", token)

	_, ok = appcontext.GetAuthToken(context.Background())
	assert.False(t, ok)
}

func TestBusinessID(t *testing.T) {
	ctx := appcontext.WithBusinessID(context.Background(), "biz-7")

	id, ok := appcontext.GetBusinessID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "biz-7", id)
}

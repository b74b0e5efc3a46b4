package requestid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	ctx, id := New(context.Background())
	assert.NotEmpty(t, id)
	assert.Equal(t, id, FromContext(ctx))
}

func TestFromContext_Missing(t *testing.T) {
	id := FromContext(context.Background())
	assert.NotEmpty(t, id) // generates new UUID
}

func TestWithRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "test-123")
	assert.Equal(t, "test-123", FromContext(ctx))
}

func TestInherit(t *testing.T) {
	inbound := "2f1c7a9e-3b0d-4d5e-9a57-0c6f1e2d3b4a"
	ctx, id := Inherit(context.Background(), inbound)
	assert.Equal(t, inbound, id)
	assert.Equal(t, inbound, FromContext(ctx))

	_, id = Inherit(context.Background(), "not a uuid\r\nX-Injected: 1")
	assert.NotEqual(t, "not a uuid\r\nX-Injected: 1", id)
	assert.NotEmpty(t, id)
}

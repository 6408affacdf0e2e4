package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New(Options{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestDeliveryIDIsAttached(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "debug", Format: "json", Output: &buf})
	require.NoError(t, err)

	id := NewDeliveryID()
	ctx := WithDeliveryID(context.Background(), id)
	logger.With("component", "test").InfoContext(ctx, "delivered", "event", "activated")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, id, record["delivery_id"])
	assert.Equal(t, "activated", record["event"])
	assert.Equal(t, "test", record["component"])
}

func TestRecordsWithoutDeliveryIDOmitAttribute(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "info", Format: "console", Output: &buf})
	require.NoError(t, err)

	logger.Info("plain")
	assert.NotContains(t, buf.String(), "delivery_id")
	assert.True(t, strings.Contains(buf.String(), "msg=plain"))
}

func TestDebugSuppressedAtInfo(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "info", Output: &buf})
	require.NoError(t, err)

	logger.Debug("hidden")
	assert.Zero(t, buf.Len())
}

func TestNormalize(t *testing.T) {
	lvl, err := NormalizeLevel(" WARNING ")
	require.NoError(t, err)
	assert.Equal(t, "warn", lvl)

	format, err := NormalizeFormat("text")
	require.NoError(t, err)
	assert.Equal(t, "console", format)

	_, err = NormalizeFormat("xml")
	assert.Error(t, err)
}

func TestNewDeliveryIDIsUUID(t *testing.T) {
	id := NewDeliveryID()
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.NotEqual(t, id, NewDeliveryID())
}

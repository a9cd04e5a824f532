package broker

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nifyacorp/notification-worker/pkg/log"
	"github.com/nifyacorp/notification-worker/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

func TestDLQPayloadShape(t *testing.T) {
	cause := types.NewError(types.KindParse, "envelope is not valid JSON", errors.New("unexpected token"))

	payload := dlqPayload{
		OriginalData: json.RawMessage(`{"processor_type":"boe"}`),
		Error: dlqError{
			Message: cause.Error(),
			Name:    string(types.KindOf(cause)),
		},
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Contains(t, decoded, "original_data")
	assert.Contains(t, decoded, "timestamp")

	errBlock := decoded["error"].(map[string]interface{})
	assert.Equal(t, "ParseError", errBlock["name"])
	assert.Contains(t, errBlock["message"], "not valid JSON")

	// The original payload rides along verbatim, not re-encoded.
	original := decoded["original_data"].(map[string]interface{})
	assert.Equal(t, "boe", original["processor_type"])
}

func TestDLQPayloadQuotesNonJSON(t *testing.T) {
	original := []byte("{broken")
	raw := json.RawMessage(original)
	if !json.Valid(original) {
		quoted, err := json.Marshal(string(original))
		require.NoError(t, err)
		raw = quoted
	}

	data, err := json.Marshal(dlqPayload{OriginalData: raw, Timestamp: time.Now()})
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
}

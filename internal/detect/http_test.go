package detect

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commons-data/shelter.report/internal/db"
	"github.com/commons-data/shelter.report/internal/httputil"
)

func TestHTTPDetectorDecodesCandidates(t *testing.T) {
	t.Parallel()

	client := httputil.NewMockHTTPClient()
	client.AddResponse(http.StatusOK, `[
		{"object_type": "tent", "context": "park", "confidence": 0.82,
		 "box": {"x": 0.1, "y": 0.2, "width": 0.3, "height": 0.4}},
		{"object_type": "cardboard", "context": "street", "confidence": 0.41,
		 "box": {"x": 0.5, "y": 0.5, "width": 0.1, "height": 0.1}}
	]`)

	det := NewHTTPDetector("http://vision.local/detect", client)
	cands, err := det.Detect(context.Background(), Frame{Seq: 9, Data: []byte("frame-bytes")})
	require.NoError(t, err)
	require.Len(t, cands, 2)

	assert.Equal(t, db.ObjectTent, cands[0].ObjectType)
	assert.Equal(t, db.SettingPark, cands[0].Setting)
	assert.InDelta(t, 0.82, cands[0].Confidence, 1e-9)
	assert.Equal(t, BoundingBox{X: 0.1, Y: 0.2, Width: 0.3, Height: 0.4}, cands[0].Box)
	assert.Equal(t, db.ObjectCardboard, cands[1].ObjectType)

	require.Equal(t, 1, client.RequestCount())
	req := client.Requests[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "http://vision.local/detect", req.URL.String())
	assert.Equal(t, "application/octet-stream", req.Header.Get("Content-Type"))
	assert.Equal(t, "9", req.Header.Get("X-Frame-Seq"))
}

func TestHTTPDetectorErrors(t *testing.T) {
	t.Parallel()

	t.Run("non-200 status", func(t *testing.T) {
		t.Parallel()
		client := httputil.NewMockHTTPClient()
		client.AddResponse(http.StatusServiceUnavailable, "overloaded")

		det := NewHTTPDetector("http://vision.local/detect", client)
		_, err := det.Detect(context.Background(), Frame{})
		assert.ErrorContains(t, err, "503")
	})

	t.Run("transport failure", func(t *testing.T) {
		t.Parallel()
		client := httputil.NewMockHTTPClient()
		client.AddErrorResponse(assert.AnError)

		det := NewHTTPDetector("http://vision.local/detect", client)
		_, err := det.Detect(context.Background(), Frame{})
		assert.ErrorIs(t, err, assert.AnError)
	})

	t.Run("malformed body", func(t *testing.T) {
		t.Parallel()
		client := httputil.NewMockHTTPClient()
		client.AddResponse(http.StatusOK, `{"not": "a list"}`)

		det := NewHTTPDetector("http://vision.local/detect", client)
		_, err := det.Detect(context.Background(), Frame{})
		assert.ErrorContains(t, err, "decode")
	})
}

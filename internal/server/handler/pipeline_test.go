package handler

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTriggerPipelineSendsOnChannelWhenConfigured(t *testing.T) {
	ch := make(chan struct{}, 1)
	h := NewPipelineHandler(slog.Default()).WithTriggerChannel(ch)

	rec := httptest.NewRecorder()
	h.TriggerPipeline(rec, httptest.NewRequest(http.MethodPost, "/api/pipeline/trigger", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	select {
	case <-ch:
	default:
		t.Fatal("expected a value on the trigger channel")
	}
}

func TestTriggerPipelineDoesNotBlockWhenChannelFull(t *testing.T) {
	ch := make(chan struct{}, 1)
	ch <- struct{}{} // pre-fill so the handler's send must not block
	h := NewPipelineHandler(slog.Default()).WithTriggerChannel(ch)

	rec := httptest.NewRecorder()
	h.TriggerPipeline(rec, httptest.NewRequest(http.MethodPost, "/api/pipeline/trigger", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestTriggerPipelineWorksWithoutChannel(t *testing.T) {
	h := NewPipelineHandler(slog.Default())

	rec := httptest.NewRecorder()
	h.TriggerPipeline(rec, httptest.NewRequest(http.MethodPost, "/api/pipeline/trigger", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

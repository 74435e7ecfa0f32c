package providers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/checkflow/pkg/engine"
	"github.com/tombee/checkflow/pkg/providers"
)

func TestHTTP_Execute_MissingURLIsError(t *testing.T) {
	h := providers.NewHTTP(time.Second, 0)
	res := h.Execute(context.Background(), engine.CheckDefinition{}, map[string]any{}, nil, fakeCancel{})
	assert.Equal(t, engine.StatusError, res.Status)
}

func TestHTTP_Execute_ExtractsWithJQ(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"findings":[{"id":1},{"id":2}]}`))
	}))
	defer srv.Close()

	h := providers.NewHTTP(time.Second, 0)
	res := h.Execute(context.Background(), engine.CheckDefinition{}, map[string]any{
		"url":     srv.URL,
		"extract": ".findings | length",
	}, nil, fakeCancel{})

	require.Equal(t, engine.StatusOK, res.Status)
	assert.EqualValues(t, 2, res.Output)
}

func TestHTTP_Execute_NonJSONBodyWithoutExtractReturnsRawString(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain text response"))
	}))
	defer srv.Close()

	h := providers.NewHTTP(time.Second, 0)
	res := h.Execute(context.Background(), engine.CheckDefinition{}, map[string]any{"url": srv.URL}, nil, fakeCancel{})

	require.Equal(t, engine.StatusOK, res.Status)
	assert.Equal(t, "plain text response", res.Output)
}

func TestHTTP_Execute_ServerErrorStatusIsFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := providers.NewHTTP(time.Second, 0)
	res := h.Execute(context.Background(), engine.CheckDefinition{}, map[string]any{"url": srv.URL}, nil, fakeCancel{})

	assert.Equal(t, engine.StatusFailed, res.Status)
	assert.Contains(t, res.FailureReason, "500")
}

type fakeCancel struct{}

func (fakeCancel) Done() <-chan struct{} { return nil }
func (fakeCancel) Err() error            { return nil }

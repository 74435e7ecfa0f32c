package providers_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tombee/checkflow/pkg/engine"
	"github.com/tombee/checkflow/pkg/providers"
)

func TestNoop_Execute_EchoesPayload(t *testing.T) {
	n := providers.NewNoop()
	payload := map[string]any{"foo": "bar"}
	res := n.Execute(context.Background(), engine.CheckDefinition{}, payload, nil, nil)

	assert.Equal(t, engine.StatusOK, res.Status)
	assert.Equal(t, payload, res.Output)
}

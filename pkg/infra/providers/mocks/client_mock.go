package mocks

import (
	"context"
	"fmt"

	"github.com/coralogix/llm-tracekit-sub000/pkg/infra/providers"
	"github.com/stretchr/testify/mock"
)

// MockClient is a testify mock of providers.Client.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockClient) Complete(
	ctx context.Context,
	config *providers.Config,
	messages []providers.Message,
) (*providers.CompletionResponse, error) {
	args := m.Called(ctx, config, messages)
	resp, ok := args.Get(0).(*providers.CompletionResponse)
	if !ok && args.Get(0) != nil {
		return nil, fmt.Errorf("expected *providers.CompletionResponse, got %T", args.Get(0))
	}
	return resp, args.Error(1)
}

var _ providers.Client = (*MockClient)(nil)

package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/segyhp/microlend-ledger/internal/domain"
)

type MockUploader struct {
	mock.Mock
}

func (m *MockUploader) Upload(ctx context.Context, file domain.Receipt, folder string) (string, error) {
	args := m.Called(ctx, file, folder)
	return args.String(0), args.Error(1)
}

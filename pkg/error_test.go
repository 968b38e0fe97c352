package pkg

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransferStatus_String(t *testing.T) {
	tests := []struct {
		status TransferStatus
		want   string
	}{
		{TransferStatusSuccess, "success"},
		{TransferStatusShort, "short"},
		{TransferStatusStall, "stall"},
		{TransferStatusTimeout, "timeout"},
		{TransferStatusStop, "stop"},
		{TransferStatusOverrun, "overrun"},
		{TransferStatusDataError, "data error"},
		{TransferStatusNoConnection, "no connection"},
		{TransferStatus(99), "unknown"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func TestTransferStatus_Error(t *testing.T) {
	tests := []struct {
		status  TransferStatus
		wantErr error
	}{
		{TransferStatusSuccess, nil},
		{TransferStatusShort, nil},
		{TransferStatusStall, ErrStall},
		{TransferStatusTimeout, ErrTimeout},
		{TransferStatusStop, ErrCancelled},
		{TransferStatusOverrun, ErrOverrun},
		{TransferStatusDataError, ErrDataError},
		{TransferStatusNoConnection, ErrNoDevice},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.status.String(), func(t *testing.T) {
			err := tt.status.Error()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				assert.True(t, tt.status.OK())
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.False(t, tt.status.OK())
		})
	}
}

func TestSentinelErrors(t *testing.T) {
	errs := []error{
		ErrStall, ErrTimeout, ErrCancelled, ErrOverrun, ErrDataError,
		ErrNoDevice, ErrNotConfigured, ErrBusy, ErrQueueOverflow,
		ErrNoResources, ErrInvalidPipe, ErrInvalidState, ErrInvalidParameter,
		ErrNotSupported, ErrDescriptorTooShort, ErrDescriptorTypeMismatch,
		ErrAlreadyRunning, ErrNotRunning, ErrRegistryFull,
	}

	for i, err1 := range errs {
		for j, err2 := range errs {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("error %d and %d are equal", i, j)
			}
		}
	}
}

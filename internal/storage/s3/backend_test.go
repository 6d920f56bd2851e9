package s3

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/instantpreview/instantpreview/pkg/retry"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		notFound  bool
		retryable bool
	}{
		{"nil", nil, false, false},
		{"no such key", &types.NoSuchKey{}, true, false},
		{"head not found", &types.NotFound{}, true, false},
		{"api not found code", &smithy.GenericAPIError{Code: "NoSuchKey"}, true, false},
		{"throttled", &smithy.GenericAPIError{Code: "SlowDown"}, false, true},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false, false},
		{"transport", errors.New("connection refused"), false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			if tt.err == nil {
				if got != nil {
					t.Fatalf("classify(nil) = %v", got)
				}
				return
			}
			if errors.Is(got, fs.ErrNotExist) != tt.notFound {
				t.Errorf("not found = %v, want %v", errors.Is(got, fs.ErrNotExist), tt.notFound)
			}
			if retry.IsRetryable(got) != tt.retryable {
				t.Errorf("retryable = %v, want %v", retry.IsRetryable(got), tt.retryable)
			}
		})
	}
}

package export

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaximumBackoff: time.Millisecond}
}

func TestWriterRetriesTransientFailures(t *testing.T) {
	inserter := &fakeInserter{errs: []error{
		&googleapi.Error{Code: http.StatusServiceUnavailable},
		status.Error(codes.Unavailable, "try again"),
	}}
	writer, err := NewWriter(inserter, 10, fastRetry())
	require.NoError(t, err)

	written, err := writer.Write(context.Background(), []Row{{EventID: "order_1"}})

	require.NoError(t, err)
	assert.Equal(t, 1, written)
	require.Len(t, inserter.batches, 1)
}

func TestWriterGivesUpAfterMaxAttempts(t *testing.T) {
	transient := &googleapi.Error{Code: http.StatusTooManyRequests}
	inserter := &fakeInserter{errs: []error{transient, transient, transient, nil}}
	writer, err := NewWriter(inserter, 10, fastRetry())
	require.NoError(t, err)

	written, err := writer.Write(context.Background(), []Row{{EventID: "order_1"}})

	require.Error(t, err)
	assert.Zero(t, written)
	assert.Empty(t, inserter.batches)
}

func TestWriterStopsWhenContextCanceled(t *testing.T) {
	inserter := &fakeInserter{}
	writer, err := NewWriter(inserter, 10, fastRetry())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = writer.Write(ctx, []Row{{EventID: "order_1"}})

	require.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"http 503", &googleapi.Error{Code: http.StatusServiceUnavailable}, true},
		{"http 400", &googleapi.Error{Code: http.StatusBadRequest}, false},
		{"grpc deadline", status.Error(codes.DeadlineExceeded, "slow"), true},
		{"grpc invalid", status.Error(codes.InvalidArgument, "bad"), false},
		{"empty multi", cbigquery.MultiError{}, false},
		{"transient multi", cbigquery.MultiError{&googleapi.Error{Code: http.StatusBadGateway}}, true},
		{"mixed multi", cbigquery.MultiError{&googleapi.Error{Code: http.StatusBadGateway}, errors.New("schema")}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isRetryable(tc.err))
		})
	}
}

func TestNewWriterRequiresClient(t *testing.T) {
	_, err := NewWriter(nil, 0, RetryPolicy{})
	require.Error(t, err)
}

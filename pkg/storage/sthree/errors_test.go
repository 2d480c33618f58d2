package sthree

import (
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/oneconcern/confmon/pkg/errors"
	"github.com/oneconcern/confmon/pkg/storage/status"
	"github.com/stretchr/testify/assert"
)

func TestToSentinelErrors(t *testing.T) {
	for _, toPin := range []struct {
		code     int
		awsCode  string
		expected error
	}{
		{code: 404, awsCode: "NoSuchKey", expected: status.ErrNotExists},
		{code: 404, awsCode: "NotFound", expected: status.ErrNotExists},
		{code: 403, awsCode: "AccessDenied", expected: status.ErrForbidden},
		{code: 401, awsCode: "Unauthorized", expected: status.ErrUnauthorized},
		{code: 400, awsCode: "InvalidBucketName", expected: status.ErrInvalidResource},
		{code: 500, awsCode: "InternalError", expected: status.ErrStorageAPI},
	} {
		fixture := toPin
		t.Run(fmt.Sprintf("%d-%s", fixture.code, fixture.awsCode), func(t *testing.T) {
			err := awserr.NewRequestFailure(awserr.New(fixture.awsCode, "message", nil), fixture.code, "req-id")
			assert.True(t, errors.Is(toSentinelErrors(err), fixture.expected))
		})
	}

	assert.NoError(t, toSentinelErrors(nil))
	assert.NoError(t, filterErrNotExists(status.ErrNotExists.Wrapf("x")))
	assert.Error(t, filterErrNotExists(status.ErrForbidden))
}

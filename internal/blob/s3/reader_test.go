package s3blob

import (
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
)

type fakeHTTPStatusError struct{ status int }

func (f fakeHTTPStatusError) Error() string    { return "http error" }
func (f fakeHTTPStatusError) HTTPStatusCode() int { return f.status }

func TestIsNotFoundRecognizesNoSuchKey(t *testing.T) {
	assert.True(t, isNotFound(&types.NoSuchKey{}))
}

func TestIsNotFoundRecognizesNotFoundType(t *testing.T) {
	assert.True(t, isNotFound(&types.NotFound{}))
}

func TestIsNotFoundRecognizesHTTP404(t *testing.T) {
	assert.True(t, isNotFound(fakeHTTPStatusError{status: 404}))
}

func TestIsNotFoundFalseForOtherErrors(t *testing.T) {
	assert.False(t, isNotFound(errors.New("boom")))
	assert.False(t, isNotFound(fakeHTTPStatusError{status: 500}))
}

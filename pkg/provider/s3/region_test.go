package s3

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIMDS struct {
	region string
	err    error
}

func (f fakeIMDS) GetRegion(ctx context.Context, _ *imds.GetRegionInput, _ ...func(*imds.Options)) (*imds.GetRegionOutput, error) {
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("expected a bounded context")
	}
	if f.err != nil {
		return nil, f.err
	}
	return &imds.GetRegionOutput{Region: f.region}, nil
}

func TestDetectRegion(t *testing.T) {
	region, err := detectRegion(context.Background(), fakeIMDS{region: "ap-southeast-3"})
	require.NoError(t, err)
	assert.Equal(t, "ap-southeast-3", region)
}

func TestDetectRegion_Errors(t *testing.T) {
	_, err := detectRegion(context.Background(), fakeIMDS{err: errors.New("no route to host")})
	assert.ErrorContains(t, err, "no route to host")

	_, err = detectRegion(context.Background(), fakeIMDS{region: " "})
	assert.ErrorContains(t, err, "empty region")
}

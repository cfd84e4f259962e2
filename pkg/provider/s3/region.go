package s3

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
)

// imdsTimeout bounds region detection; off EC2 the endpoint never answers.
const imdsTimeout = 2 * time.Second

// regionGetter is the slice of the IMDS client DetectRegion needs.
type regionGetter interface {
	GetRegion(ctx context.Context, params *imds.GetRegionInput, optFns ...func(*imds.Options)) (*imds.GetRegionOutput, error)
}

// DetectRegion asks the EC2 instance metadata service for the host's region.
func DetectRegion(ctx context.Context, awsCfg aws.Config) (string, error) {
	return detectRegion(ctx, imds.NewFromConfig(awsCfg))
}

func detectRegion(ctx context.Context, client regionGetter) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, imdsTimeout)
	defer cancel()

	out, err := client.GetRegion(ctx, &imds.GetRegionInput{})
	if err != nil {
		return "", fmt.Errorf("detect region from instance metadata: %w", err)
	}
	region := strings.TrimSpace(out.Region)
	if region == "" {
		return "", fmt.Errorf("detect region from instance metadata: empty region")
	}
	return region, nil
}

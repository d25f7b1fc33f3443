// Package lambda implements qa.DeployPort on AWS Lambda.
//
// An artifact is a repository. Each repository maps, per environment, to the
// functions it deploys; the environment's deployment marker is the oldest
// LastModified among them, since the artifact is only fully deployed once
// every function has been updated.
package lambda

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/smithy-go"

	"github.com/fyrsmithlabs/qaflow/internal/backends/rest"
	"github.com/fyrsmithlabs/qaflow/internal/config"
	"github.com/fyrsmithlabs/qaflow/internal/qa"
)

// LastModifiedLayout is the format Lambda reports LastModified in.
const LastModifiedLayout = "2006-01-02T15:04:05.000-0700"

// FunctionGetter is the subset of the Lambda API the adapter uses.
type FunctionGetter interface {
	GetFunction(ctx context.Context, in *lambda.GetFunctionInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionOutput, error)
}

// Client is a Lambda-backed qa.DeployPort.
type Client struct {
	api       FunctionGetter
	functions map[string]map[string][]string
}

var _ qa.DeployPort = (*Client)(nil)

// New creates a client over api. functions maps repository -> environment ->
// function names.
func New(api FunctionGetter, functions map[string]map[string][]string) *Client {
	return &Client{api: api, functions: functions}
}

// FromConfig loads AWS credentials from the default chain for cfg.Region.
func FromConfig(ctx context.Context, cfg config.DeployConfig) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return New(lambda.NewFromConfig(awsCfg), cfg.Functions), nil
}

// Functions returns the functions an artifact deploys to environment.
func (c *Client) Functions(artifactID, environment string) ([]string, bool) {
	envs, ok := c.functions[artifactID]
	if !ok {
		return nil, false
	}
	fns, ok := envs[environment]
	return fns, ok && len(fns) > 0
}

// GetLastModified returns the artifact's deployment marker in environment.
func (c *Client) GetLastModified(ctx context.Context, artifactID, environment string) (*qa.DeploymentMarker, error) {
	ident := artifactID + "@" + environment
	fns, ok := c.Functions(artifactID, environment)
	if !ok {
		return nil, qa.NotFound("lambda.get_function",
			fmt.Errorf("no functions configured for %s in %s", artifactID, environment), ident)
	}

	marker := &qa.DeploymentMarker{
		Environment: environment,
		ArtifactID:  artifactID,
		Resources:   fns,
	}
	for _, name := range fns {
		out, err := c.api.GetFunction(ctx, &lambda.GetFunctionInput{FunctionName: aws.String(name)})
		if err != nil {
			return nil, classify("lambda.get_function", err, name)
		}
		if out.Configuration == nil || out.Configuration.LastModified == nil {
			return nil, qa.NewError("lambda.get_function", qa.KindInternal,
				errors.New("response has no LastModified"), name)
		}

		modified, err := ParseLastModified(aws.ToString(out.Configuration.LastModified))
		if err != nil {
			return nil, qa.NewError("lambda.get_function", qa.KindInternal, err, name)
		}
		if marker.LastModified.IsZero() || modified.Before(marker.LastModified) {
			marker.LastModified = modified
		}
	}
	return marker, nil
}

// ParseLastModified parses Lambda's timestamp, falling back to RFC 3339.
func ParseLastModified(s string) (time.Time, error) {
	if t, err := time.Parse(LastModifiedLayout, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse LastModified %q: %w", s, err)
	}
	return t.UTC(), nil
}

func classify(op string, err error, ident string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return qa.NotFound(op, err, ident)
	}
	var throttled *types.TooManyRequestsException
	var service *types.ServiceException
	if errors.As(err, &throttled) || errors.As(err, &service) {
		return qa.Transient(op, err, ident)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "RequestLimitExceeded", "ServiceUnavailable":
			return qa.Transient(op, err, ident)
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		code := respErr.HTTPStatusCode()
		switch {
		case code == http.StatusNotFound:
			return qa.NotFound(op, err, ident)
		case rest.RetryableStatus(code):
			return qa.Transient(op, err, ident)
		}
		return qa.NewError(op, qa.KindInternal, err, ident)
	}

	var opErr *smithy.OperationError
	if errors.As(err, &opErr) {
		// Operation errors without an HTTP response failed in transport.
		return qa.Transient(op, err, ident)
	}
	return qa.NewError(op, qa.KindInternal, err, ident)
}

// Package aws provides AWS sinks for larkflow: an SNS fan-out sink and a
// direct SQS queue sink.
package aws

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	smithyendpoints "github.com/aws/smithy-go/endpoints"

	"github.com/drblury/larkflow/forward"
)

// SinkName is the name used to register the SNS sink.
const SinkName = "aws"

// SQSSinkName is the name used to register the direct SQS sink.
const SQSSinkName = "sqs"

const (
	localstackAccountID = "000000000000"
	awsAccountIDLength  = 12
)

// DefaultConfigLoader allows overriding the AWS config loader for testing.
var DefaultConfigLoader = awsconfig.LoadDefaultConfig

// TopicResolverFactory allows overriding the topic resolver creation for testing.
var TopicResolverFactory = sns.NewGenerateArnTopicResolver

// PublisherFactory allows overriding the SNS publisher creation for testing.
var PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return sns.NewPublisher(cfg, logger)
}

// SQSPublisherFactory allows overriding the SQS publisher creation for testing.
var SQSPublisherFactory = func(cfg sqs.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return sqs.NewPublisher(cfg, logger)
}

func init() {
	Register()
}

// Register adds both AWS sinks to the default registry. Blank-importing the
// package does the same through init.
func Register() {
	forward.RegisterWithCapabilities(SinkName, Build, forward.AWSCapabilities)
	forward.RegisterWithCapabilities(SQSSinkName, BuildSQS, forward.SQSCapabilities)
}

// Build creates a new AWS SNS sink. Topics map to SNS topic ARNs in the
// configured account and region.
func Build(ctx context.Context, cfg forward.Config, logger watermill.LoggerAdapter) (forward.Sink, error) {
	awsCfg, err := createAWSConfig(ctx, cfg, logger)
	if err != nil {
		return forward.Sink{}, err
	}
	logger.Info("Created AWS config", watermill.LogFields{
		"region":          safeAWSRegion(awsCfg),
		"custom_endpoint": hasCustomEndpoint(awsCfg),
	})

	publisher, err := createSNSPublisher(cfg, logger, awsCfg)
	if err != nil {
		return forward.Sink{}, err
	}

	return forward.Sink{Publisher: publisher}, nil
}

// BuildSQS creates a new direct SQS sink. Topics map to queue names.
func BuildSQS(ctx context.Context, cfg forward.Config, logger watermill.LoggerAdapter) (forward.Sink, error) {
	awsCfg, err := createAWSConfig(ctx, cfg, logger)
	if err != nil {
		return forward.Sink{}, err
	}

	publisherConfig := sqs.PublisherConfig{
		AWSConfig:                   *awsCfg,
		DoNotCreateQueueIfNotExists: false,
		Marshaler:                   sqs.DefaultMarshalerUnmarshaler{},
	}
	if hasCustomEndpoint(awsCfg) {
		_, sqsOpts, err := endpointResolverOptions(awsCfg)
		if err != nil {
			return forward.Sink{}, err
		}
		publisherConfig.OptFns = sqsOpts
	}

	publisher, err := SQSPublisherFactory(publisherConfig, logger)
	if err != nil {
		return forward.Sink{}, err
	}

	return forward.Sink{Publisher: publisher}, nil
}

// Capabilities returns the capabilities of the SNS sink.
func Capabilities() forward.Capabilities {
	return forward.AWSCapabilities
}

func createAWSConfig(ctx context.Context, cfg forward.Config, logger watermill.LoggerAdapter) (*aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg != nil {
		region := cfg.GetAWSRegion()
		accessKey := cfg.GetAWSAccessKeyID()
		secretKey := cfg.GetAWSSecretAccessKey()

		if region != "" {
			opts = append(opts, awsconfig.WithRegion(region))
		}
		if accessKey != "" && secretKey != "" {
			logger.Info("Using static AWS credentials from config", watermill.LogFields{})
			opts = append(opts, awsconfig.WithCredentialsProvider(staticCredentialsProvider(accessKey, secretKey)))
		}
	}

	awsCfg, err := DefaultConfigLoader(ctx, opts...)
	if err != nil {
		logger.Error("Failed to load AWS default config", err, watermill.LogFields{})
		return nil, err
	}

	// Ensure region is set even if the loader ignores options
	if cfg != nil && cfg.GetAWSRegion() != "" {
		awsCfg.Region = cfg.GetAWSRegion()
	}
	if cfg != nil && cfg.GetAWSEndpoint() != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.GetAWSEndpoint())
	}

	return &awsCfg, nil
}

func createSNSPublisher(cfg forward.Config, logger watermill.LoggerAdapter, awsCfg *aws.Config) (message.Publisher, error) {
	accountID, region := resolveAccountAndRegion(cfg, logger, safeAWSRegion(awsCfg))
	logger.Info("Create AWS SNS publisher", watermill.LogFields{
		"accountID": accountID,
		"region":    region,
	})

	topicResolver, err := createTopicResolver(accountID, region, logger)
	if err != nil {
		return nil, err
	}

	publisherConfig := sns.PublisherConfig{
		TopicResolver: topicResolver,
		AWSConfig:     *awsCfg,
		Marshaler:     sns.DefaultMarshalerUnmarshaler{},
	}

	if hasCustomEndpoint(awsCfg) {
		snsOpts, _, err := endpointResolverOptions(awsCfg)
		if err != nil {
			return nil, err
		}
		publisherConfig.OptFns = snsOpts
	}

	return PublisherFactory(publisherConfig, logger)
}

func endpointResolverOptions(awsCfg *aws.Config) ([]func(*amazonsns.Options), []func(*amazonsqs.Options), error) {
	parsedURL, err := url.Parse(*awsCfg.BaseEndpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse BaseEndpoint: %w", err)
	}

	snsOpts := []func(*amazonsns.Options){
		amazonsns.WithEndpointResolverV2(sns.OverrideEndpointResolver{
			Endpoint: smithyendpoints.Endpoint{URI: *parsedURL},
		}),
	}
	sqsOpts := []func(*amazonsqs.Options){
		amazonsqs.WithEndpointResolverV2(sqs.OverrideEndpointResolver{
			Endpoint: smithyendpoints.Endpoint{URI: *parsedURL},
		}),
	}
	return snsOpts, sqsOpts, nil
}

func resolveAccountAndRegion(cfg forward.Config, logger watermill.LoggerAdapter, fallbackRegion string) (string, string) {
	if cfg == nil {
		return "", fallbackRegion
	}

	accountID := strings.Trim(cfg.GetAWSAccountID(), "\"' ")
	region := cfg.GetAWSRegion()
	if region == "" {
		region = fallbackRegion
	}

	if accountID == "" && useLocalstackEndpoint(cfg) {
		accountID = localstackAccountID
		logger.Info("AWS account ID empty; using LocalStack default", watermill.LogFields{"accountID": accountID})
		return accountID, region
	}

	if accountID != "" && len(accountID) != awsAccountIDLength && useLocalstackEndpoint(cfg) {
		logger.Info("Invalid AWS account ID; falling back to LocalStack default", watermill.LogFields{"accountID": accountID})
		accountID = localstackAccountID
	}

	return accountID, region
}

func useLocalstackEndpoint(cfg forward.Config) bool {
	return cfg != nil && cfg.GetAWSEndpoint() != ""
}

func createTopicResolver(accountID, region string, logger watermill.LoggerAdapter) (sns.TopicResolver, error) {
	topicResolver, err := TopicResolverFactory(accountID, region)
	if err != nil {
		logger.Error("Failed to create SNS topic resolver", err, watermill.LogFields{
			"accountID": accountID,
			"region":    region,
		})
		return nil, err
	}
	return topicResolver, nil
}

func safeAWSRegion(cfg *aws.Config) string {
	if cfg == nil {
		return ""
	}
	return cfg.Region
}

func hasCustomEndpoint(cfg *aws.Config) bool {
	return cfg != nil && cfg.BaseEndpoint != nil && *cfg.BaseEndpoint != ""
}

func staticCredentialsProvider(accessKeyID, secretAccessKey string) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
		}, nil
	})
}

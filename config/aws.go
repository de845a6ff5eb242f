package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog/log"
)

// NewDynamoDB builds a DynamoDB client from the loaded configuration and
// verifies connectivity with a single ListTables call.
func (c *Config) NewDynamoDB(ctx context.Context) (*dynamodb.Client, error) {
	if c.AWSAccessKey == "" || c.AWSSecretKey == "" {
		return nil, fmt.Errorf("AWS credentials not found in environment variables")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(c.AWSRegion),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			c.AWSAccessKey,
			c.AWSSecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(cfg)

	_, err = client.ListTables(ctx, &dynamodb.ListTablesInput{
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DynamoDB: %w", err)
	}

	log.Info().Str("region", c.AWSRegion).Msg("connected to DynamoDB")
	return client, nil
}

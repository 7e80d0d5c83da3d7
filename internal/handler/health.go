package handler

import (
	"time"

	"github.com/aws/aws-lambda-go/events"
)

// Health reports liveness.
func Health(now time.Time) events.APIGatewayProxyResponse {
	return ok(map[string]string{"timestamp": now.UTC().Format(time.RFC3339)}, "Server is running")
}

package aws

import "context"

const logsTargetPrefix = "Logs_20140328"

// CreateLogGroup creates a CloudWatch log group.
func (c *Client) CreateLogGroup(ctx context.Context, name string) error {
	return c.callJSON(ctx, serviceLogs, logsTargetPrefix, "CreateLogGroup", map[string]string{"logGroupName": name}, nil)
}

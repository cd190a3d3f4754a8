package aws

import "context"

const ecsTargetPrefix = "AmazonEC2ContainerServiceV20141113"

// Cluster is an ECS cluster.
type Cluster struct {
	ClusterArn  string `json:"clusterArn"`
	ClusterName string `json:"clusterName"`
	Status      string `json:"status"`
}

// CapacityProviderStrategyItem weights a capacity provider.
type CapacityProviderStrategyItem struct {
	CapacityProvider string `json:"capacityProvider"`
	Weight           int    `json:"weight,omitempty"`
	Base             int    `json:"base,omitempty"`
}

// CreateClusterInput creates a cluster.
type CreateClusterInput struct {
	ClusterName                     string                         `json:"clusterName"`
	CapacityProviders               []string                       `json:"capacityProviders,omitempty"`
	DefaultCapacityProviderStrategy []CapacityProviderStrategyItem `json:"defaultCapacityProviderStrategy,omitempty"`
}

// DescribeClusters returns the clusters that exist among names.
func (c *Client) DescribeClusters(ctx context.Context, names []string) ([]Cluster, error) {
	var out struct {
		Clusters []Cluster `json:"clusters"`
	}
	err := c.callJSON(ctx, serviceECS, ecsTargetPrefix, "DescribeClusters", map[string]any{"clusters": names}, &out)
	return out.Clusters, err
}

// CreateCluster creates a cluster.
func (c *Client) CreateCluster(ctx context.Context, in CreateClusterInput) (Cluster, error) {
	var out struct {
		Cluster Cluster `json:"cluster"`
	}
	err := c.callJSON(ctx, serviceECS, ecsTargetPrefix, "CreateCluster", in, &out)
	return out.Cluster, err
}

// PortMapping maps a container port.
type PortMapping struct {
	ContainerPort int    `json:"containerPort"`
	Protocol      string `json:"protocol,omitempty"`
}

// LogConfiguration routes container output.
type LogConfiguration struct {
	LogDriver string            `json:"logDriver"`
	Options   map[string]string `json:"options,omitempty"`
}

// HealthCheck is a container health command. Durations are seconds.
type HealthCheck struct {
	Command     []string `json:"command"`
	Interval    int      `json:"interval,omitempty"`
	Timeout     int      `json:"timeout,omitempty"`
	Retries     int      `json:"retries,omitempty"`
	StartPeriod int      `json:"startPeriod,omitempty"`
}

// ContainerDefinition describes one container of a task.
type ContainerDefinition struct {
	Name             string            `json:"name"`
	Image            string            `json:"image"`
	Essential        bool              `json:"essential"`
	PortMappings     []PortMapping     `json:"portMappings,omitempty"`
	LogConfiguration *LogConfiguration `json:"logConfiguration,omitempty"`
	HealthCheck      *HealthCheck      `json:"healthCheck,omitempty"`
}

// TaskDefinitionInput registers a task definition revision.
type TaskDefinitionInput struct {
	Family                  string                `json:"family"`
	NetworkMode             string                `json:"networkMode"`
	RequiresCompatibilities []string              `json:"requiresCompatibilities"`
	CPU                     string                `json:"cpu"`
	Memory                  string                `json:"memory"`
	ExecutionRoleArn        string                `json:"executionRoleArn,omitempty"`
	ContainerDefinitions    []ContainerDefinition `json:"containerDefinitions"`
}

// TaskDefinition is a registered revision.
type TaskDefinition struct {
	TaskDefinitionArn string `json:"taskDefinitionArn"`
	Family            string `json:"family"`
	Revision          int    `json:"revision"`
}

// RegisterTaskDefinition registers a new revision of the family.
func (c *Client) RegisterTaskDefinition(ctx context.Context, in TaskDefinitionInput) (TaskDefinition, error) {
	var out struct {
		TaskDefinition TaskDefinition `json:"taskDefinition"`
	}
	err := c.callJSON(ctx, serviceECS, ecsTargetPrefix, "RegisterTaskDefinition", in, &out)
	return out.TaskDefinition, err
}

// Service is an ECS service.
type Service struct {
	ServiceArn     string `json:"serviceArn"`
	ServiceName    string `json:"serviceName"`
	Status         string `json:"status"`
	TaskDefinition string `json:"taskDefinition"`
	DesiredCount   int    `json:"desiredCount"`
	RunningCount   int    `json:"runningCount"`
}

// AwsVpcConfiguration places awsvpc tasks.
type AwsVpcConfiguration struct {
	Subnets        []string `json:"subnets"`
	SecurityGroups []string `json:"securityGroups,omitempty"`
	AssignPublicIP string   `json:"assignPublicIp,omitempty"`
}

// NetworkConfiguration wraps AwsVpcConfiguration.
type NetworkConfiguration struct {
	AwsVpcConfiguration AwsVpcConfiguration `json:"awsvpcConfiguration"`
}

// ServiceLoadBalancer attaches a container port to a target group.
type ServiceLoadBalancer struct {
	TargetGroupArn string `json:"targetGroupArn"`
	ContainerName  string `json:"containerName"`
	ContainerPort  int    `json:"containerPort"`
}

// DeploymentCircuitBreaker stops and optionally rolls back failed rollouts.
type DeploymentCircuitBreaker struct {
	Enable   bool `json:"enable"`
	Rollback bool `json:"rollback"`
}

// DeploymentConfiguration tunes rollouts.
type DeploymentConfiguration struct {
	DeploymentCircuitBreaker *DeploymentCircuitBreaker `json:"deploymentCircuitBreaker,omitempty"`
	MaximumPercent           int                       `json:"maximumPercent,omitempty"`
	MinimumHealthyPercent    int                       `json:"minimumHealthyPercent,omitempty"`
}

// CreateServiceInput creates a service.
type CreateServiceInput struct {
	Cluster                       string                   `json:"cluster"`
	ServiceName                   string                   `json:"serviceName"`
	TaskDefinition                string                   `json:"taskDefinition"`
	DesiredCount                  int                      `json:"desiredCount"`
	LaunchType                    string                   `json:"launchType,omitempty"`
	NetworkConfiguration          *NetworkConfiguration    `json:"networkConfiguration,omitempty"`
	LoadBalancers                 []ServiceLoadBalancer    `json:"loadBalancers,omitempty"`
	DeploymentConfiguration       *DeploymentConfiguration `json:"deploymentConfiguration,omitempty"`
	HealthCheckGracePeriodSeconds int                      `json:"healthCheckGracePeriodSeconds,omitempty"`
}

// UpdateServiceInput rolls a service to a new task definition.
type UpdateServiceInput struct {
	Cluster            string `json:"cluster"`
	Service            string `json:"service"`
	TaskDefinition     string `json:"taskDefinition,omitempty"`
	DesiredCount       *int   `json:"desiredCount,omitempty"`
	ForceNewDeployment bool   `json:"forceNewDeployment,omitempty"`
}

// DescribeServices returns the services among names in cluster.
func (c *Client) DescribeServices(ctx context.Context, cluster string, names []string) ([]Service, error) {
	var out struct {
		Services []Service `json:"services"`
	}
	err := c.callJSON(ctx, serviceECS, ecsTargetPrefix, "DescribeServices", map[string]any{
		"cluster":  cluster,
		"services": names,
	}, &out)
	return out.Services, err
}

// CreateService creates a service.
func (c *Client) CreateService(ctx context.Context, in CreateServiceInput) (Service, error) {
	var out struct {
		Service Service `json:"service"`
	}
	err := c.callJSON(ctx, serviceECS, ecsTargetPrefix, "CreateService", in, &out)
	return out.Service, err
}

// UpdateService updates a service.
func (c *Client) UpdateService(ctx context.Context, in UpdateServiceInput) (Service, error) {
	var out struct {
		Service Service `json:"service"`
	}
	err := c.callJSON(ctx, serviceECS, ecsTargetPrefix, "UpdateService", in, &out)
	return out.Service, err
}

// Package provision establishes the cluster, networking, load balancer and
// service that run a published image.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-connections/nat"

	"github.com/oneops/oneops/internal/cloud/aws"
)

const (
	DefaultClusterName = "oneops-prod"
	capacityProvider   = "FARGATE"
	healthCheckPath    = "/"
	listenerPort       = 80
	subnetCount        = 2
	defaultPort        = 3000
	publicCIDR         = "0.0.0.0/0"
)

// Cloud is the set of AWS calls the sequencer makes.
type Cloud interface {
	GetCallerIdentity(ctx context.Context) (aws.Identity, error)

	DescribeClusters(ctx context.Context, names []string) ([]aws.Cluster, error)
	CreateCluster(ctx context.Context, in aws.CreateClusterInput) (aws.Cluster, error)

	DescribeVpcs(ctx context.Context, filters ...aws.Filter) ([]aws.Vpc, error)
	DescribeSubnets(ctx context.Context, filters ...aws.Filter) ([]aws.Subnet, error)
	DescribeSecurityGroups(ctx context.Context, filters ...aws.Filter) ([]aws.SecurityGroup, error)
	AuthorizeIngress(ctx context.Context, groupID string, port int, cidr string) error

	CreateTargetGroup(ctx context.Context, in aws.CreateTargetGroupInput) (aws.TargetGroup, error)
	DescribeTargetGroups(ctx context.Context, names []string) ([]aws.TargetGroup, error)
	CreateLoadBalancer(ctx context.Context, in aws.CreateLoadBalancerInput) (aws.LoadBalancer, error)
	DescribeLoadBalancers(ctx context.Context, names []string) ([]aws.LoadBalancer, error)
	CreateListener(ctx context.Context, in aws.CreateListenerInput) (aws.Listener, error)
	DescribeListeners(ctx context.Context, loadBalancerArn string) ([]aws.Listener, error)
	DescribeTargetHealth(ctx context.Context, targetGroupArn string) ([]aws.TargetHealth, error)

	CreateLogGroup(ctx context.Context, name string) error
	RegisterTaskDefinition(ctx context.Context, in aws.TaskDefinitionInput) (aws.TaskDefinition, error)
	DescribeServices(ctx context.Context, cluster string, names []string) ([]aws.Service, error)
	CreateService(ctx context.Context, in aws.CreateServiceInput) (aws.Service, error)
	UpdateService(ctx context.Context, in aws.UpdateServiceInput) (aws.Service, error)
}

// Input describes what to run.
type Input struct {
	AppName       string
	Image         string
	Region        string
	InstanceType  string
	ContainerPort nat.Port
}

// Result describes what is running.
type Result struct {
	ClusterName       string   `json:"cluster_name"`
	ServiceName       string   `json:"service_name"`
	ServiceARN        string   `json:"service_arn"`
	TaskDefinitionARN string   `json:"task_definition_arn"`
	TargetGroupARN    string   `json:"target_group_arn"`
	LoadBalancerARN   string   `json:"load_balancer_arn"`
	LoadBalancerDNS   string   `json:"load_balancer_dns"`
	URL               string   `json:"url"`
	Subnets           []string `json:"subnets"`
	SecurityGroup     string   `json:"security_group"`
	Updated           bool     `json:"updated"`
	Healthy           *bool    `json:"healthy,omitempty"`
}

// Config tunes a Sequencer.
type Config struct {
	ClusterName string
	// HealthWaitTimeout bounds target-health polling after the service is
	// created. Zero skips polling.
	HealthWaitTimeout time.Duration
	PollInterval      time.Duration
}

// CloudFactory returns a Cloud bound to region.
type CloudFactory func(region string) (Cloud, error)

// Sequencer runs the provisioning steps in order.
type Sequencer struct {
	clouds CloudFactory
	cfg    Config
	logger *slog.Logger
}

// NewSequencer constructs a Sequencer.
func NewSequencer(clouds CloudFactory, cfg Config, logger *slog.Logger) *Sequencer {
	if cfg.ClusterName == "" {
		cfg.ClusterName = DefaultClusterName
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	return &Sequencer{clouds: clouds, cfg: cfg, logger: logger}
}

// run holds the state a single Run accumulates between steps.
type run struct {
	cloud  Cloud
	in     Input
	port   int
	name   string
	logger *slog.Logger

	account       string
	vpcID         string
	subnets       []string
	securityGroup string
	targetGroup   aws.TargetGroup
	loadBalancer  aws.LoadBalancer
	taskDef       aws.TaskDefinition
	service       aws.Service
	updated       bool
}

// Ready resolves the cloud client for region, which rejects malformed
// credentials, so a run can fail before any image is built.
func (s *Sequencer) Ready(region string) error {
	if _, err := s.clouds(region); err != nil {
		return fail(StepClusterEnsured, err)
	}
	return nil
}

// Run provisions or updates everything needed to serve in.Image. Every
// create is preceded or followed by a describe so repeated and concurrent
// runs converge on the same resources.
func (s *Sequencer) Run(ctx context.Context, in Input) (Result, error) {
	if strings.TrimSpace(in.AppName) == "" || strings.TrimSpace(in.Image) == "" {
		return Result{}, fail(StepClusterEnsured, errors.New("app name and image are required"))
	}
	cloud, err := s.clouds(in.Region)
	if err != nil {
		return Result{}, fail(StepClusterEnsured, err)
	}
	port := defaultPort
	if in.ContainerPort != "" && in.ContainerPort.Int() > 0 {
		port = in.ContainerPort.Int()
	}
	r := &run{
		cloud:  cloud,
		in:     in,
		port:   port,
		name:   ResourceName(in.AppName),
		logger: s.logger.With("app", in.AppName, "region", in.Region),
	}

	steps := []struct {
		step Step
		fn   func(context.Context) error
	}{
		{StepClusterEnsured, func(ctx context.Context) error { return s.ensureCluster(ctx, r) }},
		{StepNetworkingResolved, r.resolveNetworking},
		{StepLoadBalancerProvisioned, r.provisionLoadBalancer},
		{StepTaskDefinitionRegistered, r.registerTaskDefinition},
		{StepServiceCreated, func(ctx context.Context) error { return s.ensureService(ctx, r) }},
	}
	for _, st := range steps {
		if err := st.fn(ctx); err != nil {
			r.logger.Error("provisioning step failed", "step", st.step, "error", err)
			return Result{}, fail(st.step, err)
		}
		r.logger.Info("provisioning step complete", "step", st.step)
	}

	res := Result{
		ClusterName:       s.cfg.ClusterName,
		ServiceName:       r.name,
		ServiceARN:        r.service.ServiceArn,
		TaskDefinitionARN: r.taskDef.TaskDefinitionArn,
		TargetGroupARN:    r.targetGroup.TargetGroupArn,
		LoadBalancerARN:   r.loadBalancer.LoadBalancerArn,
		LoadBalancerDNS:   r.loadBalancer.DNSName,
		URL:               "http://" + r.loadBalancer.DNSName,
		Subnets:           r.subnets,
		SecurityGroup:     r.securityGroup,
		Updated:           r.updated,
	}
	if s.cfg.HealthWaitTimeout > 0 {
		healthy, err := s.waitHealthy(ctx, r)
		if err != nil {
			return Result{}, fail(StepStable, err)
		}
		res.Healthy = &healthy
	}
	return res, nil
}

func (s *Sequencer) ensureCluster(ctx context.Context, r *run) error {
	id, err := r.cloud.GetCallerIdentity(ctx)
	if err != nil {
		return fmt.Errorf("resolve account: %w", err)
	}
	r.account = id.Account

	clusters, err := r.cloud.DescribeClusters(ctx, []string{s.cfg.ClusterName})
	if err != nil && !aws.IsNotFound(err) {
		return fmt.Errorf("describe cluster: %w", err)
	}
	for _, c := range clusters {
		if c.ClusterName == s.cfg.ClusterName && c.Status == "ACTIVE" {
			return nil
		}
	}
	_, err = r.cloud.CreateCluster(ctx, aws.CreateClusterInput{
		ClusterName:       s.cfg.ClusterName,
		CapacityProviders: []string{capacityProvider},
		DefaultCapacityProviderStrategy: []aws.CapacityProviderStrategyItem{
			{CapacityProvider: capacityProvider, Weight: 1},
		},
	})
	if err != nil && !aws.IsAlreadyExists(err) {
		return fmt.Errorf("create cluster: %w", err)
	}
	return nil
}

func (r *run) resolveNetworking(ctx context.Context) error {
	vpcs, err := r.cloud.DescribeVpcs(ctx, aws.Filter{Name: "isDefault", Values: []string{"true"}})
	if err != nil {
		return fmt.Errorf("describe vpcs: %w", err)
	}
	if len(vpcs) == 0 {
		return errors.New("no default vpc in region")
	}
	r.vpcID = vpcs[0].VpcID

	subnets, err := r.cloud.DescribeSubnets(ctx, aws.Filter{Name: "vpc-id", Values: []string{r.vpcID}})
	if err != nil {
		return fmt.Errorf("describe subnets: %w", err)
	}
	r.subnets = pickSubnets(subnets, subnetCount)
	if len(r.subnets) < subnetCount {
		return fmt.Errorf("need subnets in %d availability zones, found %d", subnetCount, len(r.subnets))
	}

	groups, err := r.cloud.DescribeSecurityGroups(ctx,
		aws.Filter{Name: "vpc-id", Values: []string{r.vpcID}},
		aws.Filter{Name: "group-name", Values: []string{"default"}},
	)
	if err != nil {
		return fmt.Errorf("describe security groups: %w", err)
	}
	if len(groups) == 0 {
		return errors.New("default security group not found")
	}
	r.securityGroup = groups[0].GroupID

	if err := r.cloud.AuthorizeIngress(ctx, r.securityGroup, listenerPort, publicCIDR); err != nil && !aws.IsAlreadyExists(err) {
		return fmt.Errorf("open listener port: %w", err)
	}
	return nil
}

// pickSubnets returns up to n subnet ids, one per availability zone,
// preferring default-for-az subnets. Order is stable.
func pickSubnets(subnets []aws.Subnet, n int) []string {
	sorted := append([]aws.Subnet(nil), subnets...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].DefaultForAz != sorted[j].DefaultForAz {
			return sorted[i].DefaultForAz
		}
		if sorted[i].AvailabilityZone != sorted[j].AvailabilityZone {
			return sorted[i].AvailabilityZone < sorted[j].AvailabilityZone
		}
		return sorted[i].SubnetID < sorted[j].SubnetID
	})
	seen := make(map[string]struct{}, n)
	out := make([]string, 0, n)
	for _, sn := range sorted {
		if _, ok := seen[sn.AvailabilityZone]; ok {
			continue
		}
		seen[sn.AvailabilityZone] = struct{}{}
		out = append(out, sn.SubnetID)
		if len(out) == n {
			break
		}
	}
	return out
}

func (r *run) provisionLoadBalancer(ctx context.Context) error {
	tg, err := r.cloud.CreateTargetGroup(ctx, aws.CreateTargetGroupInput{
		Name:                r.name,
		Protocol:            "HTTP",
		Port:                r.port,
		VpcID:               r.vpcID,
		TargetType:          "ip",
		HealthCheckPath:     healthCheckPath,
		HealthCheckProtocol: "HTTP",
		Matcher:             "200-399",
	})
	switch {
	case err == nil:
		r.targetGroup = tg
	case aws.IsAlreadyExists(err):
		groups, derr := r.cloud.DescribeTargetGroups(ctx, []string{r.name})
		if derr != nil {
			return fmt.Errorf("describe target group: %w", derr)
		}
		if len(groups) == 0 {
			return fmt.Errorf("target group %s reported existing but not found", r.name)
		}
		r.targetGroup = groups[0]
	default:
		return fmt.Errorf("create target group: %w", err)
	}

	lb, err := r.cloud.CreateLoadBalancer(ctx, aws.CreateLoadBalancerInput{
		Name:           r.name,
		Subnets:        r.subnets,
		SecurityGroups: []string{r.securityGroup},
		Scheme:         "internet-facing",
		Type:           "application",
	})
	switch {
	case err == nil:
		r.loadBalancer = lb
	case aws.IsAlreadyExists(err):
		lbs, derr := r.cloud.DescribeLoadBalancers(ctx, []string{r.name})
		if derr != nil {
			return fmt.Errorf("describe load balancer: %w", derr)
		}
		if len(lbs) == 0 {
			return fmt.Errorf("load balancer %s reported existing but not found", r.name)
		}
		r.loadBalancer = lbs[0]
	default:
		return fmt.Errorf("create load balancer: %w", err)
	}

	listeners, err := r.cloud.DescribeListeners(ctx, r.loadBalancer.LoadBalancerArn)
	if err != nil && !aws.IsNotFound(err) {
		return fmt.Errorf("describe listeners: %w", err)
	}
	for _, l := range listeners {
		if l.Port == listenerPort {
			return nil
		}
	}
	_, err = r.cloud.CreateListener(ctx, aws.CreateListenerInput{
		LoadBalancerArn: r.loadBalancer.LoadBalancerArn,
		Protocol:        "HTTP",
		Port:            listenerPort,
		TargetGroupArn:  r.targetGroup.TargetGroupArn,
	})
	if err != nil && !aws.IsAlreadyExists(err) {
		return fmt.Errorf("create listener: %w", err)
	}
	return nil
}

func (r *run) registerTaskDefinition(ctx context.Context) error {
	logGroup := "/ecs/" + r.name
	if err := r.cloud.CreateLogGroup(ctx, logGroup); err != nil && !aws.IsAlreadyExists(err) {
		return fmt.Errorf("create log group: %w", err)
	}
	size := SizeFor(r.in.InstanceType)
	td, err := r.cloud.RegisterTaskDefinition(ctx, aws.TaskDefinitionInput{
		Family:                  r.name,
		NetworkMode:             "awsvpc",
		RequiresCompatibilities: []string{capacityProvider},
		CPU:                     size.CPU,
		Memory:                  size.Memory,
		ExecutionRoleArn:        fmt.Sprintf("arn:aws:iam::%s:role/ecsTaskExecutionRole", r.account),
		ContainerDefinitions: []aws.ContainerDefinition{{
			Name:      r.name,
			Image:     r.in.Image,
			Essential: true,
			PortMappings: []aws.PortMapping{
				{ContainerPort: r.port, Protocol: "tcp"},
			},
			LogConfiguration: &aws.LogConfiguration{
				LogDriver: "awslogs",
				Options: map[string]string{
					"awslogs-group":         logGroup,
					"awslogs-region":        r.in.Region,
					"awslogs-stream-prefix": "ecs",
				},
			},
			HealthCheck: &aws.HealthCheck{
				Command:     []string{"CMD-SHELL", "wget -qO- http://localhost:" + strconv.Itoa(r.port) + healthCheckPath + " || exit 1"},
				Interval:    30,
				Timeout:     5,
				Retries:     3,
				StartPeriod: 60,
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("register task definition: %w", err)
	}
	r.taskDef = td
	return nil
}

func (s *Sequencer) ensureService(ctx context.Context, r *run) error {
	cluster := s.cfg.ClusterName
	existing, err := r.cloud.DescribeServices(ctx, cluster, []string{r.name})
	if err != nil && !aws.IsNotFound(err) {
		return fmt.Errorf("describe service: %w", err)
	}
	for _, svc := range existing {
		if svc.ServiceName == r.name && svc.Status == "ACTIVE" {
			return s.updateService(ctx, r)
		}
	}

	svc, err := r.cloud.CreateService(ctx, aws.CreateServiceInput{
		Cluster:        cluster,
		ServiceName:    r.name,
		TaskDefinition: r.taskDef.TaskDefinitionArn,
		DesiredCount:   1,
		LaunchType:     capacityProvider,
		NetworkConfiguration: &aws.NetworkConfiguration{
			AwsVpcConfiguration: aws.AwsVpcConfiguration{
				Subnets:        r.subnets,
				SecurityGroups: []string{r.securityGroup},
				AssignPublicIP: "ENABLED",
			},
		},
		LoadBalancers: []aws.ServiceLoadBalancer{{
			TargetGroupArn: r.targetGroup.TargetGroupArn,
			ContainerName:  r.name,
			ContainerPort:  r.port,
		}},
		DeploymentConfiguration: &aws.DeploymentConfiguration{
			DeploymentCircuitBreaker: &aws.DeploymentCircuitBreaker{Enable: true, Rollback: true},
		},
		HealthCheckGracePeriodSeconds: 60,
	})
	switch {
	case err == nil:
		r.service = svc
		return nil
	case aws.IsAlreadyExists(err):
		return s.updateService(ctx, r)
	default:
		return fmt.Errorf("create service: %w", err)
	}
}

func (s *Sequencer) updateService(ctx context.Context, r *run) error {
	svc, err := r.cloud.UpdateService(ctx, aws.UpdateServiceInput{
		Cluster:            s.cfg.ClusterName,
		Service:            r.name,
		TaskDefinition:     r.taskDef.TaskDefinitionArn,
		ForceNewDeployment: true,
	})
	if err != nil {
		return fmt.Errorf("update service: %w", err)
	}
	r.service = svc
	r.updated = true
	return nil
}

// waitHealthy polls target health until a target is healthy or the wait
// runs out. Running out is not an error; the caller context ending is.
func (s *Sequencer) waitHealthy(ctx context.Context, r *run) (bool, error) {
	deadline := time.NewTimer(s.cfg.HealthWaitTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		targets, err := r.cloud.DescribeTargetHealth(ctx, r.targetGroup.TargetGroupArn)
		if err != nil {
			return false, fmt.Errorf("describe target health: %w", err)
		}
		for _, t := range targets {
			if t.State == "healthy" {
				r.logger.Info("target healthy", "target", t.TargetID)
				return true, nil
			}
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			r.logger.Warn("service not healthy before wait expired", "timeout", s.cfg.HealthWaitTimeout)
			return false, nil
		case <-ticker.C:
		}
	}
}

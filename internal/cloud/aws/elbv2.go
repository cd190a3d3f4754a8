package aws

import (
	"context"
	"net/url"
	"strconv"
)

const elbv2Version = "2015-12-01"

// TargetGroup is an ELBv2 target group.
type TargetGroup struct {
	TargetGroupArn  string `xml:"TargetGroupArn"`
	TargetGroupName string `xml:"TargetGroupName"`
	VpcID           string `xml:"VpcId"`
}

// CreateTargetGroupInput creates a target group.
type CreateTargetGroupInput struct {
	Name                string
	Protocol            string
	Port                int
	VpcID               string
	TargetType          string
	HealthCheckPath     string
	HealthCheckProtocol string
	Matcher             string
}

// LoadBalancer is an ELBv2 load balancer.
type LoadBalancer struct {
	LoadBalancerArn  string `xml:"LoadBalancerArn"`
	LoadBalancerName string `xml:"LoadBalancerName"`
	DNSName          string `xml:"DNSName"`
	State            string `xml:"State>Code"`
}

// CreateLoadBalancerInput creates a load balancer.
type CreateLoadBalancerInput struct {
	Name           string
	Subnets        []string
	SecurityGroups []string
	Scheme         string
	Type           string
}

// Listener is an ELBv2 listener.
type Listener struct {
	ListenerArn string `xml:"ListenerArn"`
	Port        int    `xml:"Port"`
	Protocol    string `xml:"Protocol"`
}

// CreateListenerInput creates a forwarding listener.
type CreateListenerInput struct {
	LoadBalancerArn string
	Protocol        string
	Port            int
	TargetGroupArn  string
}

// TargetHealth is the health of one registered target.
type TargetHealth struct {
	TargetID string `xml:"Target>Id"`
	State    string `xml:"TargetHealth>State"`
}

// CreateTargetGroup creates a target group.
func (c *Client) CreateTargetGroup(ctx context.Context, in CreateTargetGroupInput) (TargetGroup, error) {
	params := url.Values{}
	params.Set("Name", in.Name)
	params.Set("Protocol", in.Protocol)
	params.Set("Port", strconv.Itoa(in.Port))
	params.Set("VpcId", in.VpcID)
	params.Set("TargetType", in.TargetType)
	if in.HealthCheckPath != "" {
		params.Set("HealthCheckPath", in.HealthCheckPath)
	}
	if in.HealthCheckProtocol != "" {
		params.Set("HealthCheckProtocol", in.HealthCheckProtocol)
	}
	if in.Matcher != "" {
		params.Set("Matcher.HttpCode", in.Matcher)
	}
	var out struct {
		TargetGroups []TargetGroup `xml:"CreateTargetGroupResult>TargetGroups>member"`
	}
	if err := c.callQuery(ctx, serviceELBv2, elbv2Version, "CreateTargetGroup", params, &out); err != nil {
		return TargetGroup{}, err
	}
	if len(out.TargetGroups) == 0 {
		return TargetGroup{}, emptyResult("CreateTargetGroup")
	}
	return out.TargetGroups[0], nil
}

// DescribeTargetGroups looks target groups up by name. Missing groups yield
// an empty slice.
func (c *Client) DescribeTargetGroups(ctx context.Context, names []string) ([]TargetGroup, error) {
	params := url.Values{}
	addList(params, "Names.member", names)
	var out struct {
		TargetGroups []TargetGroup `xml:"DescribeTargetGroupsResult>TargetGroups>member"`
	}
	if err := c.callQuery(ctx, serviceELBv2, elbv2Version, "DescribeTargetGroups", params, &out); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return out.TargetGroups, nil
}

// CreateLoadBalancer creates a load balancer.
func (c *Client) CreateLoadBalancer(ctx context.Context, in CreateLoadBalancerInput) (LoadBalancer, error) {
	params := url.Values{}
	params.Set("Name", in.Name)
	addList(params, "Subnets.member", in.Subnets)
	addList(params, "SecurityGroups.member", in.SecurityGroups)
	if in.Scheme != "" {
		params.Set("Scheme", in.Scheme)
	}
	if in.Type != "" {
		params.Set("Type", in.Type)
	}
	var out struct {
		LoadBalancers []LoadBalancer `xml:"CreateLoadBalancerResult>LoadBalancers>member"`
	}
	if err := c.callQuery(ctx, serviceELBv2, elbv2Version, "CreateLoadBalancer", params, &out); err != nil {
		return LoadBalancer{}, err
	}
	if len(out.LoadBalancers) == 0 {
		return LoadBalancer{}, emptyResult("CreateLoadBalancer")
	}
	return out.LoadBalancers[0], nil
}

// DescribeLoadBalancers looks load balancers up by name. Missing load
// balancers yield an empty slice.
func (c *Client) DescribeLoadBalancers(ctx context.Context, names []string) ([]LoadBalancer, error) {
	params := url.Values{}
	addList(params, "Names.member", names)
	var out struct {
		LoadBalancers []LoadBalancer `xml:"DescribeLoadBalancersResult>LoadBalancers>member"`
	}
	if err := c.callQuery(ctx, serviceELBv2, elbv2Version, "DescribeLoadBalancers", params, &out); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return out.LoadBalancers, nil
}

// CreateListener creates a listener forwarding to a target group.
func (c *Client) CreateListener(ctx context.Context, in CreateListenerInput) (Listener, error) {
	params := url.Values{}
	params.Set("LoadBalancerArn", in.LoadBalancerArn)
	params.Set("Protocol", in.Protocol)
	params.Set("Port", strconv.Itoa(in.Port))
	params.Set("DefaultActions.member.1.Type", "forward")
	params.Set("DefaultActions.member.1.TargetGroupArn", in.TargetGroupArn)
	var out struct {
		Listeners []Listener `xml:"CreateListenerResult>Listeners>member"`
	}
	if err := c.callQuery(ctx, serviceELBv2, elbv2Version, "CreateListener", params, &out); err != nil {
		return Listener{}, err
	}
	if len(out.Listeners) == 0 {
		return Listener{}, emptyResult("CreateListener")
	}
	return out.Listeners[0], nil
}

// DescribeListeners lists the listeners of a load balancer.
func (c *Client) DescribeListeners(ctx context.Context, loadBalancerArn string) ([]Listener, error) {
	params := url.Values{}
	params.Set("LoadBalancerArn", loadBalancerArn)
	var out struct {
		Listeners []Listener `xml:"DescribeListenersResult>Listeners>member"`
	}
	err := c.callQuery(ctx, serviceELBv2, elbv2Version, "DescribeListeners", params, &out)
	return out.Listeners, err
}

// DescribeTargetHealth reports the health of a target group's targets.
func (c *Client) DescribeTargetHealth(ctx context.Context, targetGroupArn string) ([]TargetHealth, error) {
	params := url.Values{}
	params.Set("TargetGroupArn", targetGroupArn)
	var out struct {
		Targets []TargetHealth `xml:"DescribeTargetHealthResult>TargetHealthDescriptions>member"`
	}
	err := c.callQuery(ctx, serviceELBv2, elbv2Version, "DescribeTargetHealth", params, &out)
	return out.Targets, err
}

func emptyResult(op string) error {
	return &APIError{Service: serviceELBv2.name, Operation: op, Code: "EmptyResult", Message: "response contained no resources"}
}

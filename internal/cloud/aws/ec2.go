package aws

import (
	"context"
	"net/url"
	"strconv"
)

const ec2Version = "2016-11-15"

// Vpc is a virtual network.
type Vpc struct {
	VpcID     string `xml:"vpcId"`
	IsDefault bool   `xml:"isDefault"`
}

// Subnet is a VPC subnet.
type Subnet struct {
	SubnetID         string `xml:"subnetId"`
	VpcID            string `xml:"vpcId"`
	AvailabilityZone string `xml:"availabilityZone"`
	DefaultForAz     bool   `xml:"defaultForAz"`
	MapPublicIP      bool   `xml:"mapPublicIpOnLaunch"`
}

// SecurityGroup is a VPC security group.
type SecurityGroup struct {
	GroupID   string `xml:"groupId"`
	GroupName string `xml:"groupName"`
	VpcID     string `xml:"vpcId"`
}

// Filter narrows EC2 describe calls.
type Filter struct {
	Name   string
	Values []string
}

func addFilters(params url.Values, filters []Filter) {
	for i, f := range filters {
		prefix := "Filter." + strconv.Itoa(i+1)
		params.Set(prefix+".Name", f.Name)
		addList(params, prefix+".Value", f.Values)
	}
}

// DescribeVpcs lists VPCs matching filters.
func (c *Client) DescribeVpcs(ctx context.Context, filters ...Filter) ([]Vpc, error) {
	params := url.Values{}
	addFilters(params, filters)
	var out struct {
		Vpcs []Vpc `xml:"vpcSet>item"`
	}
	err := c.callQuery(ctx, serviceEC2, ec2Version, "DescribeVpcs", params, &out)
	return out.Vpcs, err
}

// DescribeSubnets lists subnets matching filters.
func (c *Client) DescribeSubnets(ctx context.Context, filters ...Filter) ([]Subnet, error) {
	params := url.Values{}
	addFilters(params, filters)
	var out struct {
		Subnets []Subnet `xml:"subnetSet>item"`
	}
	err := c.callQuery(ctx, serviceEC2, ec2Version, "DescribeSubnets", params, &out)
	return out.Subnets, err
}

// DescribeSecurityGroups lists security groups matching filters.
func (c *Client) DescribeSecurityGroups(ctx context.Context, filters ...Filter) ([]SecurityGroup, error) {
	params := url.Values{}
	addFilters(params, filters)
	var out struct {
		Groups []SecurityGroup `xml:"securityGroupInfo>item"`
	}
	err := c.callQuery(ctx, serviceEC2, ec2Version, "DescribeSecurityGroups", params, &out)
	return out.Groups, err
}

// AuthorizeIngress opens a TCP port on a group to cidr.
func (c *Client) AuthorizeIngress(ctx context.Context, groupID string, port int, cidr string) error {
	params := url.Values{}
	params.Set("GroupId", groupID)
	params.Set("IpPermissions.1.IpProtocol", "tcp")
	params.Set("IpPermissions.1.FromPort", strconv.Itoa(port))
	params.Set("IpPermissions.1.ToPort", strconv.Itoa(port))
	params.Set("IpPermissions.1.IpRanges.1.CidrIp", cidr)
	return c.callQuery(ctx, serviceEC2, ec2Version, "AuthorizeSecurityGroupIngress", params, nil)
}

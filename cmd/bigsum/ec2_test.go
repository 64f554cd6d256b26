// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/grailbio/base/errors"
)

// fakeEC2 implements the subset of the EC2 API used by setup-ec2.
type fakeEC2 struct {
	ec2iface.EC2API

	groups  map[string]string
	vpcs    []*ec2.Vpc
	ingress []*ec2.IpPermission
	tagged  []string
}

func (f *fakeEC2) DescribeSecurityGroups(in *ec2.DescribeSecurityGroupsInput) (*ec2.DescribeSecurityGroupsOutput, error) {
	out := new(ec2.DescribeSecurityGroupsOutput)
	name := aws.StringValue(in.Filters[0].Values[0])
	if id, ok := f.groups[name]; ok {
		out.SecurityGroups = []*ec2.SecurityGroup{{GroupId: aws.String(id), GroupName: aws.String(name)}}
	}
	return out, nil
}

func (f *fakeEC2) DescribeVpcs(*ec2.DescribeVpcsInput) (*ec2.DescribeVpcsOutput, error) {
	return &ec2.DescribeVpcsOutput{Vpcs: f.vpcs}, nil
}

func (f *fakeEC2) CreateSecurityGroup(in *ec2.CreateSecurityGroupInput) (*ec2.CreateSecurityGroupOutput, error) {
	id := "sg-" + aws.StringValue(in.GroupName)
	f.groups[aws.StringValue(in.GroupName)] = id
	return &ec2.CreateSecurityGroupOutput{GroupId: aws.String(id)}, nil
}

func (f *fakeEC2) AuthorizeSecurityGroupIngress(in *ec2.AuthorizeSecurityGroupIngressInput) (*ec2.AuthorizeSecurityGroupIngressOutput, error) {
	f.ingress = append(f.ingress, in.IpPermissions...)
	return new(ec2.AuthorizeSecurityGroupIngressOutput), nil
}

func (f *fakeEC2) CreateTags(in *ec2.CreateTagsInput) (*ec2.CreateTagsOutput, error) {
	f.tagged = append(f.tagged, aws.StringValue(in.Resources[0]))
	return new(ec2.CreateTagsOutput), nil
}

func TestSetupSecurityGroup(t *testing.T) {
	svc := &fakeEC2{
		groups: map[string]string{"existing": "sg-1234"},
		vpcs:   []*ec2.Vpc{{VpcId: aws.String("vpc-1"), CidrBlock: aws.String("172.31.0.0/16")}},
	}
	id, err := setupSecurityGroup(svc, "existing")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := id, "sg-1234"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := len(svc.ingress), 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	id, err = setupSecurityGroup(svc, "bigsum")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := id, "sg-bigsum"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := len(svc.ingress), 3; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := aws.StringValue(svc.ingress[0].IpRanges[0].CidrIp), "172.31.0.0/16"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := aws.Int64Value(svc.ingress[2].FromPort), int64(443); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := svc.tagged, []string{"sg-bigsum"}; len(got) != 1 || got[0] != want[0] {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSetupSecurityGroupNoVPC(t *testing.T) {
	svc := &fakeEC2{groups: make(map[string]string)}
	_, err := setupSecurityGroup(svc, "bigsum")
	if !errors.Is(errors.Precondition, err) {
		t.Errorf("got %v, want precondition error", err)
	}
}

// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/grailbio/base/config"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"

	// We bring these in so we can show the user all the defaults when
	// writing the profile.
	_ "github.com/grailbio/base/config/aws"
	"github.com/grailbio/bigsum/sumconfig"
)

// instanceType is the EC2 instance type configured by setup-ec2. The
// default of 64 groups per machine, each with a 60 MiB region, fits
// comfortably in its memory.
const instanceType = "r5.xlarge"

func setupEc2Usage(flags *flag.FlagSet) {
	fmt.Fprint(os.Stderr, `usage: bigsum setup-ec2 [-securitygroup name]

Command setup-ec2 sets up a security group so that bigsum sessions can
host compute groups on AWS EC2. Once complete, the resulting
configuration is written to the bigsum configuration file at `, sumconfig.Path, `.
If a configuration file already exists, then it is modified in place.

If a security group with the given name already exists, no new group
is created, but the configuration is modified to include it. New
security groups allow all traffic within the default VPC, all outbound
traffic, and inbound SSH and HTTPS connections.

The flags are:
`)
	flags.PrintDefaults()
	os.Exit(2)
}

func setupEc2Cmd(args []string) {
	var (
		flags         = flag.NewFlagSet("bigsum setup-ec2", flag.ExitOnError)
		securityGroup = flags.String("securitygroup", "bigsum", "name of the security group to set up")
	)
	flags.Usage = func() { setupEc2Usage(flags) }
	flags.Parse(args)
	if flags.NArg() != 0 {
		flags.Usage()
	}

	profile := config.New()
	f, err := os.Open(sumconfig.Path)
	if err == nil {
		must.Nil(profile.Parse(f))
		must.Nil(f.Close())
	} else {
		must.True(os.IsNotExist(err), err)
	}

	if region, ok := profile.Get("aws/env.region"); ok && len(region) > 0 {
		must.Nil(profile.Set("bigmachine/ec2system.default-region", strings.Trim(region, `"`)))
	}
	if v, ok := profile.Get("bigmachine/ec2system.security-group"); ok && v != `""` {
		log.Print("ec2 security group ", v, " already configured")
	} else {
		sess, err := session.NewSession()
		must.Nil(err, "setting up AWS session")
		id, err := setupSecurityGroup(ec2.New(sess), *securityGroup)
		must.Nil(err, "setting up security group")
		must.Nil(profile.Set("bigmachine/ec2system.security-group", id))
		log.Print("set up security group ", id)
	}
	must.Nil(profile.Set("bigsum.system", "bigmachine/ec2system"))
	must.Nil(profile.Set("bigmachine/ec2system.instance", instanceType))

	var buf bytes.Buffer
	must.Nil(profile.PrintTo(&buf))
	must.Nil(os.MkdirAll(filepath.Dir(sumconfig.Path), 0777))
	tmp := sumconfig.Path + ".setup-ec2"
	must.Nil(ioutil.WriteFile(tmp, buf.Bytes(), 0666))
	must.Nil(os.Rename(tmp, sumconfig.Path))
	log.Print("wrote configuration to ", sumconfig.Path)
}

// setupSecurityGroup returns the ID of the security group with the
// given name, creating it in the account's default VPC if it does not
// exist.
func setupSecurityGroup(svc ec2iface.EC2API, name string) (string, error) {
	describe, err := svc.DescribeSecurityGroups(&ec2.DescribeSecurityGroupsInput{
		Filters: []*ec2.Filter{{
			Name:   aws.String("group-name"),
			Values: []*string{aws.String(name)},
		}},
	})
	if err != nil {
		return "", errors.E(errors.Net, fmt.Sprintf("query security group %s", name), err)
	}
	if len(describe.SecurityGroups) > 0 {
		id := aws.StringValue(describe.SecurityGroups[0].GroupId)
		log.Printf("found existing security group %s", id)
		return id, nil
	}
	log.Printf("security group %s not found; creating it", name)
	vpcs, err := svc.DescribeVpcs(&ec2.DescribeVpcsInput{
		Filters: []*ec2.Filter{{
			Name:   aws.String("isDefault"),
			Values: []*string{aws.String("true")},
		}},
	})
	if err != nil {
		return "", errors.E(errors.Net, "retrieve default VPC", err)
	}
	switch len(vpcs.Vpcs) {
	case 0:
		return "", errors.E(errors.Precondition,
			"AWS account does not have a default VPC and requires manual setup; "+
				"see https://docs.aws.amazon.com/vpc/latest/userguide/default-vpc.html#create-default-vpc")
	case 1:
	default:
		return "", errors.E(errors.Precondition, "AWS account has multiple default VPCs; needs manual setup")
	}
	vpc := vpcs.Vpcs[0]
	log.Printf("found default VPC %s", aws.StringValue(vpc.VpcId))
	created, err := svc.CreateSecurityGroup(&ec2.CreateSecurityGroupInput{
		GroupName:   aws.String(name),
		Description: aws.String("security group created by bigsum setup-ec2"),
		VpcId:       vpc.VpcId,
	})
	if err != nil {
		return "", errors.E(fmt.Sprintf("create security group %s", name), err)
	}
	id := aws.StringValue(created.GroupId)
	_, err = svc.AuthorizeSecurityGroupIngress(&ec2.AuthorizeSecurityGroupIngressInput{
		GroupName:     aws.String(name),
		IpPermissions: ingressPermissions(vpc.CidrBlock),
	})
	if err != nil {
		return "", errors.E(fmt.Sprintf("authorize ingress for security group %s", id), err)
	}
	_, err = svc.CreateTags(&ec2.CreateTagsInput{
		Resources: []*string{aws.String(id)},
		Tags: []*ec2.Tag{
			{Key: aws.String("bigsum-sg"), Value: aws.String("true")},
			{Key: aws.String("Name"), Value: aws.String(name)},
		},
	})
	if err != nil {
		log.Error.Printf("tag security group %s: %v", id, err)
	}
	log.Printf("created security group %s", id)
	return id, nil
}

// ingressPermissions returns the inbound rules of a new security
// group: all traffic from within the VPC, and SSH and HTTPS from
// anywhere. HTTPS carries bigmachine's RPCs.
func ingressPermissions(vpcCidr *string) []*ec2.IpPermission {
	tcp := func(port int64) *ec2.IpPermission {
		return &ec2.IpPermission{
			IpProtocol: aws.String("tcp"),
			IpRanges:   []*ec2.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
			FromPort:   aws.Int64(port),
			ToPort:     aws.Int64(port),
		}
	}
	return []*ec2.IpPermission{
		{
			IpProtocol: aws.String("-1"),
			IpRanges:   []*ec2.IpRange{{CidrIp: vpcCidr}},
			FromPort:   aws.Int64(0),
			ToPort:     aws.Int64(0),
		},
		tcp(22),
		tcp(443),
	}
}

package provision

import (
	"sync"

	"github.com/oneops/oneops/internal/cloud/aws"
	"github.com/oneops/oneops/internal/sigv4"
)

// AWSClouds returns a CloudFactory that signs with creds and caches one
// client per region. Invalid credentials surface on the first call.
func AWSClouds(creds sigv4.Credentials, opts ...aws.Option) CloudFactory {
	var (
		mu      sync.Mutex
		clients = make(map[string]*aws.Client)
	)
	return func(region string) (Cloud, error) {
		mu.Lock()
		defer mu.Unlock()
		if c, ok := clients[region]; ok {
			return c, nil
		}
		signer, err := sigv4.New(creds)
		if err != nil {
			return nil, err
		}
		c, err := aws.New(signer, region, opts...)
		if err != nil {
			return nil, err
		}
		clients[region] = c
		return c, nil
	}
}

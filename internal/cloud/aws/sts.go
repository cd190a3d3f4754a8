package aws

import "context"

const stsVersion = "2011-06-15"

// Identity is the caller behind the signing credentials.
type Identity struct {
	Account string `xml:"GetCallerIdentityResult>Account" json:"account"`
	Arn     string `xml:"GetCallerIdentityResult>Arn" json:"arn"`
	UserID  string `xml:"GetCallerIdentityResult>UserId" json:"user_id"`
}

// GetCallerIdentity resolves the account id of the credentials.
func (c *Client) GetCallerIdentity(ctx context.Context) (Identity, error) {
	var out Identity
	err := c.callQuery(ctx, serviceSTS, stsVersion, "GetCallerIdentity", nil, &out)
	return out, err
}

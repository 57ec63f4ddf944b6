package tesla

import (
	"context"
	"net/url"
)

// AuthorizeURL 构造带 PKCE 的授权地址
func (c *Client) AuthorizeURL(state, codeChallenge string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", c.opts.ClientID)
	q.Set("redirect_uri", c.opts.RedirectURI)
	q.Set("scope", c.opts.Scopes)
	q.Set("state", state)
	q.Set("code_challenge", codeChallenge)
	q.Set("code_challenge_method", "S256")
	return c.opts.AuthHost + "/oauth2/v3/authorize?" + q.Encode()
}

// ExchangeCode 用授权码和 code_verifier 换取令牌
func (c *Client) ExchangeCode(ctx context.Context, code, codeVerifier string) (*Token, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("client_id", c.opts.ClientID)
	data.Set("client_secret", c.opts.ClientSecret)
	data.Set("code", code)
	data.Set("code_verifier", codeVerifier)
	data.Set("redirect_uri", c.opts.RedirectURI)
	if c.opts.Audience != "" {
		data.Set("audience", c.opts.Audience)
	}
	return c.postToken(ctx, data)
}

// RefreshToken 刷新访问令牌
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("client_id", c.opts.ClientID)
	data.Set("client_secret", c.opts.ClientSecret)
	data.Set("refresh_token", refreshToken)
	if c.opts.Audience != "" {
		data.Set("audience", c.opts.Audience)
	}
	return c.postToken(ctx, data)
}

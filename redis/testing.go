package redis

import "github.com/redis/rueidis"

// NewClientForTest wraps an existing rueidis client, typically a mock.
func NewClientForTest(c rueidis.Client) *Client {
	return wrap(c)
}

package client

import "net/url"

type requestOptions struct {
	binary  bool
	query   url.Values
	headers map[string]string
}

// Option adjusts a single request.
type Option func(*requestOptions)

// WithBinary skips envelope normalization and returns the raw response body,
// for file-style downloads whose bodies must never be probed as JSON.
func WithBinary() Option {
	return func(o *requestOptions) { o.binary = true }
}

// WithQuery sets the request's query string.
func WithQuery(q url.Values) Option {
	return func(o *requestOptions) { o.query = q }
}

// WithHeader adds a request header.
func WithHeader(key, value string) Option {
	return func(o *requestOptions) {
		if o.headers == nil {
			o.headers = make(map[string]string)
		}
		o.headers[key] = value
	}
}

func buildOptions(opts []Option) requestOptions {
	var o requestOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

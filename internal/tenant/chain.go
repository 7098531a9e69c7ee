package tenant

import (
	"context"
	"strings"
)

// Source names the signal a tenant id was taken from.
type Source string

const (
	SourceNone     Source = ""
	SourceHeader   Source = "header"
	SourceQuery    Source = "query"
	SourceMetadata Source = "metadata"
	SourcePhone    Source = "phone"
)

// HeaderName and QueryParam are the explicit tenant signals on inbound requests.
const (
	HeaderName = "X-Restaurant-Id"
	QueryParam = "restaurant_id"
)

// Signals are the candidate tenant identifiers carried by one request.
type Signals struct {
	Header   string
	Query    string
	Metadata string
	Phone    string
}

// PhoneResolver is satisfied by *Resolver.
type PhoneResolver interface {
	Resolve(ctx context.Context, phone string) (string, bool)
}

// Chain picks a tenant id from Signals in fixed priority order:
// header, query parameter, request metadata, phone lookup.
type Chain struct {
	phones PhoneResolver
}

func NewChain(phones PhoneResolver) *Chain {
	return &Chain{phones: phones}
}

// Resolve returns the first non-empty candidate. Values are never merged.
func (c *Chain) Resolve(ctx context.Context, s Signals) (string, Source) {
	if v := strings.TrimSpace(s.Header); v != "" {
		return v, SourceHeader
	}
	if v := strings.TrimSpace(s.Query); v != "" {
		return v, SourceQuery
	}
	if v := strings.TrimSpace(s.Metadata); v != "" {
		return v, SourceMetadata
	}
	if c.phones != nil && strings.TrimSpace(s.Phone) != "" {
		if v, ok := c.phones.Resolve(ctx, s.Phone); ok {
			return v, SourcePhone
		}
	}
	return "", SourceNone
}

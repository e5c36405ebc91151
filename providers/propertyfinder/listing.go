package propertyfinder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-leadrelay/core"
	"github.com/goliatone/go-leadrelay/transport"
)

const listingCacheKeyPrefix = "leadrelay::listing::v1"

type tokenInvalidator interface {
	Invalidate(upstream core.Upstream)
}

// ListingEnricher fetches listing details by id. When a cache service is
// configured, successful lookups are reused for the cache TTL.
type ListingEnricher struct {
	client     transport.Client
	tokens     core.TokenSource
	listingURL string
	cache      repositorycache.CacheService
}

func NewListingEnricher(
	client transport.Client,
	tokens core.TokenSource,
	cfg core.SourceConfig,
	cacheService repositorycache.CacheService,
) (*ListingEnricher, error) {
	if client == nil {
		return nil, fmt.Errorf("propertyfinder: transport client is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("propertyfinder: token source is required")
	}
	listingURL := strings.TrimRight(strings.TrimSpace(cfg.ListingURL), "/")
	if listingURL == "" {
		return nil, fmt.Errorf("propertyfinder: listing url is required")
	}
	return &ListingEnricher{
		client:     client,
		tokens:     tokens,
		listingURL: listingURL,
		cache:      cacheService,
	}, nil
}

func ListingCacheKey(listingID string) string {
	return listingCacheKeyPrefix + "::" + url.PathEscape(strings.TrimSpace(listingID))
}

func (e *ListingEnricher) FetchListing(ctx context.Context, listingID string) (core.Enrichment, error) {
	listingID = strings.TrimSpace(listingID)
	if listingID == "" {
		return core.Enrichment{}, fmt.Errorf("propertyfinder: listing id is required")
	}
	if e.cache == nil {
		return e.fetch(ctx, listingID)
	}
	return repositorycache.GetOrFetch(ctx, e.cache, ListingCacheKey(listingID), func(ctx context.Context) (core.Enrichment, error) {
		return e.fetch(ctx, listingID)
	})
}

func (e *ListingEnricher) fetch(ctx context.Context, listingID string) (core.Enrichment, error) {
	token, err := e.tokens.Token(ctx, core.UpstreamSource)
	if err != nil {
		return core.Enrichment{}, err
	}
	res, err := e.client.Do(ctx, transport.Request{
		Method: http.MethodGet,
		URL:    e.listingURL + "/" + url.PathEscape(listingID),
		Headers: map[string]string{
			"Authorization": "Bearer " + token,
			"Accept":        "application/json",
		},
	})
	if err != nil {
		return core.Enrichment{}, err
	}
	if res.StatusCode == http.StatusUnauthorized {
		if invalidator, ok := e.tokens.(tokenInvalidator); ok {
			invalidator.Invalidate(core.UpstreamSource)
		}
	}
	if !res.Success() {
		return core.Enrichment{}, goerrors.New(
			fmt.Sprintf("propertyfinder: listing lookup returned %d", res.StatusCode),
			goerrors.CategoryExternal,
		).WithCode(http.StatusBadGateway).WithMetadata(map[string]any{
			"listing_id":  listingID,
			"status_code": res.StatusCode,
		})
	}
	return ParseListing(res.Body)
}

// ParseListing maps a listing document onto Enrichment. The document may be
// wrapped in a "data" object; fields it lacks stay blank.
func ParseListing(body []byte) (core.Enrichment, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	doc := map[string]any{}
	if err := decoder.Decode(&doc); err != nil {
		return core.Enrichment{}, fmt.Errorf("propertyfinder: decode listing: %w", err)
	}
	if data, ok := doc["data"].(map[string]any); ok {
		doc = data
	}
	return core.Enrichment{
		PropertyType: lookupString(doc, "propertyType", "type", "category"),
		ProjectName:  lookupString(doc, "projectName", "project.name", "project.title"),
		Title:        lookupString(doc, "title.en", "title"),
		Location:     lookupString(doc, "location.fullName", "location.name", "location.path", "location"),
		Price:        lookupString(doc, "price.value", "price.amounts.sale", "price.amounts.yearly", "price.amount", "price"),
		Bedrooms:     lookupString(doc, "bedrooms", "bedroom"),
		Size:         lookupString(doc, "size.value", "size"),
	}, nil
}

func lookupString(doc map[string]any, paths ...string) string {
	for _, path := range paths {
		if value := stringify(lookupPath(doc, path)); value != "" {
			return value
		}
	}
	return ""
}

func lookupPath(doc map[string]any, path string) any {
	var current any = doc
	for _, segment := range strings.Split(path, ".") {
		object, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = object[segment]
		if !ok {
			return nil
		}
	}
	return current
}

func stringify(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return typed.String()
	case bool:
		if typed {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

var _ core.ListingEnricher = (*ListingEnricher)(nil)

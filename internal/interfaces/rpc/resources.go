package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/recallhq/recall-server/internal/domain/vault"
	"github.com/recallhq/recall-server/internal/platformerrors"
)

// ResourceProvider backs the resources/* methods.
type ResourceProvider interface {
	List() []ResourceDescriptor
	Read(ctx context.Context, uri string) ([]ResourceContents, error)
}

const (
	resourceScheme   = "vault"
	resourceMimeType = "application/json"
)

// VaultResources exposes saved conversations as readable resources under
// vault://{ownerId}/conversations URIs.
type VaultResources struct {
	service *vault.Service
}

func NewVaultResources(service *vault.Service) *VaultResources {
	return &VaultResources{service: service}
}

func (r *VaultResources) List() []ResourceDescriptor {
	return []ResourceDescriptor{
		{
			URI:         "vault://{ownerId}/conversations",
			Name:        "Saved conversations",
			Description: "Most recent saved conversations for a user, newest first",
			MimeType:    resourceMimeType,
		},
		{
			URI:         "vault://{ownerId}/conversations/{conversationId}",
			Name:        "Saved conversation",
			Description: "One saved conversation with its full transcript",
			MimeType:    resourceMimeType,
		},
	}
}

func (r *VaultResources) Read(ctx context.Context, uri string) ([]ResourceContents, error) {
	parsed, err := url.Parse(uri)
	if err != nil || parsed.Scheme != resourceScheme || parsed.Host == "" {
		return nil, platformerrors.Validation(fmt.Sprintf("invalid resource uri: %s", uri))
	}
	ownerID := parsed.Host
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")

	var payload any
	switch {
	case len(segments) == 1 && segments[0] == "conversations":
		page, err := r.service.List(ctx, ownerID, 0, defaultPageSize, "")
		if err != nil {
			return nil, err
		}
		payload = toPageView(page)
	case len(segments) == 2 && segments[0] == "conversations":
		rec, err := r.service.Get(ctx, ownerID, segments[1])
		if err != nil {
			return nil, err
		}
		payload = toChatView(*rec)
	default:
		return nil, platformerrors.NotFound(fmt.Sprintf("resource not found: %s", uri))
	}

	text, err := json.Marshal(payload)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.LayerDispatch, platformerrors.ErrorTypeInternal, "encode resource", err)
	}
	return []ResourceContents{{URI: uri, MimeType: resourceMimeType, Text: string(text)}}, nil
}

package grpcserver

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"

	"github.com/and161185/agentproof/internal/model"
)

// APIKeyHeader is the metadata key carrying the relying-party API key.
const APIKeyHeader = "x-api-key"

type ctxKey string

const platformKey ctxKey = "ap.platform"

// WithPlatform stores the authenticated platform in context.
func WithPlatform(ctx context.Context, p *model.Platform) context.Context {
	return context.WithValue(ctx, platformKey, p)
}

// PlatformFromCtx fetches the authenticated platform from context.
func PlatformFromCtx(ctx context.Context) (*model.Platform, bool) {
	p, ok := ctx.Value(platformKey).(*model.Platform)
	return p, ok && p != nil
}

func apiKeyFromMD(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get(APIKeyHeader) {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

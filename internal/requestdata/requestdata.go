package requestdata

import (
	"context"

	"github.com/google/uuid"
)

var requestDataKey = struct{}{}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	val := ctx.Value(requestDataKey)
	if rd, ok := val.(*RequestData); ok {
		return rd
	}
	return nil
}

// RequestData is the verified caller identity attached by the auth
// middleware: who is asking and which tenant they belong to.
type RequestData struct {
	TokenString string
	UserID      uuid.UUID
	CompanyID   uuid.UUID
	Role        string
}

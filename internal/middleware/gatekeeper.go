package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/citygrid-api/internal/dto"
	"github.com/noah-isme/citygrid-api/internal/models"
	"github.com/noah-isme/citygrid-api/internal/service"
	appErrors "github.com/noah-isme/citygrid-api/pkg/errors"
	"github.com/noah-isme/citygrid-api/pkg/logger"
	"github.com/noah-isme/citygrid-api/pkg/response"
)

// Context keys published by Authenticate and Guard.
const (
	ContextClaimsKey  = "accessClaims"
	ContextAccountKey = "account"
)

// DeviceIDHeader carries the client-chosen device identifier used in fingerprints.
const DeviceIDHeader = "X-Device-ID"

const maxGuardedBody = 1 << 20

// RouteSpec describes what a guarded route touches. Body fields name JSON
// properties of the request body used to resolve the target zone.
type RouteSpec struct {
	Module         models.Module
	Action         models.Action
	AssetParam     string
	BodyAssetField string
	BodyZoneField  string
}

// ClientContext extracts network origin details of the request.
func ClientContext(c *gin.Context) dto.ClientContext {
	return dto.ClientContext{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		DeviceID:  c.GetHeader(DeviceIDHeader),
		Endpoint:  c.Request.URL.Path,
		Method:    c.Request.Method,
	}
}

// Authenticate requires a valid bearer token for an unlocked account.
func Authenticate(gk *service.Gatekeeper) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := &service.AccessRequest{Token: bearerToken(c), Client: ClientContext(c)}
		decision := gk.Evaluate(c.Request.Context(), req, gk.IdentityChain())
		if !decision.Allowed {
			response.Abort(c, decision.Err)
			return
		}
		publish(c, req)
		c.Next()
	}
}

// Guard runs the read chain for read routes and the write chain otherwise.
func Guard(gk *service.Gatekeeper, route RouteSpec) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := &service.AccessRequest{
			Token:  bearerToken(c),
			Module: route.Module,
			Action: route.Action,
			Client: ClientContext(c),
		}
		if route.AssetParam != "" {
			req.PathAssetID = c.Param(route.AssetParam)
		}
		if route.BodyAssetField != "" || route.BodyZoneField != "" {
			fields, err := peekBody(c)
			if err != nil {
				response.Abort(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
				return
			}
			req.BodyAssetID = stringField(fields, route.BodyAssetField)
			req.BodyZone = stringField(fields, route.BodyZoneField)
		}

		chain := gk.WriteChain()
		if route.Action == models.ActionRead {
			chain = gk.ReadChain()
		}
		decision := gk.Evaluate(c.Request.Context(), req, chain)
		if !decision.Allowed {
			response.Abort(c, decision.Err)
			return
		}
		publish(c, req)
		c.Next()
	}
}

func publish(c *gin.Context, req *service.AccessRequest) {
	c.Set(ContextClaimsKey, req.Claims)
	c.Set(ContextAccountKey, req.Account)
	c.Set(logger.ActorKey, req.Account.ID)
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// peekBody decodes the JSON body and puts it back for the handler.
func peekBody(c *gin.Context) (map[string]json.RawMessage, error) {
	if c.Request.Body == nil {
		return nil, nil
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxGuardedBody))
	if err != nil {
		return nil, err
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func stringField(fields map[string]json.RawMessage, name string) string {
	if name == "" {
		return ""
	}
	raw, ok := fields[name]
	if !ok {
		return ""
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return ""
	}
	return value
}

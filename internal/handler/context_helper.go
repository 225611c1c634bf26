package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/citygrid-api/internal/middleware"
	"github.com/noah-isme/citygrid-api/internal/service"
)

func actorFromContext(c *gin.Context) (service.Actor, bool) {
	account := middleware.CurrentAccount(c)
	if account == nil {
		return service.Actor{}, false
	}
	return service.Actor{AccountID: account.ID, Username: account.Username, Zone: account.Zone}, true
}

package echo

import (
	"strings"

	"github.com/labstack/echo/v4"

	domain "github.com/openassoc/account-provisioning/internal/domain/provisioning"
)

const (
	principalEmailHeader = "X-Acting-User"
	principalRolesHeader = "X-Acting-Roles"
)

// actingPrincipal reads the authenticated principal the gateway put on
// the request. Every operation requires one: there is no ambient or
// implicit actor.
func actingPrincipal(c echo.Context) (domain.Principal, bool) {
	email := strings.TrimSpace(c.Request().Header.Get(principalEmailHeader))
	if email == "" {
		return domain.Principal{}, false
	}

	var roles []string
	for _, role := range strings.Split(c.Request().Header.Get(principalRolesHeader), ",") {
		role = strings.TrimSpace(role)
		if role != "" {
			roles = append(roles, role)
		}
	}
	return domain.Principal{Email: email, Roles: roles}, true
}

package auth

import (
	"strconv"
	"strings"

	"courier-backend/internal/models"

	"github.com/gofiber/fiber/v2"
)

const (
	CtxUserIDKey   = "user_id"
	CtxUserRoleKey = "user_role"
	CtxBranchIDKey = "branch_id"
)

func JWTMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "Authorization header eksik")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return fiber.NewError(fiber.StatusUnauthorized, "Authorization formatı 'Bearer <token>' olmalı")
		}

		claims, err := ParseToken(secret, parts[1])
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Geçersiz veya süresi dolmuş token")
		}

		c.Locals(CtxUserIDKey, claims.UserID)
		c.Locals(CtxUserRoleKey, claims.Role)
		c.Locals(CtxBranchIDKey, claims.BranchID)

		return c.Next()
	}
}

func RequireRole(allowedRoles ...models.UserRole) fiber.Handler {
	return func(c *fiber.Ctx) error {
		roleVal := c.Locals(CtxUserRoleKey)
		role, ok := roleVal.(models.UserRole)
		if !ok {
			return fiber.NewError(fiber.StatusForbidden, "Rol bilgisi alınamadı")
		}

		for _, r := range allowedRoles {
			if r == role {
				return c.Next()
			}
		}
		return fiber.NewError(fiber.StatusForbidden, "Bu işlem için yetkiniz yok")
	}
}

// Actor is the acting user as carried by the token.
type Actor struct {
	UserID   uint
	Role     models.UserRole
	BranchID *uint
}

func CurrentActor(c *fiber.Ctx) (Actor, error) {
	userID, ok := c.Locals(CtxUserIDKey).(uint)
	if !ok {
		return Actor{}, fiber.NewError(fiber.StatusUnauthorized, "Kullanıcı bilgisi alınamadı")
	}
	role, ok := c.Locals(CtxUserRoleKey).(models.UserRole)
	if !ok {
		return Actor{}, fiber.NewError(fiber.StatusUnauthorized, "Rol bilgisi alınamadı")
	}
	branchID, _ := c.Locals(CtxBranchIDKey).(*uint)
	return Actor{UserID: userID, Role: role, BranchID: branchID}, nil
}

// ResolveBranch returns the branch the actor is acting for. Branch-bound users
// always act for their own branch; super admins must name one explicitly.
func ResolveBranch(actor Actor, requested *uint) (uint, error) {
	if actor.Role == models.RoleSuperAdmin {
		if requested == nil || *requested == 0 {
			return 0, fiber.NewError(fiber.StatusBadRequest, "super_admin için branch_id zorunludur")
		}
		return *requested, nil
	}
	if actor.BranchID == nil {
		return 0, fiber.NewError(fiber.StatusForbidden, "Kullanıcıya şube atanmamış")
	}
	return *actor.BranchID, nil
}

// ActingBranch resolves the branch from the `branch_id` query parameter or the token.
func ActingBranch(c *fiber.Ctx) (Actor, uint, error) {
	actor, err := CurrentActor(c)
	if err != nil {
		return Actor{}, 0, err
	}
	var requested *uint
	if raw := c.Query("branch_id"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return Actor{}, 0, fiber.NewError(fiber.StatusBadRequest, "Geçersiz branch_id")
		}
		id := uint(v)
		requested = &id
	}
	branchID, err := ResolveBranch(actor, requested)
	return actor, branchID, err
}
